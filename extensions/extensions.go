// Package extensions implements a type-keyed side channel for per-request context.
//
// An Extensions value stores at most one value per Go type. The type parameter
// used at the call site is the key, so Insert[time.Duration] and Get[time.Duration]
// address the same slot while Get[int64] does not:
//
//	ext := extensions.New()
//	extensions.Insert(ext, Deadline{At: t})
//	d, ok := extensions.Get[Deadline](ext)
//
// Go methods cannot carry type parameters, so the typed accessors are package
// functions taking the collection as their first argument.
package extensions

import (
	"context"
	"reflect"
)

// Extensions is a heterogeneous map keyed by type. The zero value is empty and
// ready to use. It is not safe for concurrent use.
type Extensions struct {
	m map[reflect.Type]any
}

// New returns an empty collection.
func New() *Extensions {
	return &Extensions{}
}

func keyOf[V any]() reflect.Type {
	return reflect.TypeOf((*V)(nil)).Elem()
}

// Insert stores v under its type V. If a value of the same type was already
// present it is replaced and returned with replaced=true.
func Insert[V any](e *Extensions, v V) (prev V, replaced bool) {
	if e.m == nil {
		e.m = make(map[reflect.Type]any)
	}
	k := keyOf[V]()
	if old, ok := e.m[k]; ok {
		prev, replaced = old.(V)
	}
	e.m[k] = v
	return prev, replaced
}

// Get returns the value stored for type V.
func Get[V any](e *Extensions) (V, bool) {
	var zero V
	if e == nil || e.m == nil {
		return zero, false
	}
	v, ok := e.m[keyOf[V]()]
	if !ok {
		return zero, false
	}
	// a nil stored under an interface type fails the assertion and yields zero
	typed, _ := v.(V)
	return typed, true
}

// Remove deletes and returns the value stored for type V.
func Remove[V any](e *Extensions) (V, bool) {
	v, ok := Get[V](e)
	if ok {
		delete(e.m, keyOf[V]())
	}
	return v, ok
}

// Contains reports whether a value of type V is stored.
func Contains[V any](e *Extensions) bool {
	_, ok := Get[V](e)
	return ok
}

// Len returns the number of stored values.
func (e *Extensions) Len() int {
	if e == nil {
		return 0
	}
	return len(e.m)
}

func (e *Extensions) IsEmpty() bool {
	return e.Len() == 0
}

// Clear removes every value.
func (e *Extensions) Clear() {
	if e == nil {
		return
	}
	clear(e.m)
}

// Extend copies every value of other into e. Values from other win on collision.
func (e *Extensions) Extend(other *Extensions) {
	if other.Len() == 0 {
		return
	}
	if e.m == nil {
		e.m = make(map[reflect.Type]any, len(other.m))
	}
	for k, v := range other.m {
		e.m[k] = v
	}
}

// Clone returns a new collection holding the same values. Values themselves are
// copied by assignment, so pointer values are shared.
func (e *Extensions) Clone() *Extensions {
	c := New()
	c.Extend(e)
	return c
}

// Types lists the keys currently stored, in no particular order.
func (e *Extensions) Types() []reflect.Type {
	if e == nil {
		return nil
	}
	types := make([]reflect.Type, 0, len(e.m))
	for k := range e.m {
		types = append(types, k)
	}
	return types
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying e. Used to move extensions through
// net/http, whose request type has no slot for them.
func NewContext(ctx context.Context, e *Extensions) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the collection attached by NewContext.
func FromContext(ctx context.Context) (*Extensions, bool) {
	e, ok := ctx.Value(ctxKey{}).(*Extensions)
	return e, ok && e != nil
}
