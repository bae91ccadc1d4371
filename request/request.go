// Package request defines the envelope an RPC message travels in.
//
// A Request[T] holds one typed message together with the header and extension
// collections that accompany it over the wire. It converts losslessly to and
// from an httpx.Request[T] so a strongly typed message can cross a generic
// HTTP/2 transport without losing caller-supplied metadata:
//
//	req := request.New(&Args{A: 1, B: 2})
//	req.Header().Set("x-trace-id", "abc")
//	extensions.Insert(req.Extensions(), Deadline{...})
//	wire := req.IntoHTTP(target) // POST, HTTP/2, header and extensions moved
//
// A Request has a single owner. IntoMessage, IntoHTTP, Map and TryMap consume
// it: the value is cleared and every later method call panics.
package request

import (
	"fmt"
	"net/http"
	"net/url"

	"h2rpc/extensions"
	"h2rpc/httpx"
)

// Request is the envelope for a message of type T. Not safe for concurrent use.
type Request[T any] struct {
	header     http.Header
	extensions *extensions.Extensions
	message    T
	consumed   bool
}

// New wraps message with an empty header and extension collection.
func New[T any](message T) *Request[T] {
	return &Request[T]{
		header:     make(http.Header),
		extensions: extensions.New(),
		message:    message,
	}
}

// FromHTTP decomposes req into an envelope. Method, target URI and protocol
// version are dropped; header, extensions and body are moved in as-is and req
// is left zeroed.
func FromHTTP[T any](req *httpx.Request[T]) *Request[T] {
	parts, body := req.IntoParts()
	r := &Request[T]{message: body}
	r.SetHeader(parts.Header)
	r.SetExtensions(parts.Extensions)
	return r
}

func (r *Request[T]) live(op string) {
	if r.consumed {
		panic(fmt.Sprintf("request: %s called on a consumed Request[%T]", op, r.message))
	}
}

// consume marks r as spent and clears it so nothing stays reachable through it.
func (r *Request[T]) consume(op string) (http.Header, *extensions.Extensions, T) {
	r.live(op)
	header, ext, msg := r.header, r.extensions, r.message
	var zero T
	r.header, r.extensions, r.message = nil, nil, zero
	r.consumed = true
	return header, ext, msg
}

// Consumed reports whether r has been consumed.
func (r *Request[T]) Consumed() bool {
	return r.consumed
}

// Message returns a copy of the message.
func (r *Request[T]) Message() T {
	r.live("Message")
	return r.message
}

// MessagePtr returns a pointer to the message for in-place mutation.
func (r *Request[T]) MessagePtr() *T {
	r.live("MessagePtr")
	return &r.message
}

// Header returns the header collection. The map is the envelope's own, so
// Set/Add/Del on it mutate the envelope.
func (r *Request[T]) Header() http.Header {
	r.live("Header")
	return r.header
}

// SetHeader replaces the header collection. A nil header is stored as empty.
func (r *Request[T]) SetHeader(h http.Header) {
	r.live("SetHeader")
	if h == nil {
		h = make(http.Header)
	}
	r.header = h
}

// Extensions returns the extension collection owned by the envelope.
func (r *Request[T]) Extensions() *extensions.Extensions {
	r.live("Extensions")
	return r.extensions
}

// SetExtensions replaces the extension collection. Nil is stored as empty.
func (r *Request[T]) SetExtensions(ext *extensions.Extensions) {
	r.live("SetExtensions")
	if ext == nil {
		ext = extensions.New()
	}
	r.extensions = ext
}

// Clone returns an independent envelope: the header map is deep-copied, the
// extension set is copied (values by assignment) and the message is copied by
// assignment.
func (r *Request[T]) Clone() *Request[T] {
	r.live("Clone")
	return &Request[T]{
		header:     r.header.Clone(),
		extensions: r.extensions.Clone(),
		message:    r.message,
	}
}

// IntoMessage consumes r and returns the message, discarding the metadata.
func (r *Request[T]) IntoMessage() T {
	_, _, msg := r.consume("IntoMessage")
	return msg
}

// IntoHTTP consumes r and returns a POST request over HTTP/2 targeting uri.
// Header and extensions are moved, not copied.
func (r *Request[T]) IntoHTTP(uri *url.URL) *httpx.Request[T] {
	header, ext, msg := r.consume("IntoHTTP")
	req := httpx.New(msg)
	req.Version = httpx.HTTP2
	req.Method = http.MethodPost
	req.URI = uri
	req.Header = header
	req.Extensions = ext
	return req
}

// Map consumes r and returns an envelope holding f(message) with the same
// header and extensions. f is called exactly once.
func Map[T, U any](r *Request[T], f func(T) U) *Request[U] {
	header, ext, msg := r.consume("Map")
	return &Request[U]{
		header:     header,
		extensions: ext,
		message:    f(msg),
	}
}

// TryMap is Map for fallible transforms such as decoding. r is consumed even
// when f fails; the error is returned as-is.
func TryMap[T, U any](r *Request[T], f func(T) (U, error)) (*Request[U], error) {
	header, ext, msg := r.consume("TryMap")
	out, err := f(msg)
	if err != nil {
		return nil, err
	}
	return &Request[U]{
		header:     header,
		extensions: ext,
		message:    out,
	}, nil
}
