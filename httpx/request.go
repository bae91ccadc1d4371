// Package httpx provides a generic HTTP request value whose body is any Go type.
//
// net/http models the body as an io.ReadCloser, which is the right shape for a
// transport but the wrong one for an RPC layer that wants to hold a decoded
// message. Request[T] keeps the request head (method, target URI, protocol
// version, header and extensions) next to a typed body, and ToStd/FromStd bridge
// it to *http.Request once the body has been serialized.
package httpx

import (
	"fmt"
	"net/http"
	"net/url"

	"h2rpc/extensions"
)

// Version is the HTTP protocol version of a request.
type Version int

const (
	HTTP10 Version = iota + 1
	HTTP11
	HTTP2
	HTTP3
)

// VersionOf maps a ProtoMajor/ProtoMinor pair onto a Version. Unknown pairs
// report HTTP11.
func VersionOf(major, minor int) Version {
	switch {
	case major == 1 && minor == 0:
		return HTTP10
	case major == 2:
		return HTTP2
	case major == 3:
		return HTTP3
	default:
		return HTTP11
	}
}

// Proto returns the major and minor numbers used by net/http.
func (v Version) Proto() (major, minor int) {
	switch v {
	case HTTP10:
		return 1, 0
	case HTTP2:
		return 2, 0
	case HTTP3:
		return 3, 0
	default:
		return 1, 1
	}
}

func (v Version) String() string {
	major, minor := v.Proto()
	return fmt.Sprintf("HTTP/%d.%d", major, minor)
}

// Parts is the head of a request: everything except the body.
type Parts struct {
	Method     string
	URI        *url.URL
	Version    Version
	Header     http.Header
	Extensions *extensions.Extensions
}

// Request is an HTTP request carrying a body of type T.
type Request[T any] struct {
	Parts
	Body T
}

// New returns a GET request for "/" over HTTP/1.1 with empty header and
// extensions.
func New[T any](body T) *Request[T] {
	return &Request[T]{
		Parts: Parts{
			Method:     http.MethodGet,
			URI:        &url.URL{Path: "/"},
			Version:    HTTP11,
			Header:     make(http.Header),
			Extensions: extensions.New(),
		},
		Body: body,
	}
}

// FromParts assembles a request from a head and a body.
func FromParts[T any](parts Parts, body T) *Request[T] {
	return &Request[T]{Parts: parts, Body: body}
}

// IntoParts moves the head and body out of r and leaves r zeroed, so the
// header map and extensions are no longer reachable through it.
func (r *Request[T]) IntoParts() (Parts, T) {
	parts, body := r.Parts, r.Body
	*r = Request[T]{}
	return parts, body
}
