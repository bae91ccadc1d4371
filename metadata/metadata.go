// Package metadata names the header fields h2rpc puts on the wire and maps
// request headers onto gRPC-style metadata for handlers.
package metadata

import (
	"net/http"
	"strconv"
	"time"

	grpcmd "google.golang.org/grpc/metadata"
)

const (
	// ContentType is the media type of a framed h2rpc body.
	ContentType = "application/h2rpc"

	ContentTypeKey = "Content-Type"
	// TimeoutKey carries the caller's remaining budget in milliseconds.
	TimeoutKey = "H2rpc-Timeout"
	// ErrorKey carries the handler error text on a response.
	ErrorKey = "H2rpc-Error"
	// AffinityKey selects the instance under consistent-hash balancing.
	AffinityKey  = "H2rpc-Affinity-Key"
	RequestIDKey = "X-Request-Id"
)

// hopHeaders are transport framing, not caller metadata.
var hopHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Type":      true,
	"Connection":        true,
	"Te":                true,
	"Transfer-Encoding": true,
	"Accept-Encoding":   true,
	"User-Agent":        true,
}

// SetTimeout records d on h. Non-positive durations are written as 0.
func SetTimeout(h http.Header, d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	h.Set(TimeoutKey, strconv.FormatInt(ms, 10))
}

// Timeout parses the value written by SetTimeout.
func Timeout(h http.Header) (time.Duration, bool) {
	raw := h.Get(TimeoutKey)
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// ToMD converts caller headers into gRPC metadata. Keys are lowercased and
// transport framing headers are skipped.
func ToMD(h http.Header) grpcmd.MD {
	md := grpcmd.MD{}
	for k, vs := range h {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		md.Append(k, vs...)
	}
	return md
}

// FromMD converts gRPC metadata into an http.Header.
func FromMD(md grpcmd.MD) http.Header {
	h := make(http.Header, len(md))
	for k, vs := range md {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}
