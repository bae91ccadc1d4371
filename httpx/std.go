package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"h2rpc/extensions"
)

// ErrBodyTooLarge is returned by FromStd when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("httpx: request body too large")

// ToStd converts r into a *http.Request bound to ctx. The request extensions
// travel in the context and can be recovered with extensions.FromContext.
func ToStd(ctx context.Context, r *Request[[]byte]) (*http.Request, error) {
	if r.URI == nil {
		return nil, errors.New("httpx: request has no target URI")
	}
	if r.Extensions != nil {
		ctx = extensions.NewContext(ctx, r.Extensions)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URI.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, errors.Wrap(err, "httpx: build request")
	}
	req.ProtoMajor, req.ProtoMinor = r.Version.Proto()
	req.Proto = r.Version.String()
	if r.Header != nil {
		req.Header = r.Header
	}
	return req, nil
}

// FromStd reads req's body fully (at most maxBody bytes, unlimited when
// maxBody <= 0) and returns the equivalent Request. Extensions are taken from
// the request context when present, otherwise a fresh collection is used.
func FromStd(req *http.Request, maxBody int64) (*Request[[]byte], error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		reader := io.Reader(req.Body)
		if maxBody > 0 {
			reader = io.LimitReader(req.Body, maxBody+1)
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return nil, errors.Wrap(err, "httpx: read body")
		}
		if maxBody > 0 && int64(len(b)) > maxBody {
			return nil, ErrBodyTooLarge
		}
		body = b
	}

	ext, ok := extensions.FromContext(req.Context())
	if !ok {
		ext = extensions.New()
	}
	header := req.Header
	if header == nil {
		header = make(http.Header)
	}

	return FromParts(Parts{
		Method:     req.Method,
		URI:        req.URL,
		Version:    VersionOf(req.ProtoMajor, req.ProtoMinor),
		Header:     header,
		Extensions: ext,
	}, body), nil
}
