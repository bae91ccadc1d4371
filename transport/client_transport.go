// Package transport sends envelopes to servers over HTTP/2 cleartext (h2c).
//
// Every call is its own HTTP/2 stream, so concurrent calls share one TCP
// connection per server without sequence numbers or a receive loop of our own.
// The http2.Transport owns the connections; its ping health check replaces a
// hand-rolled heartbeat.
//
//	goroutine-1 ──Send──┐
//	goroutine-2 ──Send──┼──→ stream 1,3,5 on one TCP conn ──→ Server
//	goroutine-3 ──Send──┘
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"h2rpc/codec"
	"h2rpc/httpx"
	"h2rpc/logging"
	"h2rpc/message"
	"h2rpc/metadata"
	"h2rpc/protocol"
	"h2rpc/request"
)

// StatusError is a transport-level rejection: the server answered with a
// non-200 status before reaching a handler.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: status %d: %s", e.Code, e.Message)
}

// ClientTransport sends framed payloads of one codec type.
type ClientTransport struct {
	h2     *http2.Transport
	codec  codec.CodecType
	logger *zap.Logger
}

// Option configures a ClientTransport.
type Option func(*ClientTransport)

func WithLogger(l *zap.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// WithHealthCheck sets how long a connection may be idle before it is pinged,
// and how long to wait for the ping ack before closing it.
func WithHealthCheck(readIdle, pingTimeout time.Duration) Option {
	return func(t *ClientTransport) {
		t.h2.ReadIdleTimeout = readIdle
		t.h2.PingTimeout = pingTimeout
	}
}

// NewClientTransport returns a transport that frames payloads as codecType.
func NewClientTransport(codecType codec.CodecType, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		h2: &http2.Transport{
			AllowHTTP: true,
			// h2c: dial plain TCP where the transport would dial TLS
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     15 * time.Second,
		},
		codec:  codecType,
		logger: logging.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CodecType is the serialization the payloads passed to Send must use.
func (t *ClientTransport) CodecType() codec.CodecType {
	return t.codec
}

// Send consumes req, whose message is an already-encoded payload, posts it to
// uri and returns the server's reply. A reply with a non-empty Error is not a
// Go error; transport failures and non-200 statuses are.
func (t *ClientTransport) Send(ctx context.Context, uri *url.URL, req *request.Request[[]byte]) (*message.Reply, error) {
	framed, err := request.TryMap(req, func(payload []byte) ([]byte, error) {
		return protocol.Frame(byte(t.codec), payload)
	})
	if err != nil {
		return nil, err
	}
	framed.Header().Set(metadata.ContentTypeKey, metadata.ContentType)

	stdReq, err := httpx.ToStd(ctx, framed.IntoHTTP(uri))
	if err != nil {
		return nil, err
	}

	resp, err := t.h2.RoundTrip(stdReq)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: %s", uri.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(protocol.MaxBodyLen)+int64(protocol.HeaderSize)+1))
	if err != nil {
		return nil, errors.Wrap(err, "transport: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Message: string(body)}
	}

	_, payload, err := protocol.Unframe(body)
	if err != nil {
		return nil, errors.Wrap(err, "transport: bad response frame")
	}

	reply := &message.Reply{
		ServiceMethod: strings.TrimPrefix(uri.Path, "/"),
		Error:         resp.Header.Get(metadata.ErrorKey),
		Payload:       payload,
		Header:        resp.Header,
	}
	t.logger.Debug("reply received",
		zap.String("method", reply.ServiceMethod),
		zap.Int("bytes", len(payload)),
		zap.Bool("failed", reply.Error != ""))
	return reply, nil
}

// IsRetryable reports whether err is worth another attempt: dial failures,
// dropped connections and 503/429 rejections. Context expiry is final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusServiceUnavailable || statusErr.Code == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Close drops idle connections.
func (t *ClientTransport) Close() {
	t.h2.CloseIdleConnections()
}
