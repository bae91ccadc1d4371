// Package client calls registered services: discover → pick → encode → send.
//
//	Call(ctx, "Arith.Add", args, reply)
//	  → registry.Discover("Arith") → balancer.Pick(instances, affinity key)
//	  → TryMap(codec.Encode) → transport.Send(instance.Endpoint("Arith.Add"))
//	  → codec.Decode(reply.Payload, reply)
package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"h2rpc/codec"
	"h2rpc/loadbalance"
	"h2rpc/logging"
	"h2rpc/message"
	"h2rpc/metadata"
	"h2rpc/registry"
	"h2rpc/request"
	"h2rpc/transport"
)

// ServerError is a failure reported by the remote handler.
type ServerError struct {
	ServiceMethod string
	Message       string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

type Client struct {
	registry  registry.Registry // find service instances
	balancer  loadbalance.Balancer
	transport *transport.ClientTransport
	codec     codec.Codec
	attempts  uint
	delay     time.Duration
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry makes up to attempts tries per call, re-picking the instance each
// time. Only transport failures are retried; handler errors are final.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		if attempts == 0 {
			attempts = 1
		}
		c.attempts, c.delay = attempts, delay
	}
}

// NewClient builds a client that serializes with codecType.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, opts ...Option) (*Client, error) {
	cdc, err := codec.Get(codecType)
	if err != nil {
		return nil, err
	}
	c := &Client{
		registry: reg,
		balancer: bal,
		codec:    cdc,
		attempts: 1,
		delay:    50 * time.Millisecond,
		logger:   logging.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = transport.NewClientTransport(codecType, transport.WithLogger(c.logger))
	return c, nil
}

// Call invokes serviceMethod with args and decodes the result into reply.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	_, err := c.Invoke(ctx, serviceMethod, request.New(args), reply)
	return err
}

// Invoke is Call with caller-supplied headers and extensions. It consumes req
// and returns the response headers.
func (c *Client) Invoke(ctx context.Context, serviceMethod string, req *request.Request[any], reply any) (http.Header, error) {
	serviceName, _, ok := strings.Cut(serviceMethod, ".")
	if !ok || serviceName == "" {
		req.IntoMessage()
		return nil, errors.Errorf("invalid serviceMethod format: %v", serviceMethod)
	}

	encoded, err := request.TryMap(req, c.codec.Encode)
	if err != nil {
		return nil, errors.Wrap(err, "encode args")
	}
	affinity := encoded.Header().Get(metadata.AffinityKey)

	resp, err := retry.DoWithData(
		func() (*message.Reply, error) {
			instances, err := c.registry.Discover(serviceName)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			instance, err := c.balancer.Pick(instances, affinity)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			attempt := encoded.Clone()
			// the budget left after earlier attempts and backoff
			if deadline, ok := ctx.Deadline(); ok {
				metadata.SetTimeout(attempt.Header(), time.Until(deadline))
			}
			return c.transport.Send(ctx, instance.Endpoint(serviceMethod), attempt)
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(transport.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("retrying call",
				zap.String("method", serviceMethod),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	encoded.IntoMessage()
	if err != nil {
		return nil, err
	}

	if resp.Error != "" {
		return resp.Header, &ServerError{ServiceMethod: serviceMethod, Message: resp.Error}
	}
	if reply != nil {
		if err := c.codec.Decode(resp.Payload, reply); err != nil {
			return resp.Header, errors.Wrap(err, "decode reply")
		}
	}
	return resp.Header, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.transport.Close()
}
