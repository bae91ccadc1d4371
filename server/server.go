// Package server implements the RPC server: service registration, a middleware
// chain, HTTP/2 cleartext serving and graceful shutdown.
//
// Request processing pipeline:
//
//	h2c stream → ServeHTTP
//	  → httpx.FromStd → request.FromHTTP (envelope: header + extensions + framed body)
//	  → attach Call / Deadline / CodecType extensions → unframe payload
//	  → Middleware Chain → businessHandler (TryMap decode → reflect.Call → encode)
//	  → frame reply → response
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	grpcmd "google.golang.org/grpc/metadata"

	"h2rpc/codec"
	"h2rpc/extensions"
	"h2rpc/httpx"
	"h2rpc/logging"
	"h2rpc/message"
	"h2rpc/metadata"
	"h2rpc/middleware"
	"h2rpc/protocol"
	"h2rpc/registry"
	"h2rpc/request"
)

// ErrInvalidServiceMethod is reported for targets not of the form "Service.Method".
var ErrInvalidServiceMethod = errors.New("rpc: invalid service method format")

// Server registers services and serves them over h2c.
type Server struct {
	mu          sync.RWMutex
	serviceMap  map[string]*service     // "Arith" → *service
	middlewares []middleware.Middleware // applied in order
	handler     middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	registryTTL int64
	maxBodySize int64
	logger      *zap.Logger
	ready       chan struct{}
	readyOnce   sync.Once
	addr        atomic.Pointer[net.Addr]

	// stateMu guards the serving lifecycle. wg.Add only happens under it
	// while closing is false, so Shutdown's Wait never overlaps an Add.
	stateMu       sync.Mutex
	httpServer    *http.Server      // set while serving
	registry      registry.Registry // nil when not using discovery
	advertiseAddr string            // address registered in the registry
	registered    []string          // services currently in the registry
	closing       bool
	wg            sync.WaitGroup // in-flight requests, for graceful shutdown
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBodySize caps the request body in bytes.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithRegistryTTL sets the lease TTL in seconds used when registering.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) { s.registryTTL = ttl }
}

// NewServer creates a server with an empty service map.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap:  make(map[string]*service),
		registryTTL: 10,
		maxBodySize: int64(protocol.MaxBodyLen) + int64(protocol.HeaderSize),
		logger:      logging.L(),
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.businessHandler
	return s
}

// Register adds a service receiver such as &Arith{}.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use appends a middleware. Call before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. If reg is non-nil every
// service is registered under advertiseAddr, which must be routable by
// clients (":8080" is not).
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		svr.markReady()
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener. It returns
// http.ErrServerClosed if Shutdown was already called.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	defer svr.markReady()

	hs, err := svr.start(listener, advertiseAddr, reg)
	if err != nil {
		listener.Close()
		return err
	}

	err = hs.Serve(listener)
	if svr.isClosing() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// start installs the http.Server and registers every service. On failure the
// server is left as if start had never run.
func (svr *Server) start(listener net.Listener, advertiseAddr string, reg registry.Registry) (*http.Server, error) {
	svr.stateMu.Lock()
	defer svr.stateMu.Unlock()

	if svr.closing {
		return nil, http.ErrServerClosed
	}
	if svr.httpServer != nil {
		return nil, errors.New("rpc: server is already serving")
	}

	h2s := &http2.Server{}
	hs := &http.Server{
		Handler:           h2c.NewHandler(svr, h2s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// lets hs.Shutdown send GOAWAY on h2c connections too
	if err := http2.ConfigureServer(hs, h2s); err != nil {
		return nil, err
	}

	if reg != nil {
		for _, serviceName := range svr.serviceNames() {
			if err := reg.Register(serviceName, registry.ServiceInstance{Addr: advertiseAddr}, svr.registryTTL); err != nil {
				svr.deregister(reg, advertiseAddr, svr.registered)
				svr.registered = nil
				return nil, err
			}
			svr.registered = append(svr.registered, serviceName)
		}
	}

	// Chain(A, B, C)(handler) → A(B(C(handler))), built once rather than per request
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	svr.httpServer = hs
	svr.registry = reg
	svr.advertiseAddr = advertiseAddr
	addr := listener.Addr()
	svr.addr.Store(&addr)

	svr.logger.Info("serving", zap.Stringer("addr", addr), zap.Strings("services", svr.serviceNames()))
	svr.markReady()
	return hs, nil
}

func (svr *Server) deregister(reg registry.Registry, advertiseAddr string, services []string) {
	for _, serviceName := range services {
		if err := reg.Deregister(serviceName, advertiseAddr); err != nil {
			svr.logger.Warn("deregister failed", zap.String("service", serviceName), zap.Error(err))
		}
	}
}

func (svr *Server) markReady() {
	svr.readyOnce.Do(func() { close(svr.ready) })
}

func (svr *Server) isClosing() bool {
	svr.stateMu.Lock()
	defer svr.stateMu.Unlock()
	return svr.closing
}

// enter admits one request unless shutdown has begun.
func (svr *Server) enter() bool {
	svr.stateMu.Lock()
	defer svr.stateMu.Unlock()
	if svr.closing {
		return false
	}
	svr.wg.Add(1)
	return true
}

// Ready is closed once the server is accepting connections, or once
// ServeListener or Shutdown has returned without serving.
func (svr *Server) Ready() <-chan struct{} {
	return svr.ready
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	if p := svr.addr.Load(); p != nil {
		return *p
	}
	return nil
}

func (svr *Server) serviceNames() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	return names
}

// ServeHTTP decomposes one HTTP/2 request into an envelope and runs it
// through the handler chain.
func (svr *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !svr.enter() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer svr.wg.Done()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get(metadata.ContentTypeKey); ct != metadata.ContentType {
		http.Error(w, "unsupported content type: "+ct, http.StatusUnsupportedMediaType)
		return
	}

	hreq, err := httpx.FromStd(r, svr.maxBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}
	env := request.FromHTTP(hreq)

	serviceMethod := strings.TrimPrefix(r.URL.Path, "/")
	extensions.Insert(env.Extensions(), message.Call{
		ServiceMethod: serviceMethod,
		RemoteAddr:    r.RemoteAddr,
		Received:      time.Now(),
	})

	ctx := r.Context()
	if timeout, ok := metadata.Timeout(env.Header()); ok {
		deadline := time.Now().Add(timeout)
		extensions.Insert(env.Extensions(), message.Deadline{At: deadline})
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	frameHeader, payload, err := protocol.Unframe(env.Message())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	codecType := codec.CodecType(frameHeader.CodecType)
	extensions.Insert(env.Extensions(), codecType)
	unframed := request.Map(env, func([]byte) []byte { return payload })

	reply := svr.handler(ctx, unframed)
	svr.writeReply(w, codecType, reply)
}

func (svr *Server) writeReply(w http.ResponseWriter, codecType codec.CodecType, reply *message.Reply) {
	body, err := protocol.Frame(byte(codecType), reply.Payload)
	if err != nil {
		svr.logger.Error("failed to frame reply", zap.String("method", reply.ServiceMethod), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	for k, vs := range reply.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set(metadata.ContentTypeKey, metadata.ContentType)
	if reply.Error != "" {
		h.Set(metadata.ErrorKey, reply.Error)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		svr.logger.Debug("failed to write reply", zap.String("method", reply.ServiceMethod), zap.Error(err))
	}
}

// Shutdown stops the server gracefully:
//  1. Refuse new requests with 503
//  2. Deregister all services (clients stop routing here)
//  3. Stop accepting and send GOAWAY on open connections
//  4. Wait for in-flight requests, up to timeout
//
// A later ServeListener returns http.ErrServerClosed.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.stateMu.Lock()
	svr.closing = true
	hs, reg, advertiseAddr, registered := svr.httpServer, svr.registry, svr.advertiseAddr, svr.registered
	svr.registered = nil
	svr.stateMu.Unlock()
	svr.markReady()

	if reg != nil {
		svr.deregister(reg, advertiseAddr, registered)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "timeout waiting for ongoing requests to finish")
		}
	}

	// closing is set, so no Add can race this Wait
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// businessHandler dispatches to the registered method. It consumes req:
// "Service.Method" → find method → TryMap(decode args) → reflect.Call → encode reply.
func (svr *Server) businessHandler(ctx context.Context, req *request.Request[[]byte]) *message.Reply {
	call, _ := extensions.Get[message.Call](req.Extensions())
	codecType, _ := extensions.Get[codec.CodecType](req.Extensions())

	serviceName, methodName, ok := strings.Cut(call.ServiceMethod, ".")
	if !ok || serviceName == "" || methodName == "" || strings.Contains(methodName, ".") {
		return message.Fail(call.ServiceMethod, ErrInvalidServiceMethod.Error())
	}

	svr.mu.RLock()
	svc := svr.serviceMap[serviceName]
	svr.mu.RUnlock()
	if svc == nil {
		return message.Fail(call.ServiceMethod, "rpc: can't find service "+serviceName)
	}
	method := svc.method[methodName]
	if method == nil {
		return message.Fail(call.ServiceMethod, "rpc: can't find method "+call.ServiceMethod)
	}

	cdc, err := codec.Get(codecType)
	if err != nil {
		return message.Fail(call.ServiceMethod, err.Error())
	}

	// handlers see caller headers as gRPC metadata and the extensions via context
	ctx = grpcmd.NewIncomingContext(ctx, metadata.ToMD(req.Header()))
	ctx = extensions.NewContext(ctx, req.Extensions())
	respHeader := make(http.Header)
	ctx = context.WithValue(ctx, responseHeaderKey{}, respHeader)

	args, err := request.TryMap(req, func(payload []byte) (reflect.Value, error) {
		argv := reflect.New(method.ArgType)
		return argv, cdc.Decode(payload, argv.Interface())
	})
	if err != nil {
		return message.Fail(call.ServiceMethod, "rpc: decode args: "+err.Error())
	}

	replyv := reflect.New(method.ReplyType)
	if methodErr := svc.Call(ctx, method, args.IntoMessage(), replyv); methodErr != nil {
		reply := message.Fail(call.ServiceMethod, methodErr.Error())
		reply.Header = respHeader
		return reply
	}

	payload, err := cdc.Encode(replyv.Interface())
	if err != nil {
		svr.logger.Error("failed to encode reply", zap.String("method", call.ServiceMethod), zap.Error(err))
		return message.Fail(call.ServiceMethod, "rpc: encode reply: "+err.Error())
	}
	return &message.Reply{
		ServiceMethod: call.ServiceMethod,
		Payload:       payload,
		Header:        respHeader,
	}
}

type responseHeaderKey struct{}

// SetHeader adds a response header from inside a service method. It reports
// false when ctx does not come from this server.
func SetHeader(ctx context.Context, key, value string) bool {
	h, ok := ctx.Value(responseHeaderKey{}).(http.Header)
	if !ok {
		return false
	}
	h.Add(key, value)
	return true
}
