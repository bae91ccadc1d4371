package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"h2rpc/codec"
	"h2rpc/loadbalance"
	"h2rpc/metadata"
	"h2rpc/middleware"
	"h2rpc/registry"
	"h2rpc/request"
	"h2rpc/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// Tag sets a response header and reports whether the call carries a deadline.
func (a *Arith) Tag(ctx context.Context, args *Args, reply *Reply) error {
	if _, ok := ctx.Deadline(); ok {
		reply.Result = 1
	}
	server.SetHeader(ctx, "X-Tagged", "yes")
	return nil
}

// Budget reports the milliseconds left on the handler's deadline.
func (a *Arith) Budget(ctx context.Context, args *Args, reply *Reply) error {
	if deadline, ok := ctx.Deadline(); ok {
		reply.Result = int(time.Until(deadline).Milliseconds())
	}
	return nil
}

type Text struct{}

func (t *Text) Upper(args *wrapperspb.StringValue, reply *wrapperspb.StringValue) error {
	reply.Value = strings.ToUpper(args.GetValue())
	return nil
}

func startServer(tb testing.TB, reg registry.Registry, rcvrs ...any) string {
	tb.Helper()
	svr := server.NewServer()
	svr.Use(middleware.LoggingMiddleware(zap.NewNop()))
	for _, rcvr := range rcvrs {
		require.NoError(tb, svr.Register(rcvr))
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	addr := lis.Addr().String()
	go svr.ServeListener(lis, addr, reg)
	<-svr.Ready()
	tb.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	return addr
}

func newClient(tb testing.TB, reg registry.Registry, codecType codec.CodecType, opts ...Option) *Client {
	tb.Helper()
	cli, err := NewClient(reg, &loadbalance.RoundRobinBalancer{}, codecType, opts...)
	require.NoError(tb, err)
	tb.Cleanup(cli.Close)
	return cli
}

func TestClientCall(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, &Arith{})
	cli := newClient(t, reg, codec.CodecTypeJSON)

	reply := &Reply{}
	require.NoError(t, cli.Call(context.Background(), "Arith.Add", &Args{A: 3, B: 5}, reply))
	assert.Equal(t, 8, reply.Result)

	reply2 := &Reply{}
	require.NoError(t, cli.Call(context.Background(), "Arith.Multiply", &Args{A: 4, B: 6}, reply2))
	assert.Equal(t, 24, reply2.Result)
}

func TestClientServerError(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, &Arith{})
	cli := newClient(t, reg, codec.CodecTypeJSON)

	err := cli.Call(context.Background(), "Arith.Div", &Args{A: 1}, &Reply{})
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "divide by zero", serverErr.Message)
	assert.Equal(t, "Arith.Div", serverErr.ServiceMethod)
}

func TestClientInvokeHeaders(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, &Arith{})
	cli := newClient(t, reg, codec.CodecTypeJSON)

	req := request.New[any](&Args{})
	req.Header().Set(metadata.RequestIDKey, "req-42")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply := &Reply{}
	header, err := cli.Invoke(ctx, "Arith.Tag", req, reply)
	require.NoError(t, err)
	assert.True(t, req.Consumed())
	assert.Equal(t, "yes", header.Get("X-Tagged"))
	assert.Equal(t, 1, reply.Result, "caller deadline should reach the handler")
}

func TestClientProtoCodec(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, &Text{})
	cli := newClient(t, reg, codec.CodecTypeProto)

	reply := &wrapperspb.StringValue{}
	require.NoError(t, cli.Call(context.Background(), "Text.Upper", wrapperspb.String("hello"), reply))
	assert.Equal(t, "HELLO", reply.GetValue())
}

func TestClientInvalidTargets(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	cli := newClient(t, reg, codec.CodecTypeJSON)

	assert.Error(t, cli.Call(context.Background(), "ArithAdd", &Args{}, &Reply{}))

	err := cli.Call(context.Background(), "Arith.Add", &Args{}, &Reply{})
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestClientFailover(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, &Arith{})

	// a registered instance with nothing listening behind it
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := lis.Addr().String()
	lis.Close()
	require.NoError(t, reg.Register("Arith", registry.ServiceInstance{Addr: dead}, 10))

	cli := newClient(t, reg, codec.CodecTypeJSON, WithRetry(2, time.Millisecond))
	for i := 0; i < 4; i++ {
		reply := &Reply{}
		require.NoError(t, cli.Call(context.Background(), "Arith.Add", &Args{A: i, B: 1}, reply))
		assert.Equal(t, i+1, reply.Result)
	}
}

// sequenceBalancer picks addrs in order, then sticks to the last one.
type sequenceBalancer struct {
	addrs []string
	n     atomic.Int32
}

func (b *sequenceBalancer) Pick(_ []registry.ServiceInstance, _ string) (*registry.ServiceInstance, error) {
	i := min(int(b.n.Add(1))-1, len(b.addrs)-1)
	return &registry.ServiceInstance{Addr: b.addrs[i]}, nil
}

func (b *sequenceBalancer) Name() string { return "Sequence" }

func TestClientRetryShrinksTimeout(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	live := startServer(t, reg, &Arith{})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := lis.Addr().String()
	lis.Close()

	bal := &sequenceBalancer{addrs: []string{dead, live}}
	cli, err := NewClient(reg, bal, codec.CodecTypeJSON, WithRetry(2, 300*time.Millisecond))
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply := &Reply{}
	require.NoError(t, cli.Call(ctx, "Arith.Budget", &Args{}, reply))

	assert.EqualValues(t, 2, bal.n.Load())
	assert.Positive(t, reply.Result)
	// the second attempt starts after the 300ms backoff
	assert.LessOrEqual(t, reply.Result, 1700)
}

func TestNewClientUnknownCodec(t *testing.T) {
	_, err := NewClient(registry.NewMemoryRegistry(), &loadbalance.RoundRobinBalancer{}, codec.CodecType(9))
	assert.ErrorIs(t, err, codec.ErrUnknownCodec)
}

func setupBench(b *testing.B) *Client {
	reg := registry.NewMemoryRegistry()
	startServer(b, reg, &Arith{})
	return newClient(b, reg, codec.CodecTypeJSON)
}

func BenchmarkSerialCall(b *testing.B) {
	cli := setupBench(b)
	args := &Args{A: 1, B: 2}
	reply := &Reply{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := cli.Call(context.Background(), "Arith.Add", args, reply); err != nil {
			b.Fatal(err)
		}
	}
}

// concurrent calls multiplex as streams over one connection
func BenchmarkConcurrentCall(b *testing.B) {
	cli := setupBench(b)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := &Args{A: 1, B: 2}
		reply := &Reply{}
		for pb.Next() {
			if err := cli.Call(context.Background(), "Arith.Add", args, reply); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkCodecJSON(b *testing.B) {
	cdc, _ := codec.Get(codec.CodecTypeJSON)
	args := &Args{A: 1, B: 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(args)
		var out Args
		cdc.Decode(data, &out)
	}
}

func BenchmarkCodecProto(b *testing.B) {
	cdc, _ := codec.Get(codec.CodecTypeProto)
	msg := wrapperspb.String("Arith.Add")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		out := &wrapperspb.StringValue{}
		cdc.Decode(data, out)
	}
}
