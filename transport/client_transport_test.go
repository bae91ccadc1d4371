package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h2rpc/codec"
	"h2rpc/metadata"
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

func (a *Arith) Slow(args *Args, reply *Reply) error {
	time.Sleep(time.Duration(args.A) * time.Millisecond)
	reply.Result = args.A
	return nil
}

func startServer(t *testing.T) string {
	t.Helper()
	svr := server.NewServer()
	require.NoError(t, svr.Register(&Arith{}))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(lis, "", nil)
	<-svr.Ready()
	t.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	return lis.Addr().String()
}

func endpoint(addr, serviceMethod string) *url.URL {
	return &url.URL{Scheme: "http", Host: addr, Path: "/" + serviceMethod}
}

func encodeArgs(t *testing.T, args any) *request.Request[[]byte] {
	t.Helper()
	payload, err := json.Marshal(args)
	require.NoError(t, err)
	return request.New(payload)
}

func TestClientTransportSerial(t *testing.T) {
	addr := startServer(t)
	ct := NewClientTransport(codec.CodecTypeJSON)
	defer ct.Close()

	cases := []struct {
		a, b, expect int
	}{
		{1, 2, 3},
		{10, 20, 30},
		{100, 200, 300},
	}
	for _, c := range cases {
		req := encodeArgs(t, &Args{A: c.a, B: c.b})
		reply, err := ct.Send(context.Background(), endpoint(addr, "Arith.Add"), req)
		require.NoError(t, err)
		assert.True(t, req.Consumed())
		assert.Empty(t, reply.Error)
		assert.Equal(t, "Arith.Add", reply.ServiceMethod)

		var result Reply
		require.NoError(t, json.Unmarshal(reply.Payload, &result))
		assert.Equal(t, c.expect, result.Result)
	}
}

// concurrent Sends share one connection as separate streams
func TestClientTransportConcurrent(t *testing.T) {
	addr := startServer(t)
	ct := NewClientTransport(codec.CodecTypeJSON)
	defer ct.Close()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, _ := json.Marshal(&Args{A: i, B: i})
			reply, err := ct.Send(context.Background(), endpoint(addr, "Arith.Add"), request.New(payload))
			if err != nil {
				errs <- err
				return
			}
			var result Reply
			if err := json.Unmarshal(reply.Payload, &result); err != nil {
				errs <- err
				return
			}
			if result.Result != i*2 {
				errs <- errors.New("mismatched reply")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClientTransportHeaders(t *testing.T) {
	addr := startServer(t)
	ct := NewClientTransport(codec.CodecTypeJSON)
	defer ct.Close()

	req := encodeArgs(t, &Args{A: 1, B: 1})
	req.Header().Set(metadata.RequestIDKey, "req-7")
	reply, err := ct.Send(context.Background(), endpoint(addr, "Arith.Missing"), req)
	require.NoError(t, err)
	assert.Equal(t, "rpc: can't find method Arith.Missing", reply.Error)
	assert.Equal(t, metadata.ContentType, reply.Header.Get(metadata.ContentTypeKey))
}

func TestClientTransportContextDeadline(t *testing.T) {
	addr := startServer(t)
	ct := NewClientTransport(codec.CodecTypeJSON)
	defer ct.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ct.Send(ctx, endpoint(addr, "Arith.Slow"), encodeArgs(t, &Args{A: 500}))
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestClientTransportDialFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	ct := NewClientTransport(codec.CodecTypeJSON)
	defer ct.Close()
	_, err = ct.Send(context.Background(), endpoint(addr, "Arith.Add"), encodeArgs(t, &Args{}))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(io.ErrUnexpectedEOF))
	assert.True(t, IsRetryable(&StatusError{Code: http.StatusServiceUnavailable}))
	assert.False(t, IsRetryable(&StatusError{Code: http.StatusBadRequest}))
}
