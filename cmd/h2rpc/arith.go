package main

import (
	"context"
	"errors"
	"strconv"

	"h2rpc/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

// Arith is the demo service exposed by "h2rpc serve".
type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func (a *Arith) Div(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	server.SetHeader(ctx, "X-Remainder", strconv.Itoa(args.A%args.B))
	return nil
}
