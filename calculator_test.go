// Code in the shape "lightrpc generate" writes, for the end-to-end tests.

package lightrpc_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/kanengo/lightrpc/runtime/callback"
	"github.com/kanengo/lightrpc/runtime/codegen"
)

type Calculator interface {
	Add(ctx context.Context, a, b int) (int, error)
	Divide(ctx context.Context, a, b int) (int, error)
	Notify(ctx context.Context, msg string) (string, error)
	Noop(ctx context.Context) error
}

type calculator struct{}

func (calculator) Add(_ context.Context, a, b int) (int, error) { return a + b, nil }

func (calculator) Divide(_ context.Context, a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func (calculator) Notify(_ context.Context, msg string) (string, error) { return "got " + msg, nil }

func (calculator) Noop(context.Context) error { return nil }

type notification struct {
	payload []byte
	err     error
}

var notifications = make(chan notification, 16)

func newNotifyCallback() callback.Callback {
	return callback.Func(func(payload []byte, err error) {
		notifications <- notification{payload, err}
	})
}

func init() {
	codegen.Register(codegen.Registration{
		Name:       "github.com/kanengo/lightrpc_test/Calculator",
		Identifier: 4242,
		Iface:      reflect.TypeOf((*Calculator)(nil)).Elem(),
		Methods: []codegen.MethodConfig{
			{Name: "Add", Mode: codegen.Sync{Timeout: 5 * time.Second}},
			{Name: "Divide", Mode: codegen.Sync{Timeout: 5 * time.Second}},
			{Name: "Noop"},
			{Name: "Notify", Mode: codegen.Async{NewCallback: newNotifyCallback}},
		},
		NewInstance:  func() any { return &calculator{} },
		ClientStubFn: func(stub codegen.Stub) any { return calculatorClientStub{stub: stub} },
		ServerStubFn: func(impl any) codegen.Server { return calculatorServerStub{impl: impl.(Calculator)} },
	})
}

type calculatorClientStub struct {
	stub codegen.Stub
}

func (s calculatorClientStub) call(ctx context.Context, method int, args ...any) (r0 int, err error) {
	var data []byte
	data, err = s.stub.Invoke(ctx, method, args...)
	if err != nil || data == nil {
		return
	}
	err = s.stub.Decode(data, &r0)
	return
}

func (s calculatorClientStub) Add(ctx context.Context, a0, a1 int) (int, error) {
	return s.call(ctx, 0, a0, a1)
}

func (s calculatorClientStub) Divide(ctx context.Context, a0, a1 int) (int, error) {
	return s.call(ctx, 1, a0, a1)
}

func (s calculatorClientStub) Noop(ctx context.Context) (err error) {
	_, err = s.stub.Invoke(ctx, 2)
	return
}

func (s calculatorClientStub) Notify(ctx context.Context, a0 string) (r0 string, err error) {
	var data []byte
	data, err = s.stub.Invoke(ctx, 3, a0)
	if err != nil || data == nil {
		return
	}
	err = s.stub.Decode(data, &r0)
	return
}

type calculatorServerStub struct {
	impl Calculator
}

func (s calculatorServerStub) GetHandleFn(method string) codegen.Handler {
	switch method {
	case "Add":
		return s.binary(s.impl.Add)
	case "Divide":
		return s.binary(s.impl.Divide)
	case "Noop":
		return func(ctx context.Context, _ codegen.Codec, _ [][]byte) ([]byte, error) {
			return nil, s.impl.Noop(ctx)
		}
	case "Notify":
		return func(ctx context.Context, codec codegen.Codec, args [][]byte) ([]byte, error) {
			var a0 string
			if err := codec.Decode(args[0], &a0); err != nil {
				return nil, err
			}
			r0, err := s.impl.Notify(ctx, a0)
			if err != nil {
				return nil, err
			}
			return codec.Encode(r0)
		}
	}
	return nil
}

func (s calculatorServerStub) binary(fn func(context.Context, int, int) (int, error)) codegen.Handler {
	return func(ctx context.Context, codec codegen.Codec, args [][]byte) (res []byte, err error) {
		defer func() {
			if err == nil {
				err = codegen.CatchPanics(recover())
			}
		}()
		if len(args) != 2 {
			return nil, fmt.Errorf("got %d arguments, want 2", len(args))
		}
		var a0, a1 int
		if err := codec.Decode(args[0], &a0); err != nil {
			return nil, err
		}
		if err := codec.Decode(args[1], &a1); err != nil {
			return nil, err
		}
		r0, appErr := fn(ctx, a0, a1)
		if appErr != nil {
			return nil, appErr
		}
		return codec.Encode(r0)
	}
}
