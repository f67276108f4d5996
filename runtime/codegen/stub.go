package codegen

import (
	"context"
)

// Stub lets a generated proxy call a method of a remote interface.
type Stub interface {
	// Invoke sends a call of the method with the given index (methods are
	// sorted by name) and returns the encoded result. Each argument is encoded
	// independently by the client's Codec.
	Invoke(ctx context.Context, method int, args ...any) ([]byte, error)

	// Decode decodes a result returned by Invoke into v.
	Decode(data []byte, v any) error
}

// Handler runs one method of a bound instance. args holds one encoded value
// per method parameter after the context; codec belongs to this call only.
type Handler func(ctx context.Context, codec Codec, args [][]byte) ([]byte, error)

// Server lets a process receive calls for an interface it implements.
type Server interface {
	GetHandleFn(method string) Handler
}
