package call

import (
	"errors"
	"fmt"

	"github.com/kanengo/lightrpc/runtime/codegen"
)

type transportError int

const (
	// CommunicationError means the call may or may not have reached the
	// remote side: the connection failed or was closed while it was pending.
	CommunicationError transportError = iota

	// Unreachable means the call was never sent.
	Unreachable
)

func (e transportError) Error() string {
	switch e {
	case CommunicationError:
		return "communication error"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("unknown error %d", e)
	}
}

var (
	// ErrTimeout is returned by a sync call whose response did not arrive in
	// time.
	ErrTimeout = errors.New("call: timed out waiting for response")

	// ErrDuplicateCall means a correlation id is already pending.
	ErrDuplicateCall = errors.New("call: duplicate call id")

	// ErrBadCallMode means an async method has no usable callback factory.
	ErrBadCallMode = errors.New("call: async method without callback")

	// ErrUnknownMethod means a method index or name is not part of the
	// interface.
	ErrUnknownMethod = errors.New("call: unknown method")

	// ErrUnknownInterface means no served interface has the request's id.
	ErrUnknownInterface = errors.New("call: unknown interface")
)

// SerializationError reports an argument the codec could not encode. Nothing
// is sent when it is returned.
type SerializationError struct {
	Arg int
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("call: serialize argument %d: %v", e.Arg, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func decodeError(msg []byte) (err error, ok bool) {
	defer func() {
		if x := codegen.CatchPanics(recover()); x != nil {
			err, ok = x, false
		}
	}()

	dec := codegen.NewDeserializer(msg)
	err = dec.Error()
	ok = true

	return
}

func encodeError(err error) []byte {
	e := codegen.NewSerializer()
	e.Error(err)

	return e.Data()
}
