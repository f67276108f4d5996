package codegen

import (
	"errors"
)

// CatchPanics converts a recovered serializer or deserializer panic into an
// error. Any other panic value is re-raised.
//
//	defer func() { err = codegen.CatchPanics(recover()) }()
func CatchPanics(r any) error {
	if r == nil {
		return nil
	}

	err, ok := r.(error)
	if !ok {
		panic(r)
	}

	if errors.As(err, &serializerError{}) || errors.As(err, &deserializerError{}) {
		return err
	}

	panic(r)
}
