package lightrpc

import (
	"errors"

	"github.com/kanengo/lightrpc/internal/net/call"
	"github.com/kanengo/lightrpc/internal/registry"
)

var (
	// ErrNotRegistered is returned by Get for an interface that has not been
	// registered with the client or server.
	ErrNotRegistered = errors.New("lightrpc: interface not registered")

	// ErrClosed is returned by operations on a closed Client or Server.
	ErrClosed = errors.New("lightrpc: closed")
)

// Errors returned by calls through a proxy. Test for them with errors.Is.
var (
	ErrTimeout          = call.ErrTimeout
	ErrUnknownMethod    = call.ErrUnknownMethod
	ErrUnknownInterface = call.ErrUnknownInterface
	CommunicationError  = call.CommunicationError
	Unreachable         = call.Unreachable
)

// SerializationError reports an argument the codec could not encode.
type SerializationError = call.SerializationError

// Errors returned by Register.
var (
	ErrInvalidIdentifier   = registry.ErrInvalidIdentifier
	ErrNotRemote           = registry.ErrNotRemote
	ErrDuplicateInterface  = registry.ErrDuplicateInterface
	ErrDuplicateIdentifier = registry.ErrDuplicateIdentifier
	ErrBadInstance         = registry.ErrBadInstance
	ErrBadCallMode         = registry.ErrBadCallMode
)
