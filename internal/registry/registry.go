// Package registry validates remote interface descriptors and hands out the
// values that calls are made on: a proxy when the interface is served
// elsewhere, or a bound instance when this process implements it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/kanengo/lightrpc/runtime/codegen"
	"github.com/kanengo/lightrpc/runtime/logging"
)

var (
	ErrInvalidIdentifier   = errors.New("registry: identifier must be positive")
	ErrNotRemote           = errors.New("registry: not a remote interface")
	ErrDuplicateInterface  = errors.New("registry: interface already registered")
	ErrDuplicateIdentifier = errors.New("registry: identifier already in use")
	ErrBadInstance         = errors.New("registry: instance factory returned an unusable value")
	ErrBadCallMode         = errors.New("registry: invalid call mode")
)

type Kind int

const (
	// Proxy handles forward every call to a remote process.
	Proxy Kind = iota
	// Bound handles hold the local implementation.
	Bound
)

func (k Kind) String() string {
	switch k {
	case Proxy:
		return "proxy"
	case Bound:
		return "bound"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handle is the registered form of an interface.
type Handle struct {
	Kind         Kind
	Value        any // implements Registration.Iface
	Registration *codegen.Registration
}

type Options struct {
	Logger *slog.Logger

	// Stub builds the Stub behind the proxy of reg. Required for interfaces
	// without an instance factory.
	Stub func(reg *codegen.Registration) codegen.Stub
}

// Registry is safe for concurrent use. Lookups never block on registration.
type Registry struct {
	opts Options

	mu     sync.Mutex // serializes Register
	byType sync.Map   // reflect.Type -> *Handle
	byID   sync.Map   // int64 -> *Handle
}

func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.StderrLogger(logging.Options{Component: "registry"})
	}
	return &Registry{opts: opts}
}

// Register validates reg and stores one Handle for it, reachable by interface
// type and by identifier.
func (r *Registry) Register(reg *codegen.Registration) (*Handle, error) {
	if err := r.validate(reg); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType.Load(reg.Iface); ok {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateInterface, reg.Iface)
	}
	if v, ok := r.byID.Load(reg.Identifier); ok {
		return nil, fmt.Errorf("%w: %d is held by %s, wanted by %s",
			ErrDuplicateIdentifier, reg.Identifier, v.(*Handle).Registration.Name, reg.Name)
	}

	h, err := r.newHandle(reg)
	if err != nil {
		return nil, err
	}

	r.byType.Store(reg.Iface, h)
	r.byID.Store(reg.Identifier, h)

	r.opts.Logger.Info("registered interface",
		"interface", reg.Name,
		"id", reg.Identifier,
		"kind", h.Kind,
		"methods", len(reg.Methods))
	return h, nil
}

func (r *Registry) validate(reg *codegen.Registration) error {
	if reg == nil {
		return fmt.Errorf("%w: nil registration", ErrNotRemote)
	}
	if reg.Identifier <= 0 {
		return fmt.Errorf("%w: %s has identifier %d", ErrInvalidIdentifier, reg.Name, reg.Identifier)
	}
	if reg.Iface == nil || reg.Iface.Kind() != reflect.Interface {
		return fmt.Errorf("%w: %s has type %v", ErrNotRemote, reg.Name, reg.Iface)
	}
	if reg.ClientStubFn == nil || reg.ServerStubFn == nil {
		return fmt.Errorf("%w: %s has no generated stubs", ErrNotRemote, reg.Name)
	}

	for _, m := range reg.Methods {
		switch mode := m.Mode.(type) {
		case nil:
			r.opts.Logger.Warn("method has no call mode; calls to it do nothing",
				"interface", reg.Name, "method", m.Name)
		case codegen.Sync:
			if mode.Timeout < 0 {
				return fmt.Errorf("%w: %s.%s has negative timeout %v", ErrBadCallMode, reg.Name, m.Name, mode.Timeout)
			}
		case codegen.Async:
			if mode.NewCallback == nil {
				return fmt.Errorf("%w: %s.%s is async without a callback factory", ErrBadCallMode, reg.Name, m.Name)
			}
		default:
			return fmt.Errorf("%w: %s.%s has mode %T", ErrBadCallMode, reg.Name, m.Name, mode)
		}
	}
	return nil
}

func (r *Registry) newHandle(reg *codegen.Registration) (*Handle, error) {
	if reg.NewInstance != nil {
		impl := reg.NewInstance()
		if impl == nil || !reflect.TypeOf(impl).Implements(reg.Iface) {
			return nil, fmt.Errorf("%w: %s: got %T", ErrBadInstance, reg.Name, impl)
		}
		return &Handle{Kind: Bound, Value: impl, Registration: reg}, nil
	}

	if r.opts.Stub == nil {
		return nil, fmt.Errorf("%w: %s has no instance and no transport to call it through",
			ErrNotRemote, reg.Name)
	}
	proxy := reg.ClientStubFn(r.opts.Stub(reg))
	if proxy == nil || !reflect.TypeOf(proxy).Implements(reg.Iface) {
		return nil, fmt.Errorf("%w: %s: proxy %T does not implement %v", ErrNotRemote, reg.Name, proxy, reg.Iface)
	}
	return &Handle{Kind: Proxy, Value: proxy, Registration: reg}, nil
}

// RegisterAll registers regs in order and stops at the first failure.
// Interfaces registered before the failure stay registered.
func (r *Registry) RegisterAll(regs []*codegen.Registration) error {
	for _, reg := range regs {
		if _, err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) LookupByType(t reflect.Type) (*Handle, bool) {
	v, ok := r.byType.Load(t)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

func (r *Registry) LookupByID(id int64) (*Handle, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Handles returns every registered handle, ordered by identifier.
func (r *Registry) Handles() []*Handle {
	var hs []*Handle
	r.byID.Range(func(_, v any) bool {
		hs = append(hs, v.(*Handle))
		return true
	})
	sort.Slice(hs, func(i, j int) bool {
		return hs[i].Registration.Identifier < hs[j].Registration.Identifier
	})
	return hs
}
