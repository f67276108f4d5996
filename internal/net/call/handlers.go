package call

import (
	"fmt"

	"github.com/kanengo/lightrpc/runtime/codegen"
)

// MethodKey identifies a served method.
type MethodKey struct {
	InterfaceID int64
	Method      string
}

type handlerEntry struct {
	handler codegen.Handler
	name    string // interface.method
	metrics *codegen.MethodMetrics
}

// HandlerMap holds the handlers of every method a server dispatches to. It is
// filled before serving starts and read-only afterwards.
type HandlerMap struct {
	handlers   map[MethodKey]handlerEntry
	interfaces map[int64]string
}

func NewHandlerMap() *HandlerMap {
	return &HandlerMap{
		handlers:   make(map[MethodKey]handlerEntry),
		interfaces: make(map[int64]string),
	}
}

// Set installs handler for one method of reg.
func (hm *HandlerMap) Set(reg *codegen.Registration, method codegen.MethodConfig, handler codegen.Handler) {
	hm.interfaces[reg.Identifier] = reg.Name
	hm.handlers[MethodKey{reg.Identifier, method.Name}] = handlerEntry{
		handler: handler,
		name:    reg.Name + "." + method.Name,
		metrics: codegen.MethodMetricsFor(codegen.MethodLabels{
			Interface: reg.Name,
			Method:    method.Name,
			Mode:      codegen.ModeName(method.Mode),
			Server:    true,
		}),
	}
}

// AddHandlers installs a handler for every method of reg, dispatching to impl
// through the generated server stub.
func (hm *HandlerMap) AddHandlers(reg *codegen.Registration, impl any) error {
	if reg.ServerStubFn == nil {
		return fmt.Errorf("interface %s has no server stub", reg.Name)
	}
	if owner, ok := hm.interfaces[reg.Identifier]; ok && owner != reg.Name {
		return fmt.Errorf("interface id %d of %s already served by %s", reg.Identifier, reg.Name, owner)
	}

	server := reg.ServerStubFn(impl)
	for _, m := range reg.Methods {
		handler := server.GetHandleFn(m.Name)
		if handler == nil {
			return fmt.Errorf("%w: %s.%s has no handler", ErrUnknownMethod, reg.Name, m.Name)
		}
		hm.Set(reg, m, handler)
	}

	return nil
}

func (hm *HandlerMap) lookup(interfaceID int64, method string) (handlerEntry, error) {
	if _, ok := hm.interfaces[interfaceID]; !ok {
		return handlerEntry{}, fmt.Errorf("%w: id %d", ErrUnknownInterface, interfaceID)
	}
	e, ok := hm.handlers[MethodKey{interfaceID, method}]
	if !ok {
		return handlerEntry{}, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, hm.interfaces[interfaceID], method)
	}
	return e, nil
}

// Len returns the number of installed handlers.
func (hm *HandlerMap) Len() int {
	return len(hm.handlers)
}
