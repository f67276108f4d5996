package codegen

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/kanengo/lightrpc/runtime/callback"
)

var globalRegistry catalog

// catalog holds every Registration emitted by generated init functions.
type catalog struct {
	m      sync.Mutex
	byType map[reflect.Type]*Registration // by interface type
	byName map[string]*Registration       // by full package-prefixed name
}

// Registration describes a remote interface.
type Registration struct {
	Name       string // full package-prefixed interface name
	Identifier int64  // positive, unique among registered interfaces
	Iface      reflect.Type
	Methods    []MethodConfig // sorted by name; index is the method index used by Stub.Invoke

	// NewInstance builds the implementation served by this process. A nil
	// NewInstance means the interface is only called from here.
	NewInstance func() any

	ClientStubFn func(stub Stub) any
	ServerStubFn func(impl any) Server
}

// MethodConfig is the delivery configuration of one method. A nil Mode makes
// calls of the method no-ops.
type MethodConfig struct {
	Name string
	Mode CallMode
}

// CallMode is either Sync or Async.
type CallMode interface {
	isCallMode()
	String() string
}

// Sync calls block until the response arrives. A zero Timeout waits until the
// caller's context ends.
type Sync struct {
	Timeout time.Duration
}

// Async calls return as soon as the request is sent; the response is delivered
// to a callback built by NewCallback for each call.
type Async struct {
	NewCallback func() callback.Callback
}

func (Sync) isCallMode()  {}
func (Async) isCallMode() {}

func (s Sync) String() string {
	if s.Timeout <= 0 {
		return "sync"
	}
	return fmt.Sprintf("sync(timeout=%v)", s.Timeout)
}

func (Async) String() string { return "async" }

// ModeName returns "sync", "async" or "none".
func ModeName(m CallMode) string {
	switch m.(type) {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return "none"
	}
}

// Method returns the configuration of the method with the given index.
func (r *Registration) Method(i int) (MethodConfig, bool) {
	if i < 0 || i >= len(r.Methods) {
		return MethodConfig{}, false
	}
	return r.Methods[i], true
}

// MethodIndex returns the index of the named method, or -1.
func (r *Registration) MethodIndex(name string) int {
	for i, m := range r.Methods {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Register adds a Registration to the process-wide catalog. It is called from
// generated init functions and panics on a duplicate interface.
func Register(reg Registration) {
	if err := globalRegistry.register(reg); err != nil {
		panic(err)
	}
}

// Registered returns every catalogued Registration, ordered by name.
func Registered() []*Registration {
	return globalRegistry.all()
}

func Find(name string) (*Registration, bool) {
	return globalRegistry.find(name)
}

func FindByType(t reflect.Type) (*Registration, bool) {
	globalRegistry.m.Lock()
	defer globalRegistry.m.Unlock()
	reg, ok := globalRegistry.byType[t]
	return reg, ok
}

// Scan returns the catalogued registrations whose interface is declared in pkg
// or in a package below it. An empty pkg matches everything.
func Scan(pkg string) []*Registration {
	var found []*Registration
	for _, reg := range Registered() {
		path := reg.Iface.PkgPath()
		if pkg == "" || path == pkg || strings.HasPrefix(path, pkg+"/") {
			found = append(found, reg)
		}
	}
	return found
}

func (c *catalog) register(reg Registration) error {
	c.m.Lock()
	defer c.m.Unlock()

	if reg.Iface == nil {
		return fmt.Errorf("registration %q has no interface type", reg.Name)
	}

	if old, ok := c.byType[reg.Iface]; ok {
		return fmt.Errorf("interface %v already registered as %q when registering %q",
			reg.Iface, old.Name, reg.Name)
	}

	if c.byType == nil {
		c.byType = map[reflect.Type]*Registration{}
	}

	if c.byName == nil {
		c.byName = make(map[string]*Registration)
	}

	ptr := &reg

	c.byType[reg.Iface] = ptr
	c.byName[reg.Name] = ptr

	return nil
}

func (c *catalog) find(name string) (*Registration, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	reg, ok := c.byName[name]
	return reg, ok
}

func (c *catalog) all() []*Registration {
	c.m.Lock()
	defer c.m.Unlock()

	regs := maps.Values(c.byType)
	sort.Slice(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })

	return regs
}
