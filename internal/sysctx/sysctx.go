// Package sysctx implements the Context/System lifecycle: named
// singleton services assembled in request order, wired together by a
// query-driven dependency discovery during connect and init, and torn
// down in reverse completion order. Grounded on the teacher's
// kernel/threads/registry/loader.go (ModuleRegistry.GetDependencyOrder,
// a Kahn's-algorithm topological sort with cycle detection over a
// dependency graph) generalized from static load-order resolution to
// on-demand DFS completion tracking, and on kernel/lifecycle.go's
// atomic KernelState machine for the Context's own top-level phase.
package sysctx

import (
	"fmt"
	"sync"

	"github.com/forge-engine/core/internal/allocgroup"
	"github.com/forge-engine/core/internal/engerr"
)

// Instance is the handle a System produces from Create. The Context
// drives its lifecycle but never interprets any typed API the instance
// exposes beyond these six methods.
type Instance interface {
	Connect(ctx *Context) error
	Init(ctx *Context) error
	Shutdown(ctx *Context)
	Disconnect(ctx *Context)
	Destroy()
}

// Descriptor is a system api record: {name, create, ...}. The
// lifecycle methods beyond Create live on the Instance it returns.
type Descriptor struct {
	Name   string
	Create func(group *allocgroup.Group, config any) (Instance, error)
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Descriptor)
)

// Register adds a system descriptor to the process-wide set of
// available systems. A name collision is a build-time error.
func Register(d Descriptor) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[d.Name]; exists {
		return engerr.New(engerr.ProgrammingError, "sysctx.Register",
			fmt.Errorf("system %q already registered", d.Name))
	}
	registry[d.Name] = d
	return nil
}

func lookup(name string) (Descriptor, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := registry[name]
	return d, ok
}

// phase tracks where a Context is in its lifecycle, governing what
// Query does when called from inside a System method.
type phase int32

const (
	phaseRequesting phase = iota
	phaseAssembling
	phaseConnecting
	phaseInitializing
	phaseReady
	phaseDestroying
	phaseDestroyed
)

// Context orchestrates the request -> assembly -> connect -> init ->
// ready -> destroy lifecycle for a set of named systems.
type Context struct {
	group *allocgroup.Group

	mu           sync.RWMutex
	phase        phase
	requestOrder []string
	configs      map[string]any
	handles      map[string]Instance

	connected    map[string]bool
	connecting   map[string]bool
	connectOrder []string

	inited       map[string]bool
	initializing map[string]bool
	initOrder    []string
}

// New creates a Context whose system instances attribute their memory
// to group.
func New(group *allocgroup.Group) *Context {
	return &Context{
		group:        group,
		configs:      make(map[string]any),
		handles:      make(map[string]Instance),
		connected:    make(map[string]bool),
		connecting:   make(map[string]bool),
		inited:       make(map[string]bool),
		initializing: make(map[string]bool),
	}
}

// RequestSystem records a request for the named system. It is
// idempotent: a second call with a non-nil config after the first
// already captured one is a programming error; a second call with a
// nil config is a silent no-op.
func (c *Context) RequestSystem(name string, config any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseRequesting {
		return engerr.New(engerr.ProgrammingError, "Context.RequestSystem",
			fmt.Errorf("system %q requested after assembly began", name))
	}
	existing, already := c.configs[name]
	if !already {
		c.configs[name] = config
		c.requestOrder = append(c.requestOrder, name)
		return nil
	}
	if config != nil && existing != nil {
		return engerr.New(engerr.ProgrammingError, "Context.RequestSystem",
			fmt.Errorf("duplicate non-null config for system %q", name))
	}
	return nil
}

// Assemble calls Create, in request order, for every requested system.
func (c *Context) Assemble() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phaseAssembling
	for _, name := range c.requestOrder {
		desc, ok := lookup(name)
		if !ok {
			return engerr.New(engerr.ProgrammingError, "Context.Assemble",
				fmt.Errorf("unknown system %q", name))
		}
		group := c.group.Child(name)
		inst, err := desc.Create(group, c.configs[name])
		if err != nil {
			return err
		}
		c.handles[name] = inst
	}
	return nil
}

// Connect runs each requested system's Connect, in request order,
// allowing Query calls made from inside Connect to recursively trigger
// a dependency's own Connect first (DFS).
func (c *Context) Connect() error {
	c.mu.Lock()
	c.phase = phaseConnecting
	c.mu.Unlock()

	for _, name := range c.requestOrder {
		if err := c.connectLocked(name); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.phase = phaseInitializing
	c.mu.Unlock()
	return nil
}

func (c *Context) connectLocked(name string) error {
	c.mu.Lock()
	if c.connected[name] {
		c.mu.Unlock()
		return nil
	}
	if c.connecting[name] {
		c.mu.Unlock()
		return engerr.New(engerr.ProgrammingError, "Context.Connect",
			fmt.Errorf("connect cycle detected at system %q", name))
	}
	inst, ok := c.handles[name]
	if !ok {
		c.mu.Unlock()
		return engerr.New(engerr.ProgrammingError, "Context.Connect",
			fmt.Errorf("system %q was never assembled", name))
	}
	c.connecting[name] = true
	c.mu.Unlock()

	err := inst.Connect(c)

	c.mu.Lock()
	delete(c.connecting, name)
	if err == nil {
		c.connected[name] = true
		c.connectOrder = append(c.connectOrder, name)
	}
	c.mu.Unlock()
	return err
}

// Init runs each requested system's Init, in connect-completion order
// (so a system that queried another during Connect is initialized after
// it), allowing Query calls made from inside Init to recursively trigger
// a dependency's own Init first (DFS). A cycle here is a deadlock and a
// programming error.
func (c *Context) Init() error {
	c.mu.Lock()
	order := append([]string(nil), c.connectOrder...)
	c.mu.Unlock()
	for _, name := range order {
		if err := c.initLocked(name); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.phase = phaseReady
	c.mu.Unlock()
	return nil
}

func (c *Context) initLocked(name string) error {
	c.mu.Lock()
	if c.inited[name] {
		c.mu.Unlock()
		return nil
	}
	if c.initializing[name] {
		c.mu.Unlock()
		return engerr.New(engerr.ProgrammingError, "Context.Init",
			fmt.Errorf("init deadlock: cycle detected at system %q", name))
	}
	inst, ok := c.handles[name]
	if !ok {
		c.mu.Unlock()
		return engerr.New(engerr.ProgrammingError, "Context.Init",
			fmt.Errorf("system %q was never assembled", name))
	}
	c.initializing[name] = true
	c.mu.Unlock()

	err := inst.Init(c)

	c.mu.Lock()
	delete(c.initializing, name)
	if err == nil {
		c.inited[name] = true
		c.initOrder = append(c.initOrder, name)
	}
	c.mu.Unlock()
	return err
}

// Bootstrap runs Assemble, Connect, and Init in sequence, the usual
// path for a Context that has finished receiving requests.
func (c *Context) Bootstrap() error {
	if err := c.Assemble(); err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}
	return c.Init()
}

// Query looks up the named system's instance. During connect or init
// it first drives that system's own connect or init (recursively, via
// DFS) if it has not completed yet; during ready it is a pure,
// thread-safe lookup.
func (c *Context) Query(name string) (Instance, error) {
	c.mu.RLock()
	p := c.phase
	c.mu.RUnlock()

	switch p {
	case phaseConnecting:
		if err := c.connectLocked(name); err != nil {
			return nil, err
		}
	case phaseInitializing:
		if err := c.initLocked(name); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.handles[name]
	if !ok {
		return nil, engerr.New(engerr.ProgrammingError, "Context.Query",
			fmt.Errorf("unknown system %q", name))
	}
	return inst, nil
}

// QueryNoConnect returns the named system's handle without triggering
// its connect or init — the only way to break a would-be cycle when
// the caller will not actually connect to (or initialize) that system.
func (c *Context) QueryNoConnect(name string) (Instance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.handles[name]
	if !ok {
		return nil, engerr.New(engerr.ProgrammingError, "Context.QueryNoConnect",
			fmt.Errorf("unknown system %q", name))
	}
	return inst, nil
}

// Destroy runs shutdown in reverse init-completion order, disconnect
// in reverse connect-completion order, and destroy in reverse
// assembly (request) order.
func (c *Context) Destroy() {
	c.mu.Lock()
	c.phase = phaseDestroying
	initOrder := append([]string(nil), c.initOrder...)
	connectOrder := append([]string(nil), c.connectOrder...)
	requestOrder := append([]string(nil), c.requestOrder...)
	c.mu.Unlock()

	for i := len(initOrder) - 1; i >= 0; i-- {
		c.handles[initOrder[i]].Shutdown(c)
	}
	for i := len(connectOrder) - 1; i >= 0; i-- {
		c.handles[connectOrder[i]].Disconnect(c)
	}
	for i := len(requestOrder) - 1; i >= 0; i-- {
		c.handles[requestOrder[i]].Destroy()
	}

	c.mu.Lock()
	c.phase = phaseDestroyed
	c.mu.Unlock()
}
