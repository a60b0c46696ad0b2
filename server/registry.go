package server

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// MethodOptions tune how a registered method's results are delivered.
type MethodOptions struct {
	// Atomic collects every responded value and delivers one RESULT
	// holding the array, followed by the terminal STATUS.
	Atomic bool

	// Streaming emits each responded value as its own RESULT as it is
	// produced.
	Streaming bool

	// NoContext skips context validation for internal methods.
	NoContext bool
}

// MethodHandler runs one invocation against its call context. Returning a
// *StatusError turns into that STATUS on the wire; any other error becomes
// STATUS 500.
type MethodHandler func(ctx *Context) error

// MethodDef is one registered method.
type MethodDef struct {
	Service string
	Name    string
	Handler MethodHandler
	MinArgc int
	Options MethodOptions
}

// Registry maps (service, method) to handlers. Registration happens at boot;
// after Initialize the registry is immutable and lookups are lock-free.
type Registry struct {
	methods     map[string]*MethodDef
	initialized atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*MethodDef)}
}

func methodKey(service, name string) string {
	return service + "|" + name
}

// Register adds a method definition. It fails after Initialize and on
// duplicate (service, method) pairs.
func (r *Registry) Register(def *MethodDef) error {
	if r.initialized.Load() {
		return fmt.Errorf("registry: cannot register %s.%s after initialize", def.Service, def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("registry: method %s.%s has no handler", def.Service, def.Name)
	}
	key := methodKey(def.Service, def.Name)
	if _, exists := r.methods[key]; exists {
		return fmt.Errorf("registry: method %s.%s already registered", def.Service, def.Name)
	}
	r.methods[key] = def
	return nil
}

// Initialize freezes the registry.
func (r *Registry) Initialize() {
	r.initialized.Store(true)
}

// Lookup resolves a method. O(1).
func (r *Registry) Lookup(service, name string) (*MethodDef, bool) {
	def, ok := r.methods[methodKey(service, name)]
	return def, ok
}

// Methods returns the definitions registered for a service, sorted by name.
func (r *Registry) Methods(service string) []*MethodDef {
	var defs []*MethodDef
	for _, def := range r.methods {
		if def.Service == service {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
