package engine

import (
	"fmt"
	"sync"

	"github.com/mohitkumar/flock/server/model"
)

// HandlerFunc is one resumption point of a flow. It receives the
// response that woke the flow up (nil for the initial handler) and
// may issue further requests or complete the flow through the run.
type HandlerFunc func(run *Run, resp *model.Response) error

// Definition describes one flow type. The engine resolves the stored
// resumption-point name against Handlers; there is no reflection.
type Definition struct {
	Name           string
	Start          HandlerFunc
	Handlers       map[string]HandlerFunc
	SuccessHandler string
	FailureHandler string
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("flow %s already registered", def.Name)
	}
	if def.Start == nil {
		return fmt.Errorf("flow %s has no start handler", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

func (r *Registry) get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.get(name)
	return ok
}
