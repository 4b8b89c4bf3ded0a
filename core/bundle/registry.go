package bundle

import (
	"sort"
	"sync"

	"github.com/Trinoooo/nodebus/errs"
	"github.com/pkg/errors"
)

type Factory func() Activator

// Registry activator 名称到构造函数的映射，manifest 里的 Bundle-Activator 在这里查找
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errs.NewInvalidParamErr()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exist := r.factories[name]; exist {
		return errs.NewInvalidParamErr().WithErr(errors.Errorf("activator %s already registered", name))
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) Lookup(name string) (Activator, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.NewActivatorNotFoundErr().WithErr(errors.Errorf("activator %s", name))
	}
	return factory(), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
