package status

import (
	"context"
	"sort"
	"sync"
)

// Component is a running part of a binary that reports status over HTTP.
type Component interface {
	Name() string
	Status(ctx context.Context) (any, error)
	Actions() map[string]Action
}

// Action runs an operator command against a component.
type Action func(ctx context.Context) (string, error)

// Registry stores components by name.
type Registry struct {
	mu   sync.RWMutex
	repo map[string]Component
}

func NewRegistry() *Registry {
	return &Registry{repo: make(map[string]Component)}
}

func (r *Registry) Register(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repo[c.Name()] = c
}

func (r *Registry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.repo[name]
	return c, ok
}

// Info lists components and their action names, sorted by name.
func (r *Registry) Info() []ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]ComponentInfo, 0, len(r.repo))
	for name, c := range r.repo {
		actions := make([]string, 0, len(c.Actions()))
		for action := range c.Actions() {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		list = append(list, ComponentInfo{Name: name, Actions: actions})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

type ComponentInfo struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

type funcComponent struct {
	name    string
	status  func(ctx context.Context) (any, error)
	actions map[string]Action
}

// NewComponent wraps a status function and optional actions.
func NewComponent(name string, status func(ctx context.Context) (any, error), actions map[string]Action) Component {
	if actions == nil {
		actions = map[string]Action{}
	}
	return funcComponent{name: name, status: status, actions: actions}
}

func (f funcComponent) Name() string                           { return f.name }
func (f funcComponent) Status(ctx context.Context) (any, error) { return f.status(ctx) }
func (f funcComponent) Actions() map[string]Action             { return f.actions }
