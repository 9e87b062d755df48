package resolver

import (
	"fmt"
	"sort"
	"sync"
)

// EnvironmentSpec declares one environment and its optional parent.
type EnvironmentSpec struct {
	Name     string `yaml:"name"`
	Inherits string `yaml:"inherits"`
}

// Environments is the validated environment inheritance graph. The
// graph is a forest: every environment has at most one parent and no
// cycles, checked on every (re)load so resolution never loops. The
// graph can be swapped at runtime via Update, so all reads go through
// a read lock.
type Environments struct {
	mu     sync.RWMutex
	parent map[string]string
}

// NewEnvironments validates specs and builds the inheritance graph.
// Unknown parents, duplicate names, and cycles are rejected here.
func NewEnvironments(specs []EnvironmentSpec) (*Environments, error) {
	parent, err := buildGraph(specs)
	if err != nil {
		return nil, err
	}
	return &Environments{parent: parent}, nil
}

// Update atomically replaces the graph with a new declaration. An
// invalid declaration leaves the current graph in effect.
func (e *Environments) Update(specs []EnvironmentSpec) error {
	parent, err := buildGraph(specs)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.parent = parent
	e.mu.Unlock()
	return nil
}

func buildGraph(specs []EnvironmentSpec) (map[string]string, error) {
	parent := make(map[string]string, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("resolver: environment with empty name")
		}
		if _, dup := parent[spec.Name]; dup {
			return nil, fmt.Errorf("resolver: duplicate environment %q", spec.Name)
		}
		parent[spec.Name] = spec.Inherits
	}

	for name, p := range parent {
		if p == "" {
			continue
		}
		if _, ok := parent[p]; !ok {
			return nil, fmt.Errorf("resolver: environment %q inherits unknown environment %q", name, p)
		}
	}

	// Walk each environment to its root; revisiting a node within one
	// walk means a cycle.
	for name := range parent {
		seen := map[string]bool{}
		for cur := name; cur != ""; cur = parent[cur] {
			if seen[cur] {
				return nil, fmt.Errorf("resolver: inheritance cycle through environment %q", cur)
			}
			seen[cur] = true
		}
	}

	return parent, nil
}

// Known reports whether the environment is declared.
func (e *Environments) Known(env string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.parent[env]
	return ok
}

// Chain returns the resolution order for env: the environment itself
// first, then each ancestor up to the root.
func (e *Environments) Chain(env string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.parent[env]; !ok {
		return nil, fmt.Errorf("resolver: unknown environment %q", env)
	}

	var chain []string
	for cur := env; cur != ""; cur = e.parent[cur] {
		chain = append(chain, cur)
	}
	return chain, nil
}

// Dependents returns env plus every environment that inherits from it,
// directly or transitively. A write at env can change resolution for
// exactly these environments.
func (e *Environments) Dependents(env string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []string{env}
	for name := range e.parent {
		if name == env {
			continue
		}
		for cur := e.parent[name]; cur != ""; cur = e.parent[cur] {
			if cur == env {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Names returns all declared environments, sorted.
func (e *Environments) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.parent))
	for name := range e.parent {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
