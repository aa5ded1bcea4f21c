package pinning

import (
	"fmt"
	"sync"
)

// Factory builds a pinning policy from its registered defaults.
type Factory func() Policy

var (
	registryOnce sync.Once
	registryMu   sync.RWMutex
	registry     map[string]Factory
)

// The builtin registry has process-wide lifecycle: initialized once on
// first use, never freed.
func initBuiltins() {
	registryOnce.Do(func() {
		registry = map[string]Factory{
			"default": func() Policy {
				return NewDefaultPolicy(MetadataCacheOptions{}, false, false)
			},
			"scoped": func() Policy {
				return NewScopedPolicy(ScopedOptions{})
			},
		}
	})
}

// RegisterFactory adds a named policy factory.
func RegisterFactory(name string, f Factory) {
	initBuiltins()
	registryMu.Lock()
	registry[name] = f
	registryMu.Unlock()
}

// NewFromName builds a policy registered under name.
func NewFromName(name string) (Policy, error) {
	initBuiltins()
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pinning: unknown policy %q", name)
	}
	return f(), nil
}
