// Package registry implements the process-wide provider-class registry: a
// mapping from provider-class name to a factory that builds a
// provider.Provider from a hierarchical configuration bundle. Concrete
// provider packages (pkg/providers/...) register themselves from an init
// function; a surrounding bootstrap (cmd/locationengined) reads the
// registry and calls engine.AddProvider. The engine itself never consults
// this package.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/starfail/locationengine/pkg/provider"
)

// Config is a hierarchical string→string property bundle, flattened with
// "." as the hierarchy separator (e.g. "serial.device", "serial.baud").
type Config map[string]string

// Get returns the raw string value for key, or ("", false) if unset.
func (c Config) Get(key string) (string, bool) {
	v, ok := c[key]
	return v, ok
}

// GetDefault returns the value for key, or def if unset.
func (c Config) GetDefault(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Factory builds a provider from its configuration bundle.
type Factory func(cfg Config) (provider.Provider, error)

var (
	mu    sync.RWMutex
	table = make(map[string]Factory)
)

// Register adds factory under the given provider-class name. Calling
// Register twice for the same name replaces the previous factory, mainly
// to let tests override a production registration.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	table[name] = factory
}

// Create instantiates the provider registered under name with cfg. It
// fails if no such class was registered.
func Create(name string, cfg Config) (provider.Provider, error) {
	mu.RLock()
	factory, ok := table[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: no provider class registered as %q", name)
	}
	return factory(cfg)
}

// Names returns every currently registered provider-class name, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
