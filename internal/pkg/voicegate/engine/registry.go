package engine

import (
	"fmt"
	"sort"
	"sync"

	"voicegate/internal/pkg/voicegate/capability"
)

// Config is what a backend factory receives. ModelDir has already been
// checked to exist; backends validate their own required files.
type Config struct {
	ModelDir string
	Device   string
}

type Factory func(cfg Config) (Engine, error)

type backend struct {
	capability capability.Name
	factory    Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]backend)
)

func Register(name string, c capability.Name, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("engine: Register factory is nil")
	}
	if !c.Valid() {
		panic("engine: Register with unknown capability " + string(c))
	}
	if _, dup := registry[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	registry[name] = backend{capability: c, factory: factory}
}

func New(name string, c capability.Name, cfg Config) (Engine, error) {
	registryMu.RLock()
	b, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownBackend, name, Backends(c))
	}
	if b.capability != c {
		return nil, fmt.Errorf("%w: backend %q serves %s, not %s", ErrUnknownBackend, name, b.capability, c)
	}
	return b.factory(cfg)
}

// Backends lists registered backends for c, sorted.
func Backends(c capability.Name) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name, b := range registry {
		if b.capability == c {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
