package eviction

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultStrategy is the strategy used when none is configured.
const DefaultStrategy = "lru"

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Strategy)
)

// Register registers a new eviction strategy factory.
func Register(name string, factory func() Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// GetStrategy returns a new instance of the strategy with the given name.
// An empty name selects DefaultStrategy.
func GetStrategy(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategy
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", name)
	}
	return factory(), nil
}

// Names lists the registered strategies.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
