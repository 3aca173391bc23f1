package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]*Schema)
	registryMu sync.RWMutex
)

// Register adds a schema to the registry.
// Panics if the schema is invalid or a schema with the same name exists.
func Register(s *Schema) {
	if err := s.Validate(); err != nil {
		panic(err.Error())
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[s.Name]; exists {
		panic(fmt.Sprintf("schema already registered: %s", s.Name))
	}
	registry[s.Name] = s
}

// Get returns a schema by name.
func Get(name string) (*Schema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	s, ok := registry[name]
	return s, ok
}

// Names returns all registered schema names, sorted.
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

// Clear removes all registered schemas.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Schema)
}
