package factory

import (
	"fmt"
	"sort"
	"sync"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
)

// SourceFactory builds a flow source from the application config.
type SourceFactory func(cfg *config.Config) (model.FlowSource, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]SourceFactory)
)

// RegisterSource registers a flow source type with its factory function.
func RegisterSource(name string, f SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("flow source type '%s' already registered", name))
	}
	registry[name] = f
}

// Sources lists the registered source types in alphabetical order.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSource creates the flow source selected by cfg.Source.Type.
func NewSource(cfg *config.Config) (model.FlowSource, error) {
	mu.RLock()
	f, ok := registry[cfg.Source.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown flow source type: '%s'", cfg.Source.Type)
	}

	logging.Info().Str("source", cfg.Source.Type).Msg("creating flow source")
	src, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating flow source '%s': %w", cfg.Source.Type, err)
	}
	return src, nil
}
