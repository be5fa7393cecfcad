package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voicecue/voicecue/pkg/audio"
)

// ErrSourceNotRegistered is returned by [Registry.CreateSource] when no
// factory has been registered under the requested source name.
var ErrSourceNotRegistered = errors.New("config: audio source not registered")

// Registry maps audio source names to their constructor functions, so the
// capture backend can be selected from configuration. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterSource registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateSource instantiates the audio source selected by cfg.Source.
// Returns [ErrSourceNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, cfg.Source)
	}
	return factory(cfg)
}
