package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// VADFactory builds a voice-activity stage from its configuration.
type VADFactory func(VADConfig) (pipeline.Stage, error)

// SinkFactory builds a segment sink from its configuration. ctx bounds any
// connection setup the sink performs.
type SinkFactory func(ctx context.Context, entry SinkEntry) (sink.Sink, error)

// Registry maps VAD engine and sink type names to their constructor
// functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	vad   map[VADEngine]VADFactory
	sinks map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:   make(map[VADEngine]VADFactory),
		sinks: make(map[string]SinkFactory),
	}
}

// RegisterVAD registers a VAD stage factory under engine.
// Subsequent calls with the same engine overwrite the previous registration.
func (r *Registry) RegisterVAD(engine VADEngine, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[engine] = factory
}

// RegisterSink registers a sink factory under typ.
func (r *Registry) RegisterSink(typ string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[typ] = factory
}

// CreateVAD instantiates the stage registered under cfg.Engine.
// Returns [ErrNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateVAD(cfg VADConfig) (pipeline.Stage, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateSink instantiates the sink registered under entry.Type.
func (r *Registry) CreateSink(ctx context.Context, entry SinkEntry) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[entry.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrNotRegistered, entry.Type)
	}
	return factory(ctx, entry)
}

// SinkTypes returns the registered sink types in sorted order.
func (r *Registry) SinkTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.sinks))
	for t := range r.sinks {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
