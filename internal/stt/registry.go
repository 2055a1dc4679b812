package stt

import (
	"os"
	"sort"
	"sync"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/errs"
)

// nativeWhisper is set when the binary is built with in-process whisper.cpp.
var nativeWhisper func(config.WhisperConfig) (Engine, error)

// Factory builds an engine on first use.
type Factory func() (Engine, error)

type registration struct {
	factory Factory
	model   string
}

// Registry resolves engines by name and answers model availability.
type Registry struct {
	mu      sync.Mutex
	entries map[string]registration
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registration),
		engines: make(map[string]Engine),
	}
}

// NewRegistryFromConfig registers every engine this build supports.
func NewRegistryFromConfig(cfg config.STTConfig) *Registry {
	r := NewRegistry()
	r.Register(EngineWhisper, cfg.Whisper.Model, func() (Engine, error) {
		return NewWhisperEngine(cfg.Whisper)
	})
	r.Register(EngineParakeet, cfg.Parakeet.Model, func() (Engine, error) {
		return NewParakeetEngine(cfg.Parakeet)
	})
	r.Register(EngineMock, "", func() (Engine, error) {
		return NewMockEngine(), nil
	})
	if nativeWhisper != nil {
		r.Register("whisper-native", cfg.Whisper.Model, func() (Engine, error) {
			return nativeWhisper(cfg.Whisper)
		})
	}
	return r
}

// Register adds or replaces an engine. model is the default model path used
// for availability checks; empty means the engine needs no model.
func (r *Registry) Register(name, model string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{factory: factory, model: model}
	delete(r.engines, name)
}

// Engine returns the cached instance for name, building it on first use.
func (r *Registry) Engine(name string) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if engine, ok := r.engines[name]; ok {
		return engine, nil
	}
	entry, ok := r.entries[name]
	if !ok {
		return nil, errs.Newf(errs.KindModelNotLoaded, "engine %q is not available in this build", name)
	}
	engine, err := entry.factory()
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindModelNotLoaded, "initialize engine %q", name)
	}
	r.engines[name] = engine
	return engine, nil
}

// ModelLoaded reports whether engine is registered and its model exists on
// disk. An empty model falls back to the engine's configured default.
func (r *Registry) ModelLoaded(engine, model string) bool {
	r.mu.Lock()
	entry, ok := r.entries[engine]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if model == "" {
		model = entry.model
	}
	if model == "" {
		return true
	}
	_, err := os.Stat(model)
	return err == nil
}

// DefaultModel returns the configured model path for engine.
func (r *Registry) DefaultModel(engine string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[engine].model
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
