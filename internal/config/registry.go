package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// Built-in device backend names. Their factories are registered by the
// application, which keeps this package free of cgo dependencies.
const (
	BackendPortAudio = "portaudio"
	BackendFile      = "file"
)

// BuiltinBackends lists the device backends the application registers.
var BuiltinBackends = []string{BackendPortAudio, BackendFile}

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: device backend not registered")

// InputFactory builds a microphone from its configuration.
type InputFactory func(CaptureConfig) (audio.InputDevice, error)

// OutputFactory builds a speaker opener from its configuration. The device
// itself is opened lazily through the returned opener.
type OutputFactory func(PlaybackConfig) (audio.OutputOpener, error)

// Registry maps device backend names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	input  map[string]InputFactory
	output map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		input:  make(map[string]InputFactory),
		output: make(map[string]OutputFactory),
	}
}

// RegisterInput registers a microphone factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterInput(name string, factory InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[name] = factory
}

// RegisterOutput registers a speaker factory under name.
func (r *Registry) RegisterOutput(name string, factory OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateInput instantiates the microphone using the factory registered under
// cfg.Backend. Returns [ErrBackendNotRegistered] if there is none.
func (r *Registry) CreateInput(cfg CaptureConfig) (audio.InputDevice, error) {
	r.mu.RLock()
	factory, ok := r.input[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateOutput instantiates the speaker opener using the factory registered
// under cfg.Backend.
func (r *Registry) CreateOutput(cfg PlaybackConfig) (audio.OutputOpener, error) {
	r.mu.RLock()
	factory, ok := r.output[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Backends returns the registered input and output backend names, sorted.
func (r *Registry) Backends() (inputs, outputs []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.input {
		inputs = append(inputs, n)
	}
	for n := range r.output {
		outputs = append(outputs, n)
	}
	sort.Strings(inputs)
	sort.Strings(outputs)
	return inputs, outputs
}
