// Package modules defines the processing-capability contract for docq.
//
// A Module is a named text processor: it turns a submitted document into a
// result, and can optionally convert a stored result into another format.
// The queue itself never calls Process; workers do. Queue backends only
// touch a module for format conversion on result retrieval.
//
// The registry is built explicitly at startup and passed to the components
// that need it; there is no self-registration.
package modules

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknown is returned when a module name has no registered capability.
var ErrUnknown = errors.New("unknown module")

// Module is a named text-processing capability.
type Module interface {
	// Name returns the module name, which doubles as the task namespace.
	Name() string

	// Process transforms a document into a result.
	Process(text string) (string, error)

	// Convert renders a stored result in the requested format.
	// It fails for formats the module does not support.
	Convert(result, format string) (string, error)

	// CheckStatus probes whether the module's backing service is usable.
	CheckStatus(ctx context.Context) error
}

// Registry maps module names to their capabilities.
type Registry struct {
	mods map[string]Module
}

// NewRegistry builds a registry from the given modules.
func NewRegistry(mods ...Module) *Registry {
	r := &Registry{mods: make(map[string]Module, len(mods))}
	for _, m := range mods {
		r.mods[m.Name()] = m
	}
	return r
}

// Get looks up a module by name.
func (r *Registry) Get(name string) (Module, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	m, ok := r.mods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return m, nil
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.mods))
	for name := range r.mods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Convert renders result in the requested format using the named module.
func (r *Registry) Convert(module, result, format string) (string, error) {
	m, err := r.Get(module)
	if err != nil {
		return "", err
	}
	return m.Convert(result, format)
}
