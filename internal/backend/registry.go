package backend

import (
	"fmt"
	"sort"

	commonerrors "github.com/slok/sloreport/pkg/common/errors"
)

// Factory creates a backend from its provider specific options (addresses,
// regions, credentials references...).
type Factory func(options map[string]string) (Backend, error)

// Registry is a static mapping of backend class names to factories, resolved
// at startup. Replaces any kind of dynamic class lookup, the registered set
// is the full set of available backends.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a backend factory under the given class name.
func (r *Registry) Register(class string, f Factory) error {
	if class == "" {
		return fmt.Errorf("backend class is required")
	}

	_, ok := r.factories[class]
	if ok {
		return fmt.Errorf("backend class %q already registered", class)
	}

	r.factories[class] = f
	return nil
}

// MustRegister is like Register but panics, used on startup wiring where a
// duplicated class is a programming error.
func (r *Registry) MustRegister(class string, f Factory) {
	err := r.Register(class, f)
	if err != nil {
		panic(err)
	}
}

// New creates a backend for the given class name.
func (r *Registry) New(class string, options map[string]string) (Backend, error) {
	f, ok := r.factories[class]
	if !ok {
		return nil, fmt.Errorf("unknown backend class %q (available: %v): %w", class, r.Classes(), commonerrors.ErrInvalidConfiguration)
	}

	b, err := f(options)
	if err != nil {
		return nil, fmt.Errorf("could not create %q backend: %w", class, err)
	}

	return b, nil
}

// Classes returns the registered backend class names, sorted.
func (r *Registry) Classes() []string {
	classes := make([]string, 0, len(r.factories))
	for class := range r.factories {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	return classes
}
