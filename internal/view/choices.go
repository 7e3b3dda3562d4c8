package view

import (
	"fmt"
	"sync"

	"github.com/yourusername/gqlsync/internal/schema"
)

// Choices maps the concrete types of an interface or union to the
// constructors of their typed views. Unknown discriminators are rejected
// rather than mapped to a default.
type Choices[T any] struct {
	iface string

	mu    sync.RWMutex
	ctors map[string]func(*Proxy) T
}

// NewChoices creates an empty narrowing table for an interface
func NewChoices[T any](iface string) *Choices[T] {
	return &Choices[T]{iface: iface, ctors: make(map[string]func(*Proxy) T)}
}

// Register adds the constructor for one concrete type
func (c *Choices[T]) Register(typeName string, ctor func(*Proxy) T) *Choices[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctors[typeName] = ctor
	return c
}

// Narrow builds the typed view for the proxy's concrete type
func (c *Choices[T]) Narrow(p *Proxy) (T, error) {
	var zero T
	if p == nil {
		return zero, fmt.Errorf("%w: narrowing a null %s", ErrNotObject, c.iface)
	}
	c.mu.RLock()
	ctor, ok := c.ctors[p.TypeName()]
	c.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s is not a choice of %s", schema.ErrUnknownDiscriminator, p.TypeName(), c.iface)
	}
	return ctor(p), nil
}

// Object reads an interface-typed field of parent and narrows it. A null
// field returns the zero value and no error.
func (c *Choices[T]) Object(parent *Proxy, field string) (T, error) {
	var zero T
	p, err := parent.Object(field)
	if err != nil || p == nil {
		return zero, err
	}
	return c.Narrow(p)
}

// List narrows every element of an interface-typed list field. Null
// elements are the zero value of T.
func (c *Choices[T]) List(parent *Proxy, field string) ([]T, error) {
	l, err := parent.List(field)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, l.Len())
	for _, p := range l.items {
		if p == nil {
			var zero T
			out = append(out, zero)
			continue
		}
		v, err := c.Narrow(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Cast treats v as the concrete view type T. It fails instead of coercing
// when v holds another type.
func Cast[T any](v interface{}) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: have %T, want %T", ErrNarrowMismatch, v, zero)
	}
	return t, nil
}
