package view

import (
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/gqlsync/internal/schema"
	"github.com/yourusername/gqlsync/internal/store"
)

// Proxy is a read view over one canonical object. It holds a retain on the
// object until Close.
type Proxy struct {
	scope *Scope
	obj   *store.Object
	desc  *schema.Object

	mu       sync.Mutex
	closed   bool
	children map[string]*Proxy
	lists    map[string]*List
	tracked  map[string]bool
	cancels  []func()
}

func newProxy(s *Scope, o *store.Object) (*Proxy, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil object", ErrNotObject)
	}
	desc, ok := s.schema.Object(o.Type())
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownType, o.Type())
	}
	s.store.Retain(o)
	return &Proxy{
		scope:    s,
		obj:      o,
		desc:     desc,
		children: make(map[string]*Proxy),
		lists:    make(map[string]*List),
		tracked:  make(map[string]bool),
	}, nil
}

// TypeName returns the concrete type, the value of __typename
func (p *Proxy) TypeName() string { return p.obj.Type() }

// ID returns the global id, empty for non-identity types
func (p *Proxy) ID() string { return p.obj.ID() }

// Concrete returns the underlying canonical object
func (p *Proxy) Concrete() *store.Object { return p.obj }

// Descriptor returns the object type descriptor
func (p *Proxy) Descriptor() *schema.Object { return p.desc }

// Key returns the storage key of a field under the current variables
func (p *Proxy) Key(name string) (string, error) {
	f, ok := p.desc.Field(name)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, p.desc.Name, name)
	}
	return store.FieldKey(name, p.scope.args(f)), nil
}

// Field returns the raw stored value of a field. Absent fields read as nil.
func (p *Proxy) Field(name string) (interface{}, error) {
	key, err := p.Key(name)
	if err != nil {
		return nil, err
	}
	v, _ := p.obj.Get(key)
	return v, nil
}

// String returns a string, ID, enum or Decimal field, or "" if unset
func (p *Proxy) String(name string) string {
	v, _ := p.Field(name)
	s, _ := v.(string)
	return s
}

// Int returns an Int field, or 0 if unset
func (p *Proxy) Int(name string) int64 {
	v, _ := p.Field(name)
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}

// Float returns a Float field, or 0 if unset
func (p *Proxy) Float(name string) float64 {
	v, _ := p.Field(name)
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

// Bool returns a Boolean field, or false if unset
func (p *Proxy) Bool(name string) bool {
	v, _ := p.Field(name)
	b, _ := v.(bool)
	return b
}

// Time returns a DateTime, Date or Time field, or the zero time if unset
func (p *Proxy) Time(name string) time.Time {
	v, _ := p.Field(name)
	t, _ := v.(time.Time)
	return t
}

// IsNull returns true if the field is unset or null
func (p *Proxy) IsNull(name string) bool {
	v, err := p.Field(name)
	return err == nil && v == nil
}

// Object returns a proxy over an object field. A null field returns nil
// and no error. The child proxy is reused until the field points to
// another object.
func (p *Proxy) Object(name string) (*Proxy, error) {
	key, err := p.Key(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	v, _ := p.obj.Get(key)
	if v == nil {
		p.dropChildLocked(key)
		return nil, nil
	}
	o, ok := v.(*store.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotObject, p.desc.Name, name)
	}

	if c, ok := p.children[key]; ok {
		if c.obj == o {
			return c, nil
		}
		p.dropChildLocked(key)
	}

	cp, err := newProxy(p.scope, o)
	if err != nil {
		return nil, err
	}
	p.children[key] = cp
	p.trackLocked(key)
	return cp, nil
}

// List returns the container for a list of objects. A new container is
// built whenever the list field was rewritten; the previous container is
// closed. Null elements are nil proxies.
func (p *Proxy) List(name string) (*List, error) {
	key, err := p.Key(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	version := p.obj.Version(key)
	if l, ok := p.lists[key]; ok && l.version == version {
		return l, nil
	}
	v, _ := p.obj.Get(key)

	var objs []*store.Object
	switch x := v.(type) {
	case nil:
	case []*store.Object:
		objs = x
	case []interface{}:
		// a restored list of nulls carries no object to type it
		for _, e := range x {
			if e != nil {
				return nil, fmt.Errorf("%w: %s.%s holds scalars", ErrNotList, p.desc.Name, name)
			}
		}
		objs = make([]*store.Object, len(x))
	default:
		return nil, fmt.Errorf("%w: %s.%s", ErrNotList, p.desc.Name, name)
	}

	l := &List{version: version, items: make([]*Proxy, 0, len(objs))}
	for _, o := range objs {
		if o == nil {
			l.items = append(l.items, nil)
			continue
		}
		cp, err := newProxy(p.scope, o)
		if err != nil {
			l.close()
			return nil, err
		}
		l.items = append(l.items, cp)
	}

	if old, ok := p.lists[key]; ok {
		old.close()
	}
	p.lists[key] = l
	p.trackLocked(key)
	return l, nil
}

// ScalarList returns a list of scalars
func (p *Proxy) ScalarList(name string) ([]interface{}, error) {
	v, err := p.Field(name)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		copy(out, x)
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNotList, p.desc.Name, name)
}

// Watch calls fn whenever the field changes under any argument values, so a
// watcher keeps firing after the scope variables switch to another tuple.
func (p *Proxy) Watch(name string, fn func()) (cancel func(), err error) {
	if _, ok := p.desc.Field(name); !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, p.desc.Name, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	cancel = p.obj.Subscribe(name, func(*store.Object, string) { fn() })
	p.cancels = append(p.cancels, cancel)
	return cancel, nil
}

// Close releases the object and every child proxy and container. Reading
// scalar fields still works after Close.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancels := p.cancels
	children := p.children
	lists := p.lists
	p.cancels = nil
	p.children = nil
	p.lists = nil
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, c := range children {
		c.Close()
	}
	for _, l := range lists {
		l.close()
	}
	p.scope.store.Release(p.obj)
}

// trackLocked subscribes to a cached field so stale children and containers
// are dropped as soon as the field changes
func (p *Proxy) trackLocked(key string) {
	if p.tracked[key] {
		return
	}
	p.tracked[key] = true
	p.cancels = append(p.cancels, p.obj.Subscribe(key, func(_ *store.Object, k string) {
		p.invalidate(k)
	}))
}

func (p *Proxy) invalidate(key string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var stale *Proxy
	if c, ok := p.children[key]; ok {
		if v, _ := p.obj.Get(key); v != c.obj {
			stale = c
			delete(p.children, key)
		}
	}
	l := p.lists[key]
	delete(p.lists, key)
	p.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if l != nil {
		l.close()
	}
}

func (p *Proxy) dropChildLocked(key string) {
	if c, ok := p.children[key]; ok {
		delete(p.children, key)
		c.Close()
	}
}
