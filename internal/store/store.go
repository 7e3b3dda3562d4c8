// Package store is the canonical object store. Every identity-bearing entity
// has exactly one Object per (type, id) for the lifetime of the store, and
// every operation result hangs off a named root object. Views read from the
// store and subscribe to per-field change notifications; only the store
// writes field values.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/gqlsync/internal/logging"
)

// Store holds the canonical objects
type Store struct {
	mu      sync.RWMutex
	objects map[Key]*Object
	roots   map[string]*Object

	// held shared by write batches and exclusively by Collect
	batch sync.RWMutex
}

// New creates an empty store
func New() *Store {
	return &Store{
		objects: make(map[Key]*Object),
		roots:   make(map[string]*Object),
	}
}

// Upsert writes fields to the object for (typ, id), allocating it on first
// sight. Later calls for the same key mutate the same Object in place and
// notify the subscribers of every changed field.
func (s *Store) Upsert(typ, id string, fields Fields) (*Object, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentity, typ)
	}
	key := Key{Type: typ, ID: id}

	s.mu.Lock()
	o, ok := s.objects[key]
	if !ok {
		o = newObject(typ, id, "")
		s.objects[key] = o
	}
	s.mu.Unlock()

	if !ok {
		logging.Debug().Str("key", key.String()).Msg("object created")
	}
	if err := s.Update(o, fields); err != nil {
		return nil, err
	}
	return o, nil
}

// NewRoot creates the root object registered under name. A name holds at
// most one root.
func (s *Store) NewRoot(name, typ string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roots[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRootExists, name)
	}
	o := newObject(typ, "", name)
	s.roots[name] = o
	logging.Debug().Str("root", name).Str("type", typ).Msg("root created")
	return o, nil
}

// Root returns the root registered under name
func (s *Store) Root(name string) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.roots[name]
	return o, ok
}

// UpsertRoot writes fields to the single root under name, creating it if
// absent
func (s *Store) UpsertRoot(name, typ string, fields Fields) (*Object, error) {
	s.mu.Lock()
	o, ok := s.roots[name]
	if !ok {
		o = newObject(typ, "", name)
		s.roots[name] = o
	}
	s.mu.Unlock()

	if o.typ != typ {
		return nil, fmt.Errorf("%w: root %s is %s, not %s", ErrTypeMismatch, name, o.typ, typ)
	}
	if err := s.Update(o, fields); err != nil {
		return nil, err
	}
	return o, nil
}

// DropRoot removes the root registered under name
func (s *Store) DropRoot(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[name]; !ok {
		return false
	}
	delete(s.roots, name)
	return true
}

// Roots returns the root names, sorted
func (s *Store) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.roots))
	for name := range s.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Embed writes a non-identity object owned by parent's field. If the field
// already holds an embedded object of the same type it is updated in place,
// otherwise a new one is allocated. The parent field itself is not written.
func (s *Store) Embed(parent *Object, field, typ string, fields Fields) (*Object, error) {
	if parent != nil {
		if cur, ok := parent.Get(field); ok {
			if o, ok := cur.(*Object); ok && o != nil && !o.HasIdentity() && !o.IsRoot() && o.typ == typ {
				if err := s.Update(o, fields); err != nil {
					return nil, err
				}
				return o, nil
			}
		}
	}
	o := newObject(typ, "", "")
	if err := s.Update(o, fields); err != nil {
		return nil, err
	}
	return o, nil
}

// Update writes fields to an object and notifies the subscribers of the
// fields whose value changed. List fields always notify since their
// containers are rebuilt on every write.
func (s *Store) Update(o *Object, fields Fields) error {
	notes, err := o.set(fields)
	if err != nil {
		return err
	}
	for _, fn := range notes {
		fn()
	}
	return nil
}

// Get returns the identity object for key
func (s *Store) Get(key Key) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	return o, ok
}

// Objects returns the identity objects of typ ordered by id. An empty typ
// returns every identity object ordered by key.
func (s *Store) Objects(typ string) []*Object {
	s.mu.RLock()
	out := make([]*Object, 0, len(s.objects))
	for k, o := range s.objects {
		if typ == "" || k.Type == typ {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].typ != out[j].typ {
			return out[i].typ < out[j].typ
		}
		return out[i].id < out[j].id
	})
	return out
}

// Types returns the types with at least one identity object, sorted
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for k := range s.objects {
		seen[k.Type] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of identity objects
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Retain records a live reference to o, typically a proxy
func (s *Store) Retain(o *Object) {
	o.refs.Add(1)
}

// Release drops a reference taken with Retain. Unreferenced objects stay
// indexed until Collect.
func (s *Store) Release(o *Object) {
	if o.refs.Add(-1) < 0 {
		o.refs.Store(0)
	}
}

// Batch runs fn as one write batch. Objects written early in a batch are
// unreachable until the batch links them to their parent, so Collect waits
// for running batches. fn must not call Collect or start another batch.
func (s *Store) Batch(fn func() error) error {
	s.batch.RLock()
	defer s.batch.RUnlock()
	return fn()
}

// Collect evicts identity objects that are neither retained nor reachable
// from a root or a retained object, and returns how many were evicted. It
// must not be called from a batch or a field subscriber.
func (s *Store) Collect() int {
	s.batch.Lock()
	defer s.batch.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := make(map[*Object]bool)
	var stack []*Object
	for _, r := range s.roots {
		stack = append(stack, r)
	}
	for _, o := range s.objects {
		if o.Refs() > 0 {
			stack = append(stack, o)
		}
	}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if marked[o] {
			continue
		}
		marked[o] = true
		stack = append(stack, o.children()...)
	}

	evicted := 0
	for k, o := range s.objects {
		if !marked[o] {
			delete(s.objects, k)
			evicted++
		}
	}
	if evicted > 0 {
		logging.Debug().Int("evicted", evicted).Int("remaining", len(s.objects)).Msg("store collected")
	}
	return evicted
}

// Clear drops every object and root
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[Key]*Object)
	s.roots = make(map[string]*Object)
}
