// Package view builds operation-scoped read views over the canonical store.
//
// A Scope belongs to one operation. It writes response payloads into the
// store and wraps store objects in Proxy values that read the current field
// values, narrow interface-typed fields by their __typename and rebuild list
// containers whenever the underlying list is rewritten. Proxies never write
// to the store.
package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yourusername/gqlsync/internal/models"
	"github.com/yourusername/gqlsync/internal/schema"
	"github.com/yourusername/gqlsync/internal/store"
)

// Scope ties a store and a schema to the variables of one operation
type Scope struct {
	store  *store.Store
	schema *schema.Schema

	mu      sync.Mutex
	vars    *models.Variables
	proxies []*Proxy
}

// NewScope creates a scope. vars may be nil.
func NewScope(st *store.Store, sc *schema.Schema, vars *models.Variables) *Scope {
	return &Scope{store: st, schema: sc, vars: vars.Clone()}
}

func (s *Scope) Store() *store.Store    { return s.store }
func (s *Scope) Schema() *schema.Schema { return s.schema }

// Variables returns a copy of the current variables
func (s *Scope) Variables() *models.Variables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars.Clone()
}

// SetVariables replaces the variables used to resolve field arguments
func (s *Scope) SetVariables(vars *models.Variables) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = vars.Clone()
}

// Proxy wraps o in a proxy owned by the scope
func (s *Scope) Proxy(o *store.Object) (*Proxy, error) {
	p, err := newProxy(s, o)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.proxies = append(s.proxies, p)
	s.mu.Unlock()
	return p, nil
}

// Close closes every proxy created through the scope
func (s *Scope) Close() {
	s.mu.Lock()
	proxies := s.proxies
	s.proxies = nil
	s.mu.Unlock()
	for _, p := range proxies {
		p.Close()
	}
}

// Materialize writes data as the first result of the root rootName and
// returns a proxy over the new root. A name is materialized at most once.
func (s *Scope) Materialize(rootName, rootType string, data json.RawMessage) (*Proxy, error) {
	var p *Proxy
	err := s.store.Batch(func() error {
		var err error
		p, err = s.materialize(rootName, rootType, data)
		return err
	})
	return p, err
}

func (s *Scope) materialize(rootName, rootType string, data json.RawMessage) (*Proxy, error) {
	if _, ok := s.store.Root(rootName); ok {
		return nil, fmt.Errorf("%w: %s", store.ErrRootExists, rootName)
	}
	fields, err := s.rootFields(rootType, data, nil)
	if err != nil {
		return nil, err
	}
	root, err := s.store.NewRoot(rootName, rootType)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(root, fields); err != nil {
		return nil, err
	}
	return s.Proxy(root)
}

// Refresh writes data into an already materialized root. Objects shared
// with other operations are updated in place through the store.
func (s *Scope) Refresh(rootName, rootType string, data json.RawMessage) error {
	return s.store.Batch(func() error {
		return s.refresh(rootName, rootType, data)
	})
}

func (s *Scope) refresh(rootName, rootType string, data json.RawMessage) error {
	root, ok := s.store.Root(rootName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoot, rootName)
	}
	if root.Type() != rootType {
		return fmt.Errorf("%w: root %s is %s, not %s", store.ErrTypeMismatch, rootName, root.Type(), rootType)
	}
	fields, err := s.rootFields(rootType, data, root)
	if err != nil {
		return err
	}
	return s.store.Update(root, fields)
}

// Apply materializes the root on first use and refreshes it afterwards
func (s *Scope) Apply(rootName, rootType string, data json.RawMessage) (*store.Object, error) {
	if _, ok := s.store.Root(rootName); !ok {
		p, err := s.Materialize(rootName, rootType, data)
		if err != nil {
			return nil, err
		}
		return p.Concrete(), nil
	}
	if err := s.Refresh(rootName, rootType, data); err != nil {
		return nil, err
	}
	root, _ := s.store.Root(rootName)
	return root, nil
}

func (s *Scope) rootFields(rootType string, data json.RawMessage, existing *store.Object) (store.Fields, error) {
	m, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	desc, err := s.schema.Resolve(rootType, "")
	if err != nil {
		return nil, err
	}
	return s.fields(desc, m, existing)
}

func decodeObject(data json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}

// args resolves the argument values of a field from the scope variables.
// Unset variables are left out.
func (s *Scope) args(f *schema.Field) map[string]interface{} {
	if len(f.Arguments) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(f.Arguments))
	for _, name := range f.ArgumentNames() {
		if v, ok := s.vars.Get(f.Arguments[name]); ok {
			out[name] = v
		}
	}
	return out
}

// fields converts one payload object into store fields. Child objects are
// written to the store before the returned fields reach their parent.
func (s *Scope) fields(desc *schema.Object, m map[string]interface{}, existing *store.Object) (store.Fields, error) {
	out := make(store.Fields, len(m))
	for name, raw := range m {
		if name == schema.TypenameField {
			continue
		}
		f, ok := desc.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, desc.Name, name)
		}
		key := store.FieldKey(name, s.args(f))
		v, err := s.value(f, raw, existing, key)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", desc.Name, name, err)
		}
		out[key] = v
	}
	return out, nil
}

func (s *Scope) value(f *schema.Field, raw interface{}, parent *store.Object, key string) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	composite := s.schema.IsComposite(f.Type)

	if f.List {
		items, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrNotList, raw)
		}
		if composite {
			// null elements keep their position
			objs := make([]*store.Object, 0, len(items))
			for _, item := range items {
				if item == nil {
					objs = append(objs, nil)
					continue
				}
				o, err := s.object(f.Type, item, nil, "")
				if err != nil {
					return nil, err
				}
				objs = append(objs, o)
			}
			return objs, nil
		}
		vals := make([]interface{}, len(items))
		for i, item := range items {
			v, err := s.schema.Coerce(f.Type, item)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return vals, nil
	}

	if composite {
		return s.object(f.Type, raw, parent, key)
	}
	return s.schema.Coerce(f.Type, raw)
}

// object writes one payload object and returns its canonical instance
func (s *Scope) object(declared string, raw interface{}, parent *store.Object, key string) (*store.Object, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, raw)
	}
	disc, _ := m[schema.TypenameField].(string)
	desc, err := s.schema.Resolve(declared, disc)
	if err != nil {
		return nil, err
	}

	if !desc.Identity {
		var existing *store.Object
		if parent != nil {
			if cur, ok := parent.Get(key); ok {
				existing, _ = cur.(*store.Object)
			}
		}
		fields, err := s.fields(desc, m, existing)
		if err != nil {
			return nil, err
		}
		return s.store.Embed(parent, key, desc.Name, fields)
	}

	id := idOf(m[schema.IDField])
	if id == "" {
		return nil, fmt.Errorf("%w: %s", store.ErrMissingIdentity, desc.Name)
	}
	existing, _ := s.store.Get(store.Key{Type: desc.Name, ID: id})
	fields, err := s.fields(desc, m, existing)
	if err != nil {
		return nil, err
	}
	return s.store.Upsert(desc.Name, id, fields)
}

func idOf(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}
