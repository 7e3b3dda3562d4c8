package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Key identifies an identity-bearing object
type Key struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (k Key) String() string {
	return k.Type + ":" + k.ID
}

// Fields is a set of field values keyed by storage key. Values are nil,
// scalars (string, bool, int64, float64, time.Time), []interface{} of
// scalars, *Object or []*Object.
type Fields map[string]interface{}

// FieldKey returns the storage key of a field for the resolved argument
// values. A field without arguments is stored under its name.
//
//	FieldKey("whoAmI", map[string]interface{}{"choice": "FROG"}) == `whoAmI({"choice":"FROG"})`
func FieldKey(name string, args map[string]interface{}) string {
	if len(args) == 0 {
		return name
	}
	data, err := json.Marshal(args)
	if err != nil {
		return name + "(" + fmt.Sprint(args) + ")"
	}
	return name + "(" + string(data) + ")"
}

// FieldName strips the argument suffix from a storage key
func FieldName(key string) string {
	if i := strings.IndexByte(key, '('); i >= 0 {
		return key[:i]
	}
	return key
}

type subscriber struct {
	field string
	fn    func(o *Object, field string)
}

// Object is the canonical instance of one entity. Field values are only
// written by the Store.
type Object struct {
	typ  string
	id   string
	root string

	refs atomic.Int32

	mu       sync.RWMutex
	fields   Fields
	versions map[string]uint64
	subs     map[int]subscriber
	nextSub  int
}

func newObject(typ, id, root string) *Object {
	return &Object{
		typ:      typ,
		id:       id,
		root:     root,
		fields:   make(Fields),
		versions: make(map[string]uint64),
		subs:     make(map[int]subscriber),
	}
}

// Type returns the concrete type name
func (o *Object) Type() string { return o.typ }

// ID returns the global id, empty for non-identity objects
func (o *Object) ID() string { return o.id }

// Key returns the identity key
func (o *Object) Key() Key { return Key{Type: o.typ, ID: o.id} }

// HasIdentity returns true for objects indexed by (type, id)
func (o *Object) HasIdentity() bool { return o.id != "" }

// RootName returns the root name for root objects, or ""
func (o *Object) RootName() string { return o.root }

// IsRoot returns true for root objects
func (o *Object) IsRoot() bool { return o.root != "" }

// Refs returns the number of live retains
func (o *Object) Refs() int { return int(o.refs.Load()) }

// Get returns the value stored under a field key
func (o *Object) Get(key string) (interface{}, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.fields[key]
	return v, ok
}

// Version returns a counter bumped on every change of the field key
func (o *Object) Version(key string) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.versions[key]
}

// Has returns true if a value is stored under key
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Keys returns the stored field keys, sorted
func (o *Object) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of the stored fields
func (o *Object) Values() Fields {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(Fields, len(o.fields))
	for k, v := range o.fields {
		out[k] = v
	}
	return out
}

// Subscribe registers fn for changes of one field key. A bare field name
// also matches every argument tuple stored under that name. fn runs on the
// goroutine applying the update, after the object is unlocked.
func (o *Object) Subscribe(key string, fn func(o *Object, field string)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	o.subs[id] = subscriber{field: key, fn: fn}
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Subscribers returns the number of live subscriptions
func (o *Object) Subscribers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

// set writes fields and returns the notifications to deliver
func (o *Object) set(fields Fields) ([]func(), error) {
	for k, v := range fields {
		if err := checkValue(v); err != nil {
			return nil, fmt.Errorf("field %s of %s: %w", k, o.typ, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	changed := make(map[string]bool, len(fields))
	for k, v := range fields {
		old, had := o.fields[k]
		o.fields[k] = v
		_, isList := v.([]*Object)
		if !had || isList || !sameValue(old, v) {
			changed[k] = true
			changed[FieldName(k)] = true
			o.versions[k]++
		}
	}

	var notes []func()
	for _, sub := range o.subs {
		if changed[sub.field] {
			fn, field := sub.fn, sub.field
			notes = append(notes, func() { fn(o, field) })
		}
	}
	return notes, nil
}

// children returns the objects referenced by field values
func (o *Object) children() []*Object {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*Object
	for _, v := range o.fields {
		switch x := v.(type) {
		case *Object:
			if x != nil {
				out = append(out, x)
			}
		case []*Object:
			for _, c := range x {
				if c != nil {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func checkValue(v interface{}) error {
	switch x := v.(type) {
	case nil, string, bool, int64, float64, time.Time, *Object, []*Object:
		return nil
	case []interface{}:
		for _, e := range x {
			if err := checkValue(e); err != nil {
				return err
			}
			if _, ok := e.(*Object); ok {
				return fmt.Errorf("%w: object inside scalar list", ErrUnsupportedValue)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func sameValue(a, b interface{}) bool {
	switch x := a.(type) {
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}
