package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// SnapshotVersion is the current snapshot file format version
	SnapshotVersion = 1
	// DefaultSnapshotDir is the directory under $HOME for snapshots
	DefaultSnapshotDir = ".local/state/gqlsync"
	// DefaultSnapshotFile is the snapshot file name
	DefaultSnapshotFile = "store.json"
)

// Snapshot is the serialized form of a store
type Snapshot struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"savedAt"`
	Objects []ObjectRecord `json:"objects"`
	Roots   []ObjectRecord `json:"roots"`
}

// ObjectRecord is one serialized object. Identity objects are referenced
// from field values as {"$ref": {"type", "id"}}; embedded objects are
// written inline as {"$embed": record}; times as {"$time": rfc3339}.
type ObjectRecord struct {
	Type   string                     `json:"type"`
	ID     string                     `json:"id,omitempty"`
	Root   string                     `json:"root,omitempty"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// GetSnapshotPath returns the default snapshot path
func GetSnapshotPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, DefaultSnapshotDir, DefaultSnapshotFile)
}

// Snapshot captures every identity object and root
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{Version: SnapshotVersion, SavedAt: time.Now()}

	for _, o := range s.Objects("") {
		rec, err := recordOf(o)
		if err != nil {
			return nil, err
		}
		snap.Objects = append(snap.Objects, rec)
	}
	for _, name := range s.Roots() {
		o, ok := s.Root(name)
		if !ok {
			continue
		}
		rec, err := recordOf(o)
		if err != nil {
			return nil, err
		}
		snap.Roots = append(snap.Roots, rec)
	}
	return snap, nil
}

func recordOf(o *Object) (ObjectRecord, error) {
	rec := ObjectRecord{Type: o.typ, ID: o.id, Root: o.root, Fields: make(map[string]json.RawMessage)}
	values := o.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc, err := encodeValue(values[k])
		if err != nil {
			return rec, fmt.Errorf("%s.%s: %w", o.typ, k, err)
		}
		data, err := json.Marshal(enc)
		if err != nil {
			return rec, fmt.Errorf("%s.%s: %w", o.typ, k, err)
		}
		rec.Fields[k] = data
	}
	return rec, nil
}

func encodeValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case *Object:
		if x == nil {
			return nil, nil
		}
		if x.HasIdentity() {
			return map[string]interface{}{"$ref": x.Key()}, nil
		}
		rec, err := recordOf(x)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"$embed": rec}, nil
	case []*Object:
		out := make([]interface{}, len(x))
		for i, c := range x {
			enc, err := encodeValue(c)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, c := range x {
			enc, err := encodeValue(c)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case time.Time:
		return map[string]string{"$time": x.Format(time.RFC3339Nano)}, nil
	}
	return v, nil
}

// Restore replaces the store contents with a snapshot. Objects are
// allocated first so references resolve regardless of order.
func (s *Store) Restore(snap *Snapshot) error {
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	objects := make(map[Key]*Object, len(snap.Objects))
	for _, rec := range snap.Objects {
		if rec.ID == "" {
			return fmt.Errorf("%w: %s", ErrMissingIdentity, rec.Type)
		}
		objects[Key{Type: rec.Type, ID: rec.ID}] = newObject(rec.Type, rec.ID, "")
	}
	roots := make(map[string]*Object, len(snap.Roots))
	for _, rec := range snap.Roots {
		roots[rec.Root] = newObject(rec.Type, "", rec.Root)
	}

	r := &restorer{objects: objects}
	for _, rec := range snap.Objects {
		if err := r.fill(objects[Key{Type: rec.Type, ID: rec.ID}], rec); err != nil {
			return err
		}
	}
	for _, rec := range snap.Roots {
		if err := r.fill(roots[rec.Root], rec); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.objects = objects
	s.roots = roots
	s.mu.Unlock()
	return nil
}

type restorer struct {
	objects map[Key]*Object
}

func (r *restorer) fill(o *Object, rec ObjectRecord) error {
	for k, raw := range rec.Fields {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("%s.%s: %w", rec.Type, k, err)
		}
		val, err := r.decodeValue(v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", rec.Type, k, err)
		}
		o.fields[k] = val
	}
	return nil
}

func (r *restorer) decodeValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	case map[string]interface{}:
		if ref, ok := x["$ref"].(map[string]interface{}); ok {
			typ, _ := ref["type"].(string)
			id, _ := ref["id"].(string)
			o, ok := r.objects[Key{Type: typ, ID: id}]
			if !ok {
				return nil, fmt.Errorf("dangling reference %s:%s", typ, id)
			}
			return o, nil
		}
		if t, ok := x["$time"].(string); ok {
			return time.Parse(time.RFC3339Nano, t)
		}
		if emb, ok := x["$embed"]; ok {
			data, err := json.Marshal(emb)
			if err != nil {
				return nil, err
			}
			var rec ObjectRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return nil, err
			}
			o := newObject(rec.Type, "", "")
			if err := r.fill(o, rec); err != nil {
				return nil, err
			}
			return o, nil
		}
		return nil, fmt.Errorf("%w: object value", ErrUnsupportedValue)
	case []interface{}:
		return r.decodeList(x)
	}
	return v, nil
}

// decodeList returns []*Object when every element is an object or null and
// at least one is an object, otherwise a scalar list
func (r *restorer) decodeList(items []interface{}) (interface{}, error) {
	vals := make([]interface{}, len(items))
	objs := make([]*Object, len(items))
	found, nulls := 0, 0
	for i, item := range items {
		val, err := r.decodeValue(item)
		if err != nil {
			return nil, err
		}
		vals[i] = val
		switch o := val.(type) {
		case *Object:
			objs[i] = o
			found++
		case nil:
			nulls++
		}
	}
	if found > 0 && found+nulls == len(items) {
		return objs, nil
	}
	return vals, nil
}

// SaveTo persists a snapshot to path
func (s *Store) SaveTo(path string) error {
	snap, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot store: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write atomically using temp file + rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// LoadFrom loads a snapshot from path into a new store. A missing file
// yields an empty store.
func LoadFrom(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if err := s.Restore(&snap); err != nil {
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return s, nil
}
