package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// === Identity ===

func TestUpsertIdentityStable(t *testing.T) {
	s := New()

	first, err := s.Upsert("Person", "1", Fields{"name": "Ann"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		o, err := s.Upsert("Person", "1", Fields{"name": "Bob"})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if o != first {
			t.Fatal("Upsert() allocated a second object for the same key")
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if v, _ := first.Get("name"); v != "Bob" {
		t.Errorf("name = %v, want Bob", v)
	}

	// same id, different type, different object
	frog, _ := s.Upsert("Frog", "1", Fields{"name": "Kermit"})
	if frog == first {
		t.Error("objects of different types must not share a key")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestUpsertMissingIdentity(t *testing.T) {
	s := New()
	if _, err := s.Upsert("Person", "", Fields{"name": "Ann"}); !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("Upsert() error = %v, want ErrMissingIdentity", err)
	}
}

func TestUpsertUnsupportedValue(t *testing.T) {
	s := New()
	_, err := s.Upsert("Person", "1", Fields{"meta": map[string]string{"a": "b"}})
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Upsert() error = %v, want ErrUnsupportedValue", err)
	}
}

// === Notifications ===

func TestFieldNotifications(t *testing.T) {
	s := New()
	o, _ := s.Upsert("Frog", "1", Fields{"name": "Kermit", "color": "green"})

	var mu sync.Mutex
	counts := map[string]int{}
	o.Subscribe("name", func(_ *Object, field string) {
		mu.Lock()
		counts[field]++
		mu.Unlock()
	})

	// only color changes
	s.Upsert("Frog", "1", Fields{"name": "Kermit", "color": "blue"})
	if counts["name"] != 0 {
		t.Errorf("name notified %d times for a color change", counts["name"])
	}

	s.Upsert("Frog", "1", Fields{"name": "Keroppi"})
	if counts["name"] != 1 {
		t.Errorf("name notified %d times, want 1", counts["name"])
	}

	// unchanged value is not a change
	s.Upsert("Frog", "1", Fields{"name": "Keroppi"})
	if counts["name"] != 1 {
		t.Errorf("name notified %d times after a no-op write, want 1", counts["name"])
	}
}

func TestNotificationFanOut(t *testing.T) {
	s := New()
	o, _ := s.Upsert("Person", "1", Fields{"name": "Ann"})

	seen := make([]string, 2)
	for i := range seen {
		i := i
		o.Subscribe("name", func(obj *Object, field string) {
			v, _ := obj.Get(field)
			seen[i] = v.(string)
		})
	}

	s.Upsert("Person", "1", Fields{"name": "Bob"})
	for i, v := range seen {
		if v != "Bob" {
			t.Errorf("subscriber %d saw %q, want Bob", i, v)
		}
	}
}

func TestListFieldAlwaysNotifies(t *testing.T) {
	s := New()
	a, _ := s.Upsert("Person", "a", Fields{"name": "A"})
	p, _ := s.Upsert("Person", "p", Fields{"friends": []*Object{a}})

	n := 0
	p.Subscribe("friends", func(*Object, string) { n++ })

	s.Upsert("Person", "p", Fields{"friends": []*Object{a}})
	if n != 1 {
		t.Errorf("friends notified %d times, want 1", n)
	}
}

func TestFieldNameMatchesEveryArgumentTuple(t *testing.T) {
	s := New()
	root, _ := s.NewRoot("MainQuery", "Query")
	person, _ := s.Upsert("Person", "p1", nil)
	frog, _ := s.Upsert("Frog", "f1", nil)
	personKey := FieldKey("whoAmI", map[string]interface{}{"choice": "PERSON"})
	frogKey := FieldKey("whoAmI", map[string]interface{}{"choice": "FROG"})
	s.Update(root, Fields{personKey: person})

	byName, byKey := 0, 0
	root.Subscribe("whoAmI", func(_ *Object, field string) {
		if field != "whoAmI" {
			t.Errorf("field = %s, want whoAmI", field)
		}
		byName++
	})
	root.Subscribe(personKey, func(*Object, string) { byKey++ })

	s.Update(root, Fields{frogKey: frog})
	if byName != 1 {
		t.Errorf("name subscriber notified %d times, want 1", byName)
	}
	if byKey != 0 {
		t.Errorf("PERSON key subscriber notified %d times for a FROG write", byKey)
	}

	// unchanged slot stays quiet
	s.Update(root, Fields{frogKey: frog})
	if byName != 1 {
		t.Errorf("name subscriber notified %d times after a no-op write, want 1", byName)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	o, _ := s.Upsert("Person", "1", Fields{"name": "Ann"})

	n := 0
	cancel := o.Subscribe("name", func(*Object, string) { n++ })
	if o.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", o.Subscribers())
	}
	cancel()
	s.Upsert("Person", "1", Fields{"name": "Bob"})
	if n != 0 {
		t.Errorf("cancelled subscriber notified %d times", n)
	}
	if o.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", o.Subscribers())
	}
}

func TestSubscriberMayReadObject(t *testing.T) {
	s := New()
	o, _ := s.Upsert("Person", "1", Fields{"name": "Ann"})

	done := make(chan string, 1)
	o.Subscribe("name", func(obj *Object, field string) {
		// runs after the object is unlocked
		v, _ := obj.Get(field)
		done <- v.(string)
	})
	s.Upsert("Person", "1", Fields{"name": "Bob"})

	select {
	case v := <-done:
		if v != "Bob" {
			t.Errorf("got %q, want Bob", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber deadlocked")
	}
}

// === Roots ===

func TestRoots(t *testing.T) {
	s := New()

	r, err := s.NewRoot("MainQuery", "Query")
	if err != nil {
		t.Fatalf("NewRoot() error = %v", err)
	}
	if !r.IsRoot() || r.HasIdentity() {
		t.Error("root should be a non-identity root object")
	}

	if _, err := s.NewRoot("MainQuery", "Query"); !errors.Is(err, ErrRootExists) {
		t.Errorf("second NewRoot() error = %v, want ErrRootExists", err)
	}

	// every operation has its own root
	other, err := s.NewRoot("OtherQuery", "Query")
	if err != nil {
		t.Fatalf("NewRoot(OtherQuery) error = %v", err)
	}
	if other == r {
		t.Error("different root names must not share an object")
	}

	again, err := s.UpsertRoot("MainQuery", "Query", Fields{"hello": "world"})
	if err != nil {
		t.Fatalf("UpsertRoot() error = %v", err)
	}
	if again != r {
		t.Error("UpsertRoot() must mutate the existing root")
	}
	if _, err := s.UpsertRoot("MainQuery", "Mutation", nil); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("UpsertRoot() error = %v, want ErrTypeMismatch", err)
	}

	if got := s.Roots(); len(got) != 2 || got[0] != "MainQuery" || got[1] != "OtherQuery" {
		t.Errorf("Roots() = %v", got)
	}
	if !s.DropRoot("OtherQuery") || s.DropRoot("OtherQuery") {
		t.Error("DropRoot() should succeed exactly once")
	}
	if s.Len() != 0 {
		t.Errorf("roots must not count as identity objects, Len() = %d", s.Len())
	}
}

// === Embedded ===

func TestEmbedInPlace(t *testing.T) {
	s := New()
	p, _ := s.Upsert("Person", "1", nil)

	loc, err := s.Embed(p, "location", "Location", Fields{"city": "Oslo"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	s.Update(p, Fields{"location": loc})

	n := 0
	loc.Subscribe("city", func(*Object, string) { n++ })

	again, _ := s.Embed(p, "location", "Location", Fields{"city": "Bergen"})
	if again != loc {
		t.Error("Embed() should update the embedded object in place")
	}
	if n != 1 {
		t.Errorf("city notified %d times, want 1", n)
	}

	other, _ := s.Embed(p, "location", "Address", Fields{"street": "Main"})
	if other == loc {
		t.Error("Embed() of another type should allocate")
	}
}

// === Keys ===

func TestFieldKey(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"name", nil, "name"},
		{"whoAmI", map[string]interface{}{"choice": "FROG"}, `whoAmI({"choice":"FROG"})`},
		{"search", map[string]interface{}{"limit": 3, "after": "x"}, `search({"after":"x","limit":3})`},
	}
	for _, tt := range tests {
		got := FieldKey(tt.name, tt.args)
		if got != tt.want {
			t.Errorf("FieldKey(%s) = %s, want %s", tt.name, got, tt.want)
		}
		if FieldName(got) != tt.name {
			t.Errorf("FieldName(%s) = %s, want %s", got, FieldName(got), tt.name)
		}
	}
}

// === Collection ===

func TestCollect(t *testing.T) {
	s := New()
	root, _ := s.NewRoot("MainQuery", "Query")
	kept, _ := s.Upsert("Person", "kept", nil)
	friend, _ := s.Upsert("Person", "friend", nil)
	s.Update(kept, Fields{"friends": []*Object{friend}})
	s.Update(root, Fields{"me": kept})

	retained, _ := s.Upsert("Person", "retained", nil)
	s.Retain(retained)

	s.Upsert("Person", "orphan", nil)

	if n := s.Collect(); n != 1 {
		t.Errorf("Collect() = %d, want 1", n)
	}
	if _, ok := s.Get(Key{"Person", "orphan"}); ok {
		t.Error("orphan should be evicted")
	}
	for _, id := range []string{"kept", "friend", "retained"} {
		if _, ok := s.Get(Key{"Person", id}); !ok {
			t.Errorf("%s should survive", id)
		}
	}

	s.Release(retained)
	if retained.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", retained.Refs())
	}
	if n := s.Collect(); n != 1 {
		t.Errorf("Collect() after release = %d, want 1", n)
	}
}

func TestObjectsAndTypes(t *testing.T) {
	s := New()
	s.Upsert("Person", "2", nil)
	s.Upsert("Person", "1", nil)
	s.Upsert("Frog", "9", nil)

	people := s.Objects("Person")
	if len(people) != 2 || people[0].ID() != "1" || people[1].ID() != "2" {
		t.Errorf("Objects(Person) order wrong")
	}
	if got := s.Types(); len(got) != 2 || got[0] != "Frog" || got[1] != "Person" {
		t.Errorf("Types() = %v", got)
	}
	if all := s.Objects(""); len(all) != 3 || all[0].Type() != "Frog" {
		t.Errorf("Objects(\"\") wrong")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d", s.Len())
	}
}

// === Persistence ===

func TestSaveAndLoad(t *testing.T) {
	s := New()
	born := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)

	friend, _ := s.Upsert("Person", "2", Fields{"name": "Bob"})
	p, _ := s.Upsert("Person", "1", Fields{
		"name":    "Ann",
		"age":     int64(34),
		"height":  1.72,
		"born":    born,
		"tags":    []interface{}{"a", "b"},
		"friends": []*Object{friend, nil},
		"spouse":  nil,
	})
	loc, _ := s.Embed(p, "location", "Location", Fields{"city": "Oslo"})
	s.Update(p, Fields{"location": loc})
	s.UpsertRoot("MainQuery", "Query", Fields{`user({"id":"1"})`: p})

	path := filepath.Join(t.TempDir(), "nested", "store.json")
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", loaded.Len())
	}

	lp, _ := loaded.Get(Key{"Person", "1"})
	lf, _ := loaded.Get(Key{"Person", "2"})

	if v, _ := lp.Get("name"); v != "Ann" {
		t.Errorf("name = %v", v)
	}
	if v, _ := lp.Get("age"); v != int64(34) {
		t.Errorf("age = %#v", v)
	}
	if v, _ := lp.Get("height"); v != 1.72 {
		t.Errorf("height = %#v", v)
	}
	if v, _ := lp.Get("born"); !v.(time.Time).Equal(born) {
		t.Errorf("born = %v", v)
	}
	if v, _ := lp.Get("spouse"); v != nil {
		t.Errorf("spouse = %v, want nil", v)
	}
	friends, _ := lp.Get("friends")
	if fs, ok := friends.([]*Object); !ok || len(fs) != 2 || fs[0] != lf || fs[1] != nil {
		t.Errorf("friends = %v, want [Person:2 nil]", friends)
	}
	if v, _ := lp.Get("location"); v.(*Object).Type() != "Location" {
		t.Errorf("location = %v", v)
	}

	root, ok := loaded.Root("MainQuery")
	if !ok {
		t.Fatal("root not restored")
	}
	if v, _ := root.Get(`user({"id":"1"})`); v != lp {
		t.Error("root should reference the restored Person:1")
	}
}

func TestLoadFromMissing(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}
