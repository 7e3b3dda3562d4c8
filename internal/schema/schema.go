// Package schema holds the static type descriptors the object store and the
// view layer work from: object types with their fields, interfaces and
// unions with their narrowing choices, enums, and scalar coercion.
package schema

import (
	"fmt"
	"sort"
)

// TypenameField is the discriminator carried by polymorphic values
const TypenameField = "__typename"

// IDField is the identity field of identity-bearing types
const IDField = "id"

// Kind classifies a named type
type Kind int

const (
	KindUnknown Kind = iota
	KindScalar
	KindEnum
	KindObject
	KindInterface
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEnum:
		return "enum"
	case KindObject:
		return "object"
	case KindInterface:
		return "interface"
	}
	return "unknown"
}

// Field describes one field of an object type
type Field struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Nullable bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	List     bool   `yaml:"list,omitempty" json:"list,omitempty"`
	// Arguments maps argument names to the operation variables they take
	// their values from
	Arguments map[string]string `yaml:"arguments,omitempty" json:"arguments,omitempty"`
}

// ArgumentNames returns the argument names in sorted order
func (f *Field) ArgumentNames() []string {
	names := make([]string, 0, len(f.Arguments))
	for name := range f.Arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Object describes an object type
type Object struct {
	Name string `yaml:"name" json:"name"`
	// Identity marks types whose instances are unique per id
	Identity bool `yaml:"identity,omitempty" json:"identity,omitempty"`
	// Root marks operation root types (Query, Mutation, Subscription)
	Root       bool     `yaml:"root,omitempty" json:"root,omitempty"`
	Implements []string `yaml:"implements,omitempty" json:"implements,omitempty"`
	Fields     []*Field `yaml:"fields" json:"fields"`

	byName map[string]*Field
}

// Field returns the field called name
func (o *Object) Field(name string) (*Field, bool) {
	if o.byName == nil {
		o.index()
	}
	f, ok := o.byName[name]
	return f, ok
}

func (o *Object) index() {
	o.byName = make(map[string]*Field, len(o.Fields))
	for _, f := range o.Fields {
		o.byName[f.Name] = f
	}
}

// Interface describes an interface or union and the object types it
// narrows to
type Interface struct {
	Name    string   `yaml:"name" json:"name"`
	Choices []string `yaml:"choices,omitempty" json:"choices,omitempty"`
}

// Enum describes an enum type
type Enum struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values" json:"values"`
}

// Has returns true if v is one of the enum values
func (e *Enum) Has(v string) bool {
	for _, ev := range e.Values {
		if ev == v {
			return true
		}
	}
	return false
}

// Schema is a set of type descriptors
type Schema struct {
	objects    map[string]*Object
	interfaces map[string]*Interface
	enums      map[string]*Enum
}

// New creates an empty schema
func New() *Schema {
	return &Schema{
		objects:    make(map[string]*Object),
		interfaces: make(map[string]*Interface),
		enums:      make(map[string]*Enum),
	}
}

func (s *Schema) declared(name string) bool {
	if _, ok := s.objects[name]; ok {
		return true
	}
	if _, ok := s.interfaces[name]; ok {
		return true
	}
	_, ok := s.enums[name]
	return ok
}

// AddObject declares an object type. Interfaces named in Implements gain
// the object as a choice.
func (s *Schema) AddObject(o *Object) error {
	if o.Name == "" {
		return fmt.Errorf("object type without a name")
	}
	if s.declared(o.Name) {
		return fmt.Errorf("type %s declared twice", o.Name)
	}
	o.index()
	if o.Identity {
		f, ok := o.byName[IDField]
		if !ok {
			return fmt.Errorf("type %s: identity type needs an %s field", o.Name, IDField)
		}
		if f.List {
			return fmt.Errorf("type %s: %s cannot be a list", o.Name, IDField)
		}
	}
	s.objects[o.Name] = o

	for _, name := range o.Implements {
		iface, ok := s.interfaces[name]
		if !ok {
			iface = &Interface{Name: name}
			s.interfaces[name] = iface
		}
		iface.addChoice(o.Name)
	}
	return nil
}

// AddInterface declares an interface or union. Choices may be listed here,
// added later through Implements, or both.
func (s *Schema) AddInterface(i *Interface) error {
	if i.Name == "" {
		return fmt.Errorf("interface without a name")
	}
	if _, ok := s.objects[i.Name]; ok {
		return fmt.Errorf("type %s declared twice", i.Name)
	}
	if _, ok := s.enums[i.Name]; ok {
		return fmt.Errorf("type %s declared twice", i.Name)
	}
	existing, ok := s.interfaces[i.Name]
	if !ok {
		existing = &Interface{Name: i.Name}
		s.interfaces[i.Name] = existing
	}
	for _, c := range i.Choices {
		existing.addChoice(c)
	}
	return nil
}

func (i *Interface) addChoice(name string) {
	for _, c := range i.Choices {
		if c == name {
			return
		}
	}
	i.Choices = append(i.Choices, name)
}

// AddEnum declares an enum type
func (s *Schema) AddEnum(e *Enum) error {
	if e.Name == "" {
		return fmt.Errorf("enum without a name")
	}
	if s.declared(e.Name) {
		return fmt.Errorf("type %s declared twice", e.Name)
	}
	s.enums[e.Name] = e
	return nil
}

// Object returns the object type called name
func (s *Schema) Object(name string) (*Object, bool) {
	o, ok := s.objects[name]
	return o, ok
}

// Interface returns the interface called name
func (s *Schema) Interface(name string) (*Interface, bool) {
	i, ok := s.interfaces[name]
	return i, ok
}

// Enum returns the enum called name
func (s *Schema) Enum(name string) (*Enum, bool) {
	e, ok := s.enums[name]
	return e, ok
}

// Objects returns all object type names, sorted
func (s *Schema) Objects() []string {
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KindOf classifies a type name
func (s *Schema) KindOf(name string) Kind {
	if _, ok := s.objects[name]; ok {
		return KindObject
	}
	if _, ok := s.interfaces[name]; ok {
		return KindInterface
	}
	if _, ok := s.enums[name]; ok {
		return KindEnum
	}
	if IsScalar(name) {
		return KindScalar
	}
	return KindUnknown
}

// IsComposite returns true for object and interface types
func (s *Schema) IsComposite(name string) bool {
	k := s.KindOf(name)
	return k == KindObject || k == KindInterface
}

// Resolve narrows a value of the declared type to its concrete object type
// using the __typename discriminator. An object type accepts its own name or
// an empty discriminator. An interface only accepts one of its choices.
func (s *Schema) Resolve(declared, discriminator string) (*Object, error) {
	if o, ok := s.objects[declared]; ok {
		if discriminator == "" || discriminator == declared {
			return o, nil
		}
		return nil, fmt.Errorf("%w: %s is not %s", ErrUnknownDiscriminator, discriminator, declared)
	}

	iface, ok := s.interfaces[declared]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, declared)
	}
	if discriminator == "" {
		return nil, fmt.Errorf("%w: value of %s", ErrMissingDiscriminator, declared)
	}
	for _, c := range iface.Choices {
		if c == discriminator {
			o, ok := s.objects[c]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownType, c)
			}
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnknownDiscriminator, discriminator, declared)
}

// Validate checks that every field type and every interface choice is
// declared
func (s *Schema) Validate() error {
	for _, name := range s.Objects() {
		o := s.objects[name]
		for _, f := range o.Fields {
			if f.Name == "" {
				return fmt.Errorf("type %s: field without a name", name)
			}
			if s.KindOf(f.Type) == KindUnknown {
				return fmt.Errorf("type %s field %s: %w: %s", name, f.Name, ErrUnknownType, f.Type)
			}
		}
	}
	for name, iface := range s.interfaces {
		if len(iface.Choices) == 0 {
			return fmt.Errorf("interface %s has no choices", name)
		}
		for _, c := range iface.Choices {
			if _, ok := s.objects[c]; !ok {
				return fmt.Errorf("interface %s: %w: %s", name, ErrUnknownType, c)
			}
		}
	}
	return nil
}
