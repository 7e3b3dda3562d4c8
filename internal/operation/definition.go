package operation

import (
	"fmt"
	"regexp"

	"github.com/yourusername/gqlsync/internal/models"
)

// Kind is the operation type of a document
type Kind int

const (
	Query Kind = iota
	Mutation
	Subscription
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "query"
	case Mutation:
		return "mutation"
	case Subscription:
		return "subscription"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// RootType returns the conventional root type name for the kind
func (k Kind) RootType() string {
	switch k {
	case Mutation:
		return "Mutation"
	case Subscription:
		return "Subscription"
	}
	return "Query"
}

// Definition is one declared operation. Its Name identifies it for request
// coalescing and names its root in the store.
type Definition struct {
	Name     string
	Kind     Kind
	Query    string
	RootType string
	// Environment selects a named environment, "" for the default one
	Environment string
}

var kindRe = regexp.MustCompile(`^\s*(query|mutation|subscription)\b`)

// Parse builds a definition from a document, reading the kind and the name
// from its first operation. Anonymous shorthand documents ("{ ... }") are
// queries. Anonymous operations need an explicit name.
func Parse(query, name string) (Definition, error) {
	def := Definition{Kind: Query, Query: query}
	if m := kindRe.FindStringSubmatch(query); m != nil {
		switch m[1] {
		case "mutation":
			def.Kind = Mutation
		case "subscription":
			def.Kind = Subscription
		}
	}
	def.Name = models.OperationName(query)
	if name != "" {
		def.Name = name
	}
	def.RootType = def.Kind.RootType()
	return def, def.Validate()
}

// Validate checks that the definition can be executed
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("operation without a name")
	}
	if d.Query == "" {
		return fmt.Errorf("operation %s: empty document", d.Name)
	}
	if d.Kind < Query || d.Kind > Subscription {
		return fmt.Errorf("operation %s: invalid kind %d", d.Name, int(d.Kind))
	}
	return nil
}

func (d Definition) rootType() string {
	if d.RootType != "" {
		return d.RootType
	}
	return d.Kind.RootType()
}
