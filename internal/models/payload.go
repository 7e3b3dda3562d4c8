package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// OperationPayload is the payload of a subscribe envelope
type OperationPayload struct {
	Query         string     `json:"query"`
	Variables     *Variables `json:"variables,omitempty"`
	OperationName string     `json:"operationName,omitempty"`
}

// NewOperationPayload creates a payload, extracting the operation name from the query
func NewOperationPayload(query string, vars *Variables) OperationPayload {
	return OperationPayload{
		Query:         query,
		Variables:     vars,
		OperationName: OperationName(query),
	}
}

var operationNameRe = regexp.MustCompile(`^\s*(?:query|mutation|subscription)\s+([_A-Za-z][_0-9A-Za-z]*)`)

// OperationName returns the name of the first operation in a document, or ""
// for anonymous operations
func OperationName(query string) string {
	m := operationNameRe.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	return m[1]
}

// Variables is an ordered name -> value mapping. It marshals in insertion order.
type Variables struct {
	keys   []string
	values map[string]interface{}
}

// NewVariables creates an empty variables mapping
func NewVariables() *Variables {
	return &Variables{values: make(map[string]interface{})}
}

// Set assigns a variable, keeping its original position if already present
func (v *Variables) Set(name string, value interface{}) *Variables {
	if v.values == nil {
		v.values = make(map[string]interface{})
	}
	if _, ok := v.values[name]; !ok {
		v.keys = append(v.keys, name)
	}
	v.values[name] = value
	return v
}

// Get returns a variable value
func (v *Variables) Get(name string) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	val, ok := v.values[name]
	return val, ok
}

// Len returns the number of variables
func (v *Variables) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Keys returns the variable names in insertion order
func (v *Variables) Keys() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Map returns a copy of the variables as a plain map
func (v *Variables) Map() map[string]interface{} {
	out := make(map[string]interface{}, v.Len())
	if v == nil {
		return out
	}
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Clone returns an independent copy
func (v *Variables) Clone() *Variables {
	if v == nil {
		return nil
	}
	c := NewVariables()
	for _, k := range v.keys {
		c.Set(k, v.values[k])
	}
	return c
}

// MarshalJSON implements ordered JSON marshaling
func (v *Variables) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if v != nil {
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(v.values[k])
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements ordered JSON unmarshaling
func (v *Variables) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("variables must be an object")
	}
	v.keys = nil
	v.values = make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("invalid variable name %v", tok)
		}
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("variable %s: %w", key, err)
		}
		v.Set(key, val)
	}
	_, err = dec.Token()
	return err
}
