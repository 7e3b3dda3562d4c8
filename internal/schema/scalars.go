package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Built-in and custom scalar names
const (
	String   = "String"
	ID       = "ID"
	Int      = "Int"
	Float    = "Float"
	Boolean  = "Boolean"
	DateTime = "DateTime"
	Date     = "Date"
	Time     = "Time"
	Decimal  = "Decimal"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

var scalars = map[string]bool{
	String: true, ID: true, Int: true, Float: true, Boolean: true,
	DateTime: true, Date: true, Time: true, Decimal: true,
}

// IsScalar returns true for the built-in and custom scalar names
func IsScalar(name string) bool {
	return scalars[name]
}

// Coerce converts a decoded JSON value to the Go value for a scalar or enum.
// Numbers are expected as json.Number so Decimal keeps its exact text.
//
//	String, ID, enums  -> string
//	Int                -> int64
//	Float              -> float64
//	Boolean            -> bool
//	DateTime/Date/Time -> time.Time
//	Decimal            -> string
//
// A nil value coerces to nil.
func (s *Schema) Coerce(typeName string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if e, ok := s.enums[typeName]; ok {
		str, ok := v.(string)
		if !ok || !e.Has(str) {
			return nil, fmt.Errorf("%w: %v is not a %s", ErrScalar, v, typeName)
		}
		return str, nil
	}

	switch typeName {
	case String:
		if str, ok := v.(string); ok {
			return str, nil
		}
	case ID:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		}
	case Int:
		switch x := v.(type) {
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n, nil
			}
		case float64:
			if x == float64(int64(x)) {
				return int64(x), nil
			}
		}
	case Float:
		switch x := v.(type) {
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, nil
			}
		case float64:
			return x, nil
		}
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case DateTime:
		return parseTime(v, time.RFC3339Nano, typeName)
	case Date:
		return parseTime(v, DateLayout, typeName)
	case Time:
		return parseTime(v, TimeLayout, typeName)
	case Decimal:
		switch x := v.(type) {
		case string:
			if _, err := strconv.ParseFloat(x, 64); err == nil {
				return x, nil
			}
		case json.Number:
			return x.String(), nil
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return nil, fmt.Errorf("%w: %v is not a %s", ErrScalar, v, typeName)
}

func parseTime(v interface{}, layout, typeName string) (interface{}, error) {
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a %s", ErrScalar, v, typeName)
	}
	t, err := time.Parse(layout, str)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrScalar, typeName, err)
	}
	return t, nil
}
