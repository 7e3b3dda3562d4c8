package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType = errors.New("unknown envelope type")
	ErrMissingID   = errors.New("operation envelope without id")
)

// DecodeKind classifies a decode fault
type DecodeKind int

const (
	DecodeSyntax DecodeKind = iota
	DecodeUnknownType
	DecodeMissingID
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeSyntax:
		return "syntax"
	case DecodeUnknownType:
		return "unknown_type"
	case DecodeMissingID:
		return "missing_id"
	}
	return "unknown"
}

// DecodeError is returned by Decode for malformed envelopes
type DecodeError struct {
	Kind DecodeKind
	Raw  []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope (%s): %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Location is a position in the operation document
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a single server-reported error
type GraphQLError struct {
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ErrorList is the error array of an "error" envelope or a next payload
type ErrorList []GraphQLError

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}
