package schema

import "errors"

var (
	// ErrUnknownType is returned for a type name the schema does not declare
	ErrUnknownType = errors.New("unknown type")
	// ErrUnknownDiscriminator is returned when a __typename is not a choice
	// of the declared type
	ErrUnknownDiscriminator = errors.New("unknown discriminator")
	// ErrMissingDiscriminator is returned when an interface typed value has
	// no __typename
	ErrMissingDiscriminator = errors.New("missing __typename")
	// ErrScalar is returned when a value cannot be coerced to its scalar type
	ErrScalar = errors.New("invalid scalar value")
)
