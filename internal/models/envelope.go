package models

import (
	"encoding/json"
	"fmt"
)

// Subprotocol is the websocket subprotocol negotiated with the server
const Subprotocol = "graphql-transport-ws"

// MessageType is the "type" tag of a protocol envelope
type MessageType string

const (
	TypeConnectionInit MessageType = "connection_init"
	TypeConnectionAck  MessageType = "connection_ack"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeSubscribe      MessageType = "subscribe"
	TypeNext           MessageType = "next"
	TypeError          MessageType = "error"
	TypeComplete       MessageType = "complete"
)

// IsOperation reports whether envelopes of this type must carry a correlation id
func (t MessageType) IsOperation() bool {
	switch t {
	case TypeSubscribe, TypeNext, TypeError, TypeComplete:
		return true
	}
	return false
}

func (t MessageType) known() bool {
	switch t {
	case TypeConnectionInit, TypeConnectionAck, TypePing, TypePong:
		return true
	}
	return t.IsOperation()
}

// Envelope is one protocol message unit exchanged over the socket.
// Control envelopes (init, ack, ping, pong) carry no ID.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NextPayload is the payload of a "next" envelope
type NextPayload struct {
	Data   json.RawMessage `json:"data"`
	Errors ErrorList       `json:"errors,omitempty"`
}

// HasData returns true if the payload carries a non-null data object
func (p NextPayload) HasData() bool {
	return len(p.Data) > 0 && string(p.Data) != "null"
}

// NewConnectionInit creates a connection_init envelope. payload may be nil.
func NewConnectionInit(payload map[string]interface{}) (*Envelope, error) {
	env := &Envelope{Type: TypeConnectionInit}
	if len(payload) > 0 {
		raw, err := encodePayload(env.Type, payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}

// NewConnectionAck creates a connection_ack envelope
func NewConnectionAck() *Envelope {
	return &Envelope{Type: TypeConnectionAck}
}

// NewPing creates a ping envelope
func NewPing() *Envelope {
	return &Envelope{Type: TypePing}
}

// NewPong creates a pong envelope
func NewPong() *Envelope {
	return &Envelope{Type: TypePong}
}

// NewSubscribe creates a subscribe envelope for an operation. It fails when
// a variable value cannot be encoded.
func NewSubscribe(id string, payload OperationPayload) (*Envelope, error) {
	return newWithPayload(TypeSubscribe, id, payload)
}

// NewNext creates a next envelope
func NewNext(id string, payload NextPayload) (*Envelope, error) {
	return newWithPayload(TypeNext, id, payload)
}

// NewError creates an error envelope
func NewError(id string, errs ErrorList) (*Envelope, error) {
	return newWithPayload(TypeError, id, errs)
}

// NewComplete creates a complete envelope
func NewComplete(id string) *Envelope {
	return &Envelope{Type: TypeComplete, ID: id}
}

// Subscribe decodes the payload of a subscribe envelope
func (e *Envelope) Subscribe() (OperationPayload, error) {
	var p OperationPayload
	if err := e.decodePayload(TypeSubscribe, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Next decodes the payload of a next envelope
func (e *Envelope) Next() (NextPayload, error) {
	var p NextPayload
	if err := e.decodePayload(TypeNext, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Errors decodes the payload of an error envelope
func (e *Envelope) Errors() (ErrorList, error) {
	var errs ErrorList
	if err := e.decodePayload(TypeError, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

func (e *Envelope) decodePayload(want MessageType, out interface{}) error {
	if e.Type != want {
		return fmt.Errorf("envelope type %s is not %s", e.Type, want)
	}
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes an envelope to its wire form
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from its wire form. It is total over valid JSON:
// envelopes with an unrecognized type yield ErrUnknownType and operation
// envelopes without an id yield ErrMissingID, both wrapped in *DecodeError.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &DecodeError{Kind: DecodeSyntax, Raw: data, Err: err}
	}
	if !e.Type.known() {
		return nil, &DecodeError{Kind: DecodeUnknownType, Raw: data, Err: ErrUnknownType}
	}
	if e.Type.IsOperation() && e.ID == "" {
		return nil, &DecodeError{Kind: DecodeMissingID, Raw: data, Err: ErrMissingID}
	}
	return &e, nil
}

func newWithPayload(typ MessageType, id string, payload interface{}) (*Envelope, error) {
	raw, err := encodePayload(typ, payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, ID: id, Payload: raw}, nil
}

func encodePayload(typ MessageType, v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	return data, nil
}
