package client

import (
	"fmt"

	"github.com/yourusername/gqlsync/internal/models"
)

// Handler consumes the response stream of one operation.
// Callbacks run on the connection event loop and must not call back into
// the connection synchronously.
type Handler interface {
	// ID is the correlation id, stable for the lifetime of the handler
	ID() string
	Payload() models.OperationPayload
	OnData(payload models.NextPayload) error
	OnError(errs models.ErrorList)
	OnCompleted()
}

// Registry maps correlation ids to live handlers. It is owned by the
// connection event loop and does no locking of its own.
type Registry struct {
	handlers   map[string]Handler
	subscribes map[string]*models.Envelope
	order      []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]Handler),
		subscribes: make(map[string]*models.Envelope),
	}
}

// Register adds a handler and builds its subscribe envelope from the
// payload current at registration. Registering an id twice is a caller
// error, as is a payload that cannot be encoded.
func (r *Registry) Register(h Handler) error {
	id := h.ID()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	env, err := models.NewSubscribe(id, h.Payload())
	if err != nil {
		return err
	}
	r.handlers[id] = h
	r.subscribes[id] = env
	r.order = append(r.order, id)
	return nil
}

// Subscribe returns the subscribe envelope built when id was registered
func (r *Registry) Subscribe(id string) (*models.Envelope, bool) {
	env, ok := r.subscribes[id]
	return env, ok
}

// Get returns the handler registered under id
func (r *Registry) Get(id string) (Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// Has returns true if id has a live entry
func (r *Registry) Has(id string) bool {
	_, ok := r.handlers[id]
	return ok
}

// Remove deletes the entry for id. Returns false if there was none.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.handlers[id]; !ok {
		return false
	}
	delete(r.handlers, id)
	delete(r.subscribes, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of live entries
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Handlers returns the live handlers in registration order
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handlers[id])
	}
	return out
}

// Dispatch routes an operation envelope to its handler. Envelopes whose id
// has no live entry are dropped and reported as not handled; servers may
// send late messages for operations that already completed.
//
// Error and Complete envelopes remove the entry right after the handler has
// seen them, so an id never has more than one entry and no envelope reaches
// a removed handler.
func (r *Registry) Dispatch(env *models.Envelope) (bool, error) {
	h, ok := r.handlers[env.ID]
	if !ok {
		return false, nil
	}

	switch env.Type {
	case models.TypeNext:
		payload, err := env.Next()
		if err != nil {
			return true, err
		}
		return true, h.OnData(payload)
	case models.TypeError:
		errs, err := env.Errors()
		if err != nil {
			errs = models.ErrorList{{Message: err.Error()}}
		}
		h.OnError(errs)
		r.Remove(env.ID)
		return true, nil
	case models.TypeComplete:
		h.OnCompleted()
		r.Remove(env.ID)
		return true, nil
	}
	return false, fmt.Errorf("cannot dispatch %s envelope", env.Type)
}
