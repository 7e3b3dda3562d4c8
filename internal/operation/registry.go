package operation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/gqlsync/internal/client"
	"github.com/yourusername/gqlsync/internal/logging"
	"github.com/yourusername/gqlsync/internal/models"
	"github.com/yourusername/gqlsync/internal/schema"
	"github.com/yourusername/gqlsync/internal/store"
	"github.com/yourusername/gqlsync/internal/view"
)

// Registry coalesces operations by definition name: every caller asking for
// the same definition shares one handler and one store root.
type Registry struct {
	network client.Network
	store   *store.Store
	schema  *schema.Schema

	mu       sync.Mutex
	ops      map[string]*Operation
	unshared map[string]*Operation
	closed   bool
}

// NewRegistry creates a registry executing through network
func NewRegistry(network client.Network, st *store.Store, sc *schema.Schema) *Registry {
	return &Registry{
		network: network,
		store:   st,
		schema:  sc,
		ops:      make(map[string]*Operation),
		unshared: make(map[string]*Operation),
	}
}

// Store returns the store results are written to
func (r *Registry) Store() *store.Store { return r.store }

// Shared returns the handler for def, creating it on first use. A second
// document under an existing name is rejected.
func (r *Registry) Shared(def Definition) (*Operation, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if op, ok := r.ops[def.Name]; ok {
		if op.def.Query != def.Query || op.def.Kind != def.Kind {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionConflict, def.Name)
		}
		return op, nil
	}

	op := newOperation(def, r.network, view.NewScope(r.store, r.schema, nil))
	r.ops[def.Name] = op
	logging.Debug().Str("op", def.Name).Str("id", op.id).Msg("registered shared operation")
	return op, nil
}

// New returns an unshared handler for def with its own variables. Its root
// is named after the definition and its correlation id, so it never collides
// with the shared one. The root lives until Release or Shutdown.
func (r *Registry) New(def Definition, vars *models.Variables) (*Operation, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	op := newOperation(def, r.network, view.NewScope(r.store, r.schema, vars))
	op.def.Name = def.Name + "#" + op.id
	op.owned = true
	r.unshared[op.id] = op
	return op, nil
}

// Release cancels an unshared handler, drops its root and collects the
// objects only it kept alive. Shared handlers live until Shutdown.
func (r *Registry) Release(op *Operation) error {
	r.mu.Lock()
	_, ok := r.unshared[op.id]
	delete(r.unshared, op.id)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := op.Cancel()
	op.close()
	r.store.Collect()
	return err
}

// Get returns the shared handler named name
func (r *Registry) Get(name string) (*Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[name]
	return op, ok
}

// Operations returns the shared handlers sorted by name
func (r *Registry) Operations() []*Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Operation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].def.Name < out[j].def.Name })
	return out
}

// Shutdown cancels every in-flight operation, closes their views and
// collects what no root or view still reaches. The network itself is left
// to its owner.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	ops := make([]*Operation, 0, len(r.ops)+len(r.unshared))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	for _, op := range r.unshared {
		ops = append(ops, op)
	}
	r.unshared = make(map[string]*Operation)
	r.mu.Unlock()

	for _, op := range ops {
		if err := op.Cancel(); err != nil {
			logging.Warn().Err(err).Str("op", op.def.Name).Msg("failed to cancel operation")
		}
		op.close()
	}
	evicted := r.store.Collect()
	logging.Debug().Int("operations", len(ops)).Int("evicted", evicted).Msg("operation registry shut down")
}
