// Package operation implements the per-operation handler: it consumes the
// response stream of one declared operation, writes results into the store
// through a view scope and exposes the typed result root together with its
// completed and in-flight flags.
package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yourusername/gqlsync/internal/client"
	"github.com/yourusername/gqlsync/internal/logging"
	"github.com/yourusername/gqlsync/internal/models"
	"github.com/yourusername/gqlsync/internal/view"
)

// EventKind identifies an operation event
type EventKind int

const (
	CompletedChanged EventKind = iota
	InFlightChanged
	DataChanged
	ErrorReceived
	Fatal
)

func (k EventKind) String() string {
	switch k {
	case CompletedChanged:
		return "completed_changed"
	case InFlightChanged:
		return "in_flight_changed"
	case DataChanged:
		return "data_changed"
	case ErrorReceived:
		return "error_received"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered to observers
type Event struct {
	Kind   EventKind
	Op     *Operation
	Errors models.ErrorList
	Err    error
}

// Operation is the live handler of one definition. Its correlation id is
// fixed for its lifetime; Execute reuses it.
//
// Network callbacks and observers run on the network's dispatch goroutine.
// Observers must not call Execute or Cancel synchronously.
type Operation struct {
	def     Definition
	id      string
	network client.Network
	scope   *view.Scope
	// unshared operations own their root and drop it on close
	owned bool

	mu        sync.Mutex
	vars      *models.Variables
	completed bool
	inFlight  bool
	applied   bool
	root      *view.Proxy
	data      json.RawMessage
	errs      models.ErrorList
	err       error
	done      chan struct{}
	observers map[int]func(Event)
	nextObs   int
}

func newOperation(def Definition, network client.Network, scope *view.Scope) *Operation {
	done := make(chan struct{})
	close(done)
	return &Operation{
		def:       def,
		id:        client.NewOperationID(),
		network:   network,
		scope:     scope,
		vars:      scope.Variables(),
		done:      done,
		observers: make(map[int]func(Event)),
	}
}

// ID returns the correlation id
func (o *Operation) ID() string { return o.id }

// Definition returns the operation definition
func (o *Operation) Definition() Definition { return o.def }

// Scope returns the view scope of the operation
func (o *Operation) Scope() *view.Scope { return o.scope }

// Payload returns the subscribe payload with the current variables
func (o *Operation) Payload() models.OperationPayload {
	o.mu.Lock()
	defer o.mu.Unlock()
	return models.NewOperationPayload(o.def.Query, o.vars.Clone())
}

// Variables returns a copy of the current variables
func (o *Operation) Variables() *models.Variables {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars.Clone()
}

// SetVariables replaces the variables used by the next execution
func (o *Operation) SetVariables(vars *models.Variables) {
	o.mu.Lock()
	o.vars = vars.Clone()
	o.mu.Unlock()
	o.scope.SetVariables(vars)
}

// Completed reports whether the last execution finished
func (o *Operation) Completed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed
}

// InFlight reports whether an execution is running
func (o *Operation) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Root returns the result root, nil until the first result
func (o *Operation) Root() *view.Proxy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.root
}

// Data returns the last applied result as received
func (o *Operation) Data() json.RawMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data
}

// Errors returns the errors reported by the server for the last execution
func (o *Operation) Errors() models.ErrorList {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errs
}

// Err returns the contract violation that stopped the last execution, if any
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// OnChange registers an observer
func (o *Operation) OnChange(fn func(Event)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

// Execute starts an execution. It is a no-op while one is in flight, so an
// id never has two registry entries.
func (o *Operation) Execute() error {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		logging.Debug().Str("op", o.def.Name).Msg("execute ignored, already in flight")
		return nil
	}
	wasCompleted := o.completed
	o.completed = false
	o.inFlight = true
	o.applied = false
	o.errs = nil
	o.err = nil
	o.done = make(chan struct{})
	o.mu.Unlock()

	logging.Debug().Str("op", o.def.Name).Str("id", o.id).Str("kind", o.def.Kind.String()).Msg("executing operation")
	o.emit(Event{Kind: InFlightChanged})
	if wasCompleted {
		o.emit(Event{Kind: CompletedChanged})
	}

	if err := o.network.Execute(o); err != nil {
		o.finish()
		return fmt.Errorf("failed to execute %s: %w", o.def.Name, err)
	}
	return nil
}

// Cancel stops a running execution. The local handler is removed right
// away; the server is told on a best-effort basis.
func (o *Operation) Cancel() error {
	if !o.InFlight() {
		return nil
	}
	err := o.network.Complete(o)
	o.finish()
	return err
}

// Wait blocks until the current execution completes
func (o *Operation) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
		return o.Err()
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", o.def.Name, ctx.Err())
	}
}

// OnData applies one result. A query or mutation applies one result per
// execution: the first ever materializes the root, later executions refresh
// it through the store. A second result within the same execution is an
// unsupported root update. Subscriptions apply every result. Objects a
// refresh leaves unreachable are collected.
func (o *Operation) OnData(payload models.NextPayload) error {
	o.mu.Lock()
	if len(payload.Errors) > 0 {
		o.errs = append(o.errs, payload.Errors...)
	}
	if !payload.HasData() {
		o.mu.Unlock()
		return nil
	}
	if o.applied && o.def.Kind != Subscription {
		o.mu.Unlock()
		return o.fatal(fmt.Errorf("%w: %s", ErrRootUpdate, o.def.Name))
	}
	root := o.root
	o.mu.Unlock()

	rootName, rootType := o.def.Name, o.def.rootType()
	var err error
	if root == nil {
		root, err = o.attach(rootName, rootType, payload.Data)
	} else {
		err = o.scope.Refresh(rootName, rootType, payload.Data)
	}
	if err != nil {
		return o.fatal(err)
	}
	if n := o.scope.Store().Collect(); n > 0 {
		logging.Debug().Str("op", o.def.Name).Int("evicted", n).Msg("released unreachable objects")
	}

	o.mu.Lock()
	o.root = root
	o.data = payload.Data
	o.applied = true
	o.mu.Unlock()

	o.emit(Event{Kind: DataChanged})
	return nil
}

// attach materializes the root, or adopts the root an earlier handler of
// the same definition left in the store
func (o *Operation) attach(rootName, rootType string, data json.RawMessage) (*view.Proxy, error) {
	st := o.scope.Store()
	existing, ok := st.Root(rootName)
	if !ok {
		return o.scope.Materialize(rootName, rootType, data)
	}
	if err := o.scope.Refresh(rootName, rootType, data); err != nil {
		return nil, err
	}
	return o.scope.Proxy(existing)
}

// OnError records the server errors and completes the execution
func (o *Operation) OnError(errs models.ErrorList) {
	logging.Info().Str("op", o.def.Name).Str("id", o.id).Str("errors", errs.Error()).Msg("operation failed")
	o.mu.Lock()
	o.errs = errs
	o.mu.Unlock()
	o.emit(Event{Kind: ErrorReceived, Errors: errs})
	o.finish()
}

// OnCompleted completes the execution, with or without data
func (o *Operation) OnCompleted() {
	logging.Debug().Str("op", o.def.Name).Str("id", o.id).Msg("operation completed")
	o.finish()
}

func (o *Operation) fatal(err error) error {
	logging.Error().Err(err).Str("op", o.def.Name).Str("id", o.id).Msg("operation contract violation")
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	o.emit(Event{Kind: Fatal, Err: err})
	return err
}

// finish sets completed and clears in-flight in one step
func (o *Operation) finish() {
	o.mu.Lock()
	if o.completed {
		o.mu.Unlock()
		return
	}
	wasInFlight := o.inFlight
	o.completed = true
	o.inFlight = false
	close(o.done)
	o.mu.Unlock()

	o.emit(Event{Kind: CompletedChanged})
	if wasInFlight {
		o.emit(Event{Kind: InFlightChanged})
	}
}

func (o *Operation) emit(ev Event) {
	ev.Op = o
	o.mu.Lock()
	fns := make([]func(Event), 0, len(o.observers))
	for _, fn := range o.observers {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// close releases the result views. An unshared operation also drops its
// root from the store.
func (o *Operation) close() {
	o.mu.Lock()
	root := o.root
	o.root = nil
	o.mu.Unlock()
	if root != nil {
		root.Close()
	}
	o.scope.Close()
	if o.owned {
		o.scope.Store().DropRoot(o.def.Name)
	}
}
