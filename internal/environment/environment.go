// Package environment keeps the process-wide map of named environments. An
// environment pairs a network with the store, schema and operation registry
// its results are written through.
package environment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/gqlsync/internal/client"
	"github.com/yourusername/gqlsync/internal/logging"
	"github.com/yourusername/gqlsync/internal/operation"
	"github.com/yourusername/gqlsync/internal/schema"
	"github.com/yourusername/gqlsync/internal/store"
)

// DefaultName is the name used by definitions without an environment
const DefaultName = "default"

var (
	// ErrNoEnvironment is returned when no environment is registered under a name
	ErrNoEnvironment = errors.New("no environment registered")
	// ErrEnvironmentExists is returned when a name is registered twice
	ErrEnvironmentExists = errors.New("environment already registered")
)

// Environment is one network plus the cache its operations share
type Environment struct {
	Name       string
	Network    client.Network
	Store      *store.Store
	Schema     *schema.Schema
	Operations *operation.Registry
}

// New creates an environment with a fresh operation registry. A nil store
// gets an empty one.
func New(name string, network client.Network, st *store.Store, sc *schema.Schema) *Environment {
	if name == "" {
		name = DefaultName
	}
	if st == nil {
		st = store.New()
	}
	return &Environment{
		Name:       name,
		Network:    network,
		Store:      st,
		Schema:     sc,
		Operations: operation.NewRegistry(network, st, sc),
	}
}

// Close shuts the operations down, then the network
func (e *Environment) Close() error {
	e.Operations.Shutdown()
	if err := e.Network.Close(); err != nil {
		return fmt.Errorf("failed to close environment %s: %w", e.Name, err)
	}
	return nil
}

var (
	mu   sync.RWMutex
	envs = make(map[string]*Environment)
)

// Register adds env to the process-wide map
func Register(env *Environment) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := envs[env.Name]; ok {
		return fmt.Errorf("%w: %s", ErrEnvironmentExists, env.Name)
	}
	envs[env.Name] = env
	logging.Debug().Str("env", env.Name).Msg("registered environment")
	return nil
}

// Get returns the environment registered under name, "" meaning the default
func Get(name string) (*Environment, error) {
	if name == "" {
		name = DefaultName
	}
	mu.RLock()
	defer mu.RUnlock()
	env, ok := envs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEnvironment, name)
	}
	return env, nil
}

// Default returns the default environment
func Default() (*Environment, error) {
	return Get(DefaultName)
}

// Names returns the registered names, sorted
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shared returns the coalesced handler for def in the environment it names
func Shared(def operation.Definition) (*operation.Operation, error) {
	env, err := Get(def.Environment)
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", def.Name, err)
	}
	return env.Operations.Shared(def)
}

// Shutdown closes and removes every environment
func Shutdown() error {
	mu.Lock()
	closing := envs
	envs = make(map[string]*Environment)
	mu.Unlock()

	var errs []error
	for _, env := range closing {
		if err := env.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
