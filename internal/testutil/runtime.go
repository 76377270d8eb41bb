package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/migrate"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// OpenStore opens a fresh store in t.TempDir with sequential ids
// (id-1, id-2, ...) and closes it when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"),
		store.WithIDGenerator(store.NewSequentialGenerator("id")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// Runtime is a migrated store with a schema, a registry and a runner, ready
// to run Actions as the system actor.
type Runtime struct {
	Store    *store.Store
	Schema   *schema.Schema
	Registry *action.Registry
	Runner   *action.Runner
	Clock    *DeterministicClock
	Metrics  *prometheus.Registry
}

// Setup registers the entity types and Action kinds a test needs.
type Setup func(sch *schema.Schema, reg *action.Registry) error

// NewRuntime builds a Runtime. setups run in order before the schema is
// finalized; the core migrations are applied afterwards.
func NewRuntime(t testing.TB, setups ...Setup) *Runtime {
	t.Helper()

	rt := &Runtime{
		Store:    OpenStore(t),
		Schema:   schema.New(),
		Registry: action.NewRegistry(),
		Clock:    NewDeterministicClock(),
		Metrics:  prometheus.NewRegistry(),
	}
	for _, setup := range setups {
		require.NoError(t, setup(rt.Schema, rt.Registry))
	}
	require.NoError(t, rt.Schema.Finalize())

	mgr := migrate.New(rt.Store, migrate.WithClock(rt.Clock.Now))
	require.NoError(t, mgr.Add(migrate.Core()...))
	_, err := mgr.Up(context.Background())
	require.NoError(t, err)

	rt.Runner = action.NewRunner(rt.Store, rt.Registry, rt.Schema,
		action.WithClock(rt.Clock.Now),
		action.WithMetrics(action.NewMetrics(rt.Metrics)))
	return rt
}

// Run executes one Action as the system actor and fails the test on error.
func (rt *Runtime) Run(t testing.TB, kind string, data map[string]any) *action.Result {
	t.Helper()
	res, err := rt.TryRun(kind, data)
	require.NoError(t, err)
	return res
}

// TryRun executes one Action as the system actor.
func (rt *Runtime) TryRun(kind string, data map[string]any) (*action.Result, error) {
	in, err := Input(kind, data)
	if err != nil {
		return nil, err
	}
	return rt.Runner.Run(context.Background(), migrate.SystemSlug, in)
}

// View runs fn in a read transaction and fails the test on error.
func (rt *Runtime) View(t testing.TB, fn func(r store.Reader)) {
	t.Helper()
	require.NoError(t, rt.Store.View(context.Background(), func(r store.Reader) error {
		fn(r)
		return nil
	}))
}

// Input builds an action.Input from plain Go values.
func Input(kind string, data map[string]any) (action.Input, error) {
	obj, err := ir.ObjectFromGo(data)
	if err != nil {
		return action.Input{}, err
	}
	return action.Input{Kind: kind, Data: obj}, nil
}
