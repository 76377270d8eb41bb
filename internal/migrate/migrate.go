// Package migrate applies and reverts schema/data migrations.
//
// Migrations form a dependency DAG; they run in topological order with ties
// broken by registration order. Migrations write directly, outside Actions, so
// the change-capture mechanism is paused for their duration and resumed
// afterwards; the store refuses unrecorded writes while capture is active.
// Bootstrap migrations run before capture exists and leave it permanently
// active, or, when reverted, tear down under pause and leave it absent.
//
// Applied migrations are recorded as marker nodes labelled Migration.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/store"
)

// LabelMigration marks applied-migration nodes.
const LabelMigration = "Migration"

const (
	propID        = "id"
	propAppliedAt = "appliedAt"
)

// DefaultBatchSize bounds each teardown transaction.
const DefaultBatchSize = 500

// Func is the body of a migration step.
type Func func(ctx context.Context, env *Env) error

// Migration is one registered migration. Up and Down may be nil.
type Migration struct {
	ID        string
	DependsOn []string
	// Bootstrap migrations install the change-capture mechanism: applying
	// one leaves capture active, reverting one leaves it absent.
	Bootstrap bool
	Up        Func
	Down      Func
}

// Status describes one migration and whether it is applied.
type Status struct {
	ID        string   `json:"id"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Bootstrap bool     `json:"bootstrap,omitempty"`
	Applied   bool     `json:"applied"`
	AppliedAt string   `json:"appliedAt,omitempty"`
}

// Env is what migration steps receive.
type Env struct {
	Store     *store.Store
	BatchSize int
}

// Update runs fn in one write transaction.
func (e *Env) Update(ctx context.Context, fn func(tx *store.Tx) error) error {
	return e.Store.Update(ctx, fn)
}

// Teardown permanently deletes every node labelled label, BatchSize nodes per
// transaction, and returns how many were deleted.
func (e *Env) Teardown(ctx context.Context, label string) (int, error) {
	size := e.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	total := 0
	for {
		var n int
		err := e.Store.Update(ctx, func(tx *store.Tx) error {
			var err error
			n, err = tx.DeleteNodesByLabel(ctx, label, size)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("teardown %s: %w", label, err)
		}
		total += n
		slog.Debug("teardown batch", "label", label, "deleted", n, "total", total)
		if n < size {
			return total, nil
		}
	}
}

// Manager holds the registered migrations of one store.
type Manager struct {
	store      *store.Store
	migrations []Migration
	index      map[string]int
	batchSize  int
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBatchSize sets how many nodes each teardown transaction deletes.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithClock replaces time.Now for applied-at timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager with no migrations.
func New(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		index:     make(map[string]int),
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers migrations. Ids are unique; dependencies are checked when
// the manager runs, so they may be added in any order.
func (m *Manager) Add(migrations ...Migration) error {
	for _, mig := range migrations {
		if mig.ID == "" {
			return errors.New("add migration: empty id")
		}
		if _, dup := m.index[mig.ID]; dup {
			return fmt.Errorf("add migration %s: duplicate id", mig.ID)
		}
		m.index[mig.ID] = len(m.migrations)
		m.migrations = append(m.migrations, mig)
	}
	return nil
}

// Order returns migration ids in the order Up applies them.
func (m *Manager) Order() ([]string, error) {
	g, err := buildGraph(m.migrations)
	if err != nil {
		return nil, err
	}
	return g.order(), nil
}

// Status reports every migration in application order.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	order, err := m.Order()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(order))
	for _, id := range order {
		mig := m.migrations[m.index[id]]
		at, ok := applied[id]
		out = append(out, Status{
			ID:        id,
			DependsOn: mig.DependsOn,
			Bootstrap: mig.Bootstrap,
			Applied:   ok,
			AppliedAt: at,
		})
	}
	return out, nil
}

// Up applies every pending migration and returns the ids it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	order, err := m.Order()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, id := range order {
		if _, ok := applied[id]; ok {
			continue
		}
		if err := m.run(ctx, m.migrations[m.index[id]], true); err != nil {
			return done, err
		}
		done = append(done, id)
	}
	return done, nil
}

// Down reverts the named migrations and every applied migration depending on
// them, dependents first. With no ids it reverts everything applied.
func (m *Manager) Down(ctx context.Context, ids ...string) ([]string, error) {
	g, err := buildGraph(m.migrations)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := m.index[id]; !ok {
			return nil, fmt.Errorf("migrate down: unknown migration %q", id)
		}
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	targets := g.dependents(ids)
	order := g.order()
	slices.Reverse(order)

	var done []string
	for _, id := range order {
		if _, ok := applied[id]; !ok {
			continue
		}
		if len(ids) > 0 && !targets[id] {
			continue
		}
		if err := m.run(ctx, m.migrations[m.index[id]], false); err != nil {
			return done, err
		}
		done = append(done, id)
	}
	return done, nil
}

func (m *Manager) run(ctx context.Context, mig Migration, up bool) error {
	direction := "down"
	step := mig.Down
	if up {
		direction = "up"
		step = mig.Up
	}
	log := slog.With("migration", mig.ID, "direction", direction)

	prev, err := m.captureState(ctx)
	if err != nil {
		return err
	}
	paused := prev == store.CaptureActive
	if paused {
		if err := m.setCapture(ctx, store.CapturePaused); err != nil {
			return err
		}
	}

	next := prev
	if mig.Bootstrap {
		next = store.CaptureAbsent
		if up {
			next = store.CaptureActive
		}
	}

	if step != nil {
		env := &Env{Store: m.store, BatchSize: m.batchSize}
		if err := step(ctx, env); err != nil {
			if paused {
				if rerr := m.setCapture(ctx, prev); rerr != nil {
					log.Error("failed to resume change capture", "error", rerr)
				}
			}
			log.Error("migration failed", "error", err)
			return fmt.Errorf("migration %s %s: %w", mig.ID, direction, err)
		}
	}

	err = m.store.Update(ctx, func(tx *store.Tx) error {
		if up {
			if _, err := tx.CreateNode(ctx, []string{LabelMigration}, ir.IRObject{
				propID:        ir.IRString(mig.ID),
				propAppliedAt: ir.IRString(m.now().UTC().Format(time.RFC3339Nano)),
			}); err != nil {
				return err
			}
		} else {
			markers, err := tx.Find(ctx, markerMatch(mig.ID))
			if err != nil {
				return err
			}
			for _, n := range markers {
				if err := tx.DeleteNode(ctx, n.ID); err != nil {
					return err
				}
			}
		}
		return tx.SetCaptureState(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("migration %s %s: record: %w", mig.ID, direction, err)
	}

	log.Info("migration finished", "capture", next)
	return nil
}

func (m *Manager) applied(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := m.store.View(ctx, func(r store.Reader) error {
		nodes, err := r.Find(ctx, query.Match{Label: LabelMigration})
		if err != nil {
			return err
		}
		for _, n := range nodes {
			id, _ := n.Props.String(propID)
			at, _ := n.Props.String(propAppliedAt)
			out[id] = at
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return out, nil
}

func (m *Manager) captureState(ctx context.Context) (store.CaptureState, error) {
	var state store.CaptureState
	err := m.store.View(ctx, func(r store.Reader) error {
		var err error
		state, err = r.CaptureState(ctx)
		return err
	})
	return state, err
}

func (m *Manager) setCapture(ctx context.Context, state store.CaptureState) error {
	return m.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetCaptureState(ctx, state)
	})
}

func markerMatch(id string) query.Match {
	return query.Match{
		Label: LabelMigration,
		Where: query.Equals{Field: propID, Value: ir.IRString(id)},
	}
}
