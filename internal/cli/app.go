package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/catalog"
	"github.com/roach88/actiongraph/internal/config"
	"github.com/roach88/actiongraph/internal/migrate"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
	"github.com/roach88/actiongraph/internal/undo"
)

// app is an opened database with the catalog domain, the Undo kind and the
// migration set registered.
type app struct {
	cfg        *config.Config
	store      *store.Store
	schema     *schema.Schema
	registry   *action.Registry
	runner     *action.Runner
	migrations *migrate.Manager
	metrics    *prometheus.Registry
}

func openApp(opts *RootOptions) (*app, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, NewExitError(ExitCommandError, "config not loaded")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a, err := newApp(cfg, st)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	slog.Debug("database ready", "path", cfg.Database)
	return a, nil
}

func newApp(cfg *config.Config, st *store.Store) (*app, error) {
	sch := schema.New()
	reg := action.NewRegistry()
	if err := catalog.Register(sch, reg); err != nil {
		return nil, err
	}
	if err := undo.Register(reg); err != nil {
		return nil, err
	}
	if err := sch.Finalize(); err != nil {
		return nil, err
	}

	mgr := migrate.New(st, migrate.WithBatchSize(cfg.TeardownBatchSize))
	if err := mgr.Add(append(migrate.Core(), catalog.Migration())...); err != nil {
		return nil, fmt.Errorf("register migrations: %w", err)
	}

	metrics := prometheus.NewRegistry()
	return &app{
		cfg:        cfg,
		store:      st,
		schema:     sch,
		registry:   reg,
		runner:     action.NewRunner(st, reg, sch, action.WithMetrics(action.NewMetrics(metrics))),
		migrations: mgr,
		metrics:    metrics,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// actor returns the flag value, or the configured actor when it is empty.
func (a *app) actor(flag string) string {
	if flag != "" {
		return flag
	}
	return a.cfg.Actor
}
