package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/catalog"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/migrate"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
	"github.com/roach88/actiongraph/internal/testutil"
	"github.com/roach88/actiongraph/internal/undo"
)

// Harness executes scenarios. Each scenario gets its own in-memory graph.
type Harness struct {
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger for per-step debug output.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New creates a Harness. Logging is discarded unless WithLogger is given.
func New(opts ...Option) *Harness {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default Harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(context.Background(), scenario)
}

// env is the graph a scenario runs against.
type env struct {
	store  *store.Store
	runner *action.Runner
}

func newEnv(ctx context.Context) (*env, error) {
	st, err := store.Open(":memory:", store.WithIDGenerator(store.NewSequentialGenerator("id")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sch := schema.New()
	reg := action.NewRegistry()
	if err := catalog.Register(sch, reg); err != nil {
		st.Close()
		return nil, err
	}
	if err := undo.Register(reg); err != nil {
		st.Close()
		return nil, err
	}
	if err := sch.Finalize(); err != nil {
		st.Close()
		return nil, err
	}

	clock := testutil.NewDeterministicClock()
	mgr := migrate.New(st, migrate.WithClock(clock.Now))
	if err := mgr.Add(append(migrate.Core(), catalog.Migration())...); err != nil {
		st.Close()
		return nil, err
	}
	if _, err := mgr.Up(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &env{
		store:  st,
		runner: action.NewRunner(st, reg, sch, action.WithClock(clock.Now)),
	}, nil
}

// Run executes every step of the scenario, evaluates its assertions and
// captures the final projections. Unexpected step outcomes and failed
// assertions are reported in Result.Errors; the returned error is reserved
// for failures of the harness itself.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	e, err := newEnv(ctx)
	if err != nil {
		return nil, err
	}
	defer e.store.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, e, scenario, i+1, step, result); err != nil {
			return nil, err
		}
	}

	for i, a := range scenario.Assertions {
		if err := evaluate(ctx, e.store, a, result); err != nil {
			result.AddError(fmt.Sprintf("assertion %d (%s): %v", i+1, a.Type, err))
		}
	}

	if err := e.store.View(ctx, func(r store.Reader) error {
		for _, name := range []string{QueryFranchises, QueryMovies} {
			v, err := project(ctx, r, name)
			if err != nil {
				return err
			}
			result.Final[name] = v
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, e *env, scenario *Scenario, n int, step Step, result *Result) error {
	actor := step.Actor
	if actor == "" {
		actor = scenario.Actor
	}
	if actor == "" {
		actor = migrate.SystemSlug
	}

	event := TraceEvent{Step: n, Label: step.As}
	var in action.Input
	if step.Undo != "" {
		target, ok := result.Actions[step.Undo]
		if !ok {
			return fmt.Errorf("step %d: %q did not commit", n, step.Undo)
		}
		in = undo.Input(target)
		event.Target = step.Undo
	} else {
		data, err := ir.ObjectFromGo(step.Input)
		if err != nil {
			return fmt.Errorf("step %d: input: %w", n, err)
		}
		in = action.Input{Kind: step.Run, Data: data}
		event.Input = step.Input
	}
	event.Kind = in.Kind

	res, err := e.runner.Run(ctx, actor, in)
	if err != nil {
		event.Outcome = OutcomeAborted
		event.Error = action.ErrorCode(err)
		h.logger.Debug("step aborted", "step", n, "kind", in.Kind, "error", err)
	} else {
		event.Outcome = OutcomeCommitted
		if step.As != "" {
			result.Actions[step.As] = res.ActionID
		}
		h.logger.Debug("step committed", "step", n, "kind", in.Kind, "action", res.ActionID)
	}
	result.Trace = append(result.Trace, event)

	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d (%s): expected commit, got %v", n, in.Kind, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got commit", n, in.Kind, step.ExpectError))
	case step.ExpectError != "" && event.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s: %v", n, in.Kind, step.ExpectError, event.Error, err))
	}
	return nil
}
