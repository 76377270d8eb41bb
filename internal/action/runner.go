package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// Action entity properties and bookkeeping relationships.
const (
	PropID        = "id"
	PropType      = "type"
	PropData      = "data"
	PropResult    = "result"
	PropTimestamp = "timestamp"
	PropTookMs    = "tookMs"

	// RelPerformed links an actor to each Action it performed.
	RelPerformed = "PERFORMED"

	// LabelActor is carried by actor entities.
	LabelActor = "Actor"
)

// Phase is a step of the per-Action state machine.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseApplying  Phase = "applying"
	PhaseVerifying Phase = "verifying"
	PhaseCommitted Phase = "committed"
	PhaseAborted   Phase = "aborted"
)

// Result describes a committed Action.
type Result struct {
	ActionID string
	Data     ir.IRObject
	// Touched is the declared touched set, in declaration order.
	Touched []string
	TookMs  int64
}

// Runner executes Actions, one write transaction each.
type Runner struct {
	store    *store.Store
	registry *Registry
	schema   *schema.Schema
	now      func() time.Time
	metrics  *Metrics
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces time.Now (tests use a deterministic clock).
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithMetrics records Prometheus metrics for every Action.
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a Runner. The schema must be finalized.
func NewRunner(st *store.Store, reg *Registry, sch *schema.Schema, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    st,
		registry: reg,
		schema:   sch,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the runner's kind registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Store returns the runner's store.
func (r *Runner) Store() *store.Store {
	return r.store
}

// Run executes one Action on behalf of actor (an entity id or slug).
// Nothing is written unless the whole Action commits.
func (r *Runner) Run(ctx context.Context, actor string, in Input) (*Result, error) {
	start := r.now()
	res, err := r.run(ctx, actor, in, start)
	elapsed := r.now().Sub(start).Seconds()
	r.metrics.observe(in.Kind, err == nil, elapsed, err)
	return res, err
}

// RunAs executes Actions in sequence, each in its own transaction, and
// returns the result of the last. A failure stops the sequence; Actions that
// already committed stay committed.
func (r *Runner) RunAs(ctx context.Context, actor string, first Input, more ...Input) (*Result, error) {
	var last *Result
	for i, in := range append([]Input{first}, more...) {
		res, err := r.Run(ctx, actor, in)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i+1, in.Kind, err)
		}
		last = res
	}
	return last, nil
}

func (r *Runner) run(ctx context.Context, actor string, in Input, start time.Time) (*Result, error) {
	phase := PhasePending
	logAbort := func(err error) {
		slog.Info("action aborted", "kind", in.Kind, "failed_in", phase, "phase", PhaseAborted, "error", err)
	}

	kind, ok := r.registry.Lookup(in.Kind)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
		logAbort(err)
		return nil, err
	}
	if in.Data == nil {
		in.Data = ir.IRObject{}
	}
	if err := r.registry.CheckInput(in); err != nil {
		logAbort(err)
		return nil, err
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		logAbort(err)
		return nil, err
	}
	defer tx.Rollback()

	state, err := tx.CaptureState(ctx)
	if err != nil {
		logAbort(err)
		return nil, err
	}
	if state != store.CaptureActive {
		err := &IntegrityError{
			Code:    capture.CodeCaptureInactive,
			Message: fmt.Sprintf("change capture is %s; run migrations first", state),
		}
		logAbort(err)
		return nil, err
	}

	actorID, err := r.resolveActor(ctx, tx, actor)
	if err != nil {
		logAbort(err)
		return nil, err
	}

	actionID, err := tx.CreateNode(ctx, []string{capture.LabelAction}, ir.IRObject{
		PropType:      ir.IRString(in.Kind),
		PropData:      in.Data,
		PropTimestamp: ir.IRString(start.UTC().Format(time.RFC3339Nano)),
	})
	if err != nil {
		logAbort(err)
		return nil, fmt.Errorf("create action: %w", err)
	}
	if _, err := tx.CreateRel(ctx, RelPerformed, actorID, actionID, nil); err != nil {
		logAbort(err)
		return nil, fmt.Errorf("link actor: %w", err)
	}
	slog.Debug("action started", "kind", in.Kind, "action", actionID, "actor", actorID)

	phase = PhaseApplying
	outcome, err := kind.Apply(ctx, tx, Call{ActionID: actionID, Actor: actorID, Input: in.Data})
	if err != nil {
		logAbort(err)
		return nil, err
	}
	if outcome.Data == nil {
		outcome.Data = ir.IRObject{}
	}
	tookMs := r.now().Sub(start).Milliseconds()

	phase = PhaseVerifying
	touched, err := r.declare(ctx, tx, actionID, outcome.Touched)
	if err != nil {
		logAbort(err)
		return nil, err
	}

	if err := tx.SetProperties(ctx, actionID, ir.IRObject{
		PropID:     ir.IRString(actionID),
		PropResult: outcome.Data,
		PropTookMs: ir.IRInt(tookMs),
	}); err != nil {
		logAbort(err)
		return nil, fmt.Errorf("finish action: %w", err)
	}

	if _, err := capture.Record(ctx, tx); err != nil {
		logAbort(err)
		return nil, err
	}

	for _, id := range touched {
		if err := r.schema.Validate(ctx, tx, id); err != nil {
			logAbort(err)
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		logAbort(err)
		return nil, err
	}
	phase = PhaseCommitted

	slog.Info("action committed",
		"kind", in.Kind,
		"phase", phase,
		"action", actionID,
		"touched", len(touched),
		"took_ms", tookMs)

	return &Result{
		ActionID: actionID,
		Data:     outcome.Data,
		Touched:  touched,
		TookMs:   tookMs,
	}, nil
}

// declare creates a touched-link for every declared id that still exists.
// Permanently deleted entities have nothing left to link to; they are
// accounted for by the deleted-nodes count instead.
func (r *Runner) declare(ctx context.Context, tx *store.Tx, actionID string, ids []string) ([]string, error) {
	var touched []string
	for _, id := range ids {
		if id == actionID || slices.Contains(touched, id) {
			continue
		}
		if _, err := tx.Node(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if err := tx.Declare(ctx, actionID, id); err != nil {
			return nil, err
		}
		touched = append(touched, id)
	}
	return touched, nil
}

func (r *Runner) resolveActor(ctx context.Context, rd store.Reader, actor string) (string, error) {
	n, err := rd.Node(ctx, actor)
	if errors.Is(err, store.ErrNotFound) {
		id, serr := schema.ResolveSlug(ctx, rd, actor)
		if serr != nil {
			if errors.Is(serr, store.ErrNotFound) {
				return "", fmt.Errorf("%w: %q", ErrUnknownActor, actor)
			}
			return "", serr
		}
		n, err = rd.Node(ctx, id)
	}
	if err != nil {
		return "", fmt.Errorf("resolve actor %q: %w", actor, err)
	}
	if !n.HasLabel(LabelActor) || !n.HasLabel(schema.LabelEntity) {
		return "", fmt.Errorf("%w: %q", ErrUnknownActor, actor)
	}
	return n.ID, nil
}
