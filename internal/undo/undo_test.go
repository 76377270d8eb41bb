package undo

import (
	"context"
	"errors"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/history"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
	"github.com/roach88/actiongraph/internal/testutil"
)

const relPartOf = "PART_OF"

// items registers an Item type and kinds covering every change the undo
// engine reverses.
func items(sch *schema.Schema, reg *action.Registry) error {
	if err := sch.Register(schema.EntityType{
		Name:       "Item",
		Properties: `{name: string, qty?: int}`,
		Rels: []schema.RelSlot{
			{Name: "parent", RelType: relPartOf, Target: "Item", Cardinality: schema.Many},
		},
	}); err != nil {
		return err
	}

	str := func(call action.Call, key string) string {
		s, _ := call.Input.String(key)
		return s
	}
	touched := func(ids ...string) action.Outcome {
		return action.Outcome{Data: ir.IRObject{}, Touched: ids}
	}

	return errors.Join(
		Register(reg),
		reg.Register(action.Kind{
			Name:  "CreateItem",
			Input: `{name: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				id, err := tx.CreateNode(ctx, sch.MustLabels("Item"), ir.IRObject{"name": call.Input["name"]})
				if err != nil {
					return action.Outcome{}, err
				}
				return action.Outcome{Data: ir.IRObject{"id": ir.IRString(id)}, Touched: []string{id}}, nil
			},
		}),
		reg.Register(action.Kind{
			Name:  "SetQty",
			Input: `{id: string, qty: int | null}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				id := str(call, "id")
				return touched(id), tx.SetProperties(ctx, id, ir.IRObject{"qty": call.Input["qty"]})
			},
		}),
		reg.Register(action.Kind{
			Name:  "Feature",
			Input: `{id: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				id := str(call, "id")
				return touched(id), tx.AddLabels(ctx, id, "Featured")
			},
		}),
		reg.Register(action.Kind{
			Name:  "Link",
			Input: `{from: string, to: string, weight?: int}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				var props ir.IRObject
				if w, ok := call.Input["weight"]; ok {
					props = ir.IRObject{"weight": w}
				}
				from := str(call, "from")
				_, err := tx.CreateRel(ctx, relPartOf, from, str(call, "to"), props)
				return touched(from), err
			},
		}),
		reg.Register(action.Kind{
			Name:  "Unlink",
			Input: `{from: string, to: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				from := str(call, "from")
				rels, err := tx.Rels(ctx, store.RelFilter{Type: relPartOf, StartID: from, EndID: str(call, "to")})
				if err != nil {
					return action.Outcome{}, err
				}
				for _, r := range rels {
					if err := tx.DeleteRel(ctx, r.ID); err != nil {
						return action.Outcome{}, err
					}
				}
				return touched(from), nil
			},
		}),
		reg.Register(action.Kind{
			Name:  "LinkTwice",
			Input: `{from: string, to: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				from := str(call, "from")
				for i := 0; i < 2; i++ {
					if _, err := tx.CreateRel(ctx, relPartOf, from, str(call, "to"), nil); err != nil {
						return action.Outcome{}, err
					}
				}
				return touched(from), nil
			},
		}),
		reg.Register(action.Kind{
			Name:  "UnlinkOne",
			Input: `{from: string, to: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				from := str(call, "from")
				rels, err := tx.Rels(ctx, store.RelFilter{Type: relPartOf, StartID: from, EndID: str(call, "to")})
				if err != nil {
					return action.Outcome{}, err
				}
				if len(rels) == 0 {
					return action.Outcome{}, errors.New("nothing to unlink")
				}
				return touched(from), tx.DeleteRel(ctx, rels[0].ID)
			},
		}),
		reg.Register(action.Kind{
			Name:  "CreateChild",
			Input: `{name: string, parent: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				id, err := tx.CreateNode(ctx, sch.MustLabels("Item"), ir.IRObject{"name": call.Input["name"]})
				if err != nil {
					return action.Outcome{}, err
				}
				if _, err := tx.CreateRel(ctx, relPartOf, id, str(call, "parent"), nil); err != nil {
					return action.Outcome{}, err
				}
				return action.Outcome{Data: ir.IRObject{"id": ir.IRString(id)}, Touched: []string{id}}, nil
			},
		}),
		reg.Register(action.Kind{
			Name:  "DeleteItem",
			Input: `{id: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				id := str(call, "id")
				if err := tx.RemoveLabels(ctx, id, schema.LabelEntity); err != nil {
					return action.Outcome{}, err
				}
				return touched(id), tx.AddLabels(ctx, id, schema.LabelDeleted)
			},
		}),
		reg.Register(action.Kind{
			Name:  "PurgeItem",
			Input: `{id: string}`,
			Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
				id := str(call, "id")
				return touched(id), tx.DeleteNode(ctx, id)
			},
		}),
	)
}

func newRuntime(t *testing.T) *testutil.Runtime {
	t.Helper()
	return testutil.NewRuntime(t, items)
}

func create(t *testing.T, rt *testutil.Runtime, name string) (itemID string, res *action.Result) {
	t.Helper()
	res = rt.Run(t, "CreateItem", map[string]any{"name": name})
	itemID, _ = res.Data.String("id")
	return itemID, res
}

func undoRun(rt *testutil.Runtime, actionID string) (*action.Result, error) {
	return rt.TryRun(KindName, map[string]any{InputTarget: actionID})
}

func mustUndo(t *testing.T, rt *testutil.Runtime, actionID string) *action.Result {
	t.Helper()
	res, err := undoRun(rt, actionID)
	require.NoError(t, err)
	return res
}

func node(t *testing.T, rt *testutil.Runtime, id string) store.Node {
	t.Helper()
	var n store.Node
	rt.View(t, func(r store.Reader) {
		var err error
		n, err = r.Node(context.Background(), id)
		require.NoError(t, err)
	})
	return n
}

func rels(t *testing.T, rt *testutil.Runtime, from, to string) []store.Relationship {
	t.Helper()
	var out []store.Relationship
	rt.View(t, func(r store.Reader) {
		var err error
		out, err = r.Rels(context.Background(), store.RelFilter{Type: relPartOf, StartID: from, EndID: to})
		require.NoError(t, err)
	})
	return out
}

func actionCount(t *testing.T, rt *testutil.Runtime) int {
	t.Helper()
	var n int
	rt.View(t, func(r store.Reader) {
		nodes, err := r.Find(context.Background(), query.Match{Label: capture.LabelAction})
		require.NoError(t, err)
		n = len(nodes)
	})
	return n
}

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, HasReason(err, reason), "want %s, got %v", reason, err)
}

func TestUndo_CreateSoftDeletes(t *testing.T) {
	rt := newRuntime(t)
	id, res := create(t, rt, "bolt")

	u := mustUndo(t, rt, res.ActionID)
	assert.Equal(t, []string{id}, u.Touched)

	n := node(t, rt, id)
	assert.True(t, n.HasLabel(schema.LabelDeleted))
	assert.False(t, n.HasLabel(schema.LabelEntity))
	assert.True(t, n.HasLabel("Item"))
}

func TestUndo_PropertyChanges(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")

	set3 := rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 3})
	set5 := rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 5})

	mustUndo(t, rt, set5.ActionID)
	assert.Equal(t, ir.IRInt(3), node(t, rt, id).Props["qty"])

	mustUndo(t, rt, set3.ActionID)
	_, ok := node(t, rt, id).Props["qty"]
	assert.False(t, ok, "qty should be absent again")
}

func TestUndo_RemovedPropertyComesBack(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")
	rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 3})
	clear := rt.Run(t, "SetQty", map[string]any{"id": id, "qty": nil})

	mustUndo(t, rt, clear.ActionID)
	assert.Equal(t, ir.IRInt(3), node(t, rt, id).Props["qty"])
}

func TestUndo_StaleProperty(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")
	set3 := rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 3})
	rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 5})

	before := actionCount(t, rt)
	_, err := undoRun(rt, set3.ActionID)
	requireReason(t, err, ReasonStaleProperty)

	assert.Equal(t, before, actionCount(t, rt), "refused undo must not record an Action")
	assert.Equal(t, ir.IRInt(5), node(t, rt, id).Props["qty"])
}

func TestUndo_ModifiedSinceCreation(t *testing.T) {
	rt := newRuntime(t)
	id, res := create(t, rt, "bolt")
	rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 3})

	_, err := undoRun(rt, res.ActionID)
	requireReason(t, err, ReasonModifiedSinceCreation)
	assert.True(t, node(t, rt, id).HasLabel(schema.LabelEntity))
}

func TestUndo_AlreadyDeleted(t *testing.T) {
	rt := newRuntime(t)
	id, res := create(t, rt, "bolt")
	rt.Run(t, "DeleteItem", map[string]any{"id": id})

	_, err := undoRun(rt, res.ActionID)
	requireReason(t, err, ReasonAlreadyDeleted)
}

func TestUndo_PermanentDeletion(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")
	purge := rt.Run(t, "PurgeItem", map[string]any{"id": id})

	_, err := undoRun(rt, purge.ActionID)
	requireReason(t, err, ReasonPermanentDeletion)
	assert.Contains(t, err.Error(), "permanently deleted")
}

func TestUndo_TargetMissing(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")

	_, err := undoRun(rt, "no-such-action")
	requireReason(t, err, ReasonTargetMissing)

	_, err = undoRun(rt, id)
	requireReason(t, err, ReasonTargetMissing)
}

func TestUndo_AlreadyUndone(t *testing.T) {
	rt := newRuntime(t)
	_, res := create(t, rt, "bolt")
	mustUndo(t, rt, res.ActionID)

	_, err := undoRun(rt, res.ActionID)
	requireReason(t, err, ReasonAlreadyUndone)
	assert.Contains(t, err.Error(), "already undone")
}

func TestUndo_SoftDeleteRoundTrip(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")
	before := node(t, rt, id)

	del := rt.Run(t, "DeleteItem", map[string]any{"id": id})
	deleted := node(t, rt, id)

	u := mustUndo(t, rt, del.ActionID)
	assert.Equal(t, before, node(t, rt, id))

	mustUndo(t, rt, u.ActionID)
	assert.Equal(t, deleted, node(t, rt, id))
}

func TestUndo_Labels(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")
	feat := rt.Run(t, "Feature", map[string]any{"id": id})
	require.True(t, node(t, rt, id).HasLabel("Featured"))

	u := mustUndo(t, rt, feat.ActionID)
	assert.False(t, node(t, rt, id).HasLabel("Featured"))

	mustUndo(t, rt, u.ActionID)
	assert.True(t, node(t, rt, id).HasLabel("Featured"))
}

func TestUndo_Relationships(t *testing.T) {
	rt := newRuntime(t)
	a, _ := create(t, rt, "a")
	b, _ := create(t, rt, "b")

	link := rt.Run(t, "Link", map[string]any{"from": a, "to": b, "weight": 2})
	unlink := rt.Run(t, "Unlink", map[string]any{"from": a, "to": b})
	require.Empty(t, rels(t, rt, a, b))

	mustUndo(t, rt, unlink.ActionID)
	restored := rels(t, rt, a, b)
	require.Len(t, restored, 1)
	assert.Equal(t, ir.IRObject{"weight": ir.IRInt(2)}, restored[0].Props)

	// The recreated relationship has a new id but the same fingerprint, so
	// the original link can still be undone.
	mustUndo(t, rt, link.ActionID)
	assert.Empty(t, rels(t, rt, a, b))
}

func TestUndo_ParallelRelationshipsFromSeparateActions(t *testing.T) {
	rt := newRuntime(t)
	a, _ := create(t, rt, "a")
	b, _ := create(t, rt, "b")

	first := rt.Run(t, "Link", map[string]any{"from": a, "to": b})
	second := rt.Run(t, "Link", map[string]any{"from": a, "to": b})
	require.Len(t, rels(t, rt, a, b), 2)
	before := rels(t, rt, a, b)

	mustUndo(t, rt, first.ActionID)
	left := rels(t, rt, a, b)
	require.Len(t, left, 1)
	assert.Equal(t, before[1].ID, left[0].ID)

	mustUndo(t, rt, second.ActionID)
	assert.Empty(t, rels(t, rt, a, b))
}

func TestUndo_ParallelRelationshipRemovedElsewhere(t *testing.T) {
	rt := newRuntime(t)
	a, _ := create(t, rt, "a")
	b, _ := create(t, rt, "b")

	twice := rt.Run(t, "LinkTwice", map[string]any{"from": a, "to": b})
	require.Len(t, rels(t, rt, a, b), 2)
	rt.Run(t, "UnlinkOne", map[string]any{"from": a, "to": b})
	actions := actionCount(t, rt)

	// One identical relationship is left for two recorded creations.
	_, err := undoRun(rt, twice.ActionID)
	requireReason(t, err, ReasonRelationshipRecreation)
	assert.Len(t, rels(t, rt, a, b), 1)
	assert.Equal(t, actions, actionCount(t, rt))
}

func TestUndo_LateConflictLeavesNoPartialEffect(t *testing.T) {
	rt := newRuntime(t)
	parent, _ := create(t, rt, "parent")
	res := rt.Run(t, "CreateChild", map[string]any{"name": "child", "parent": parent})
	child, _ := res.Data.String("id")
	rt.Run(t, "SetQty", map[string]any{"id": child, "qty": 3})
	linked := rels(t, rt, child, parent)
	require.Len(t, linked, 1)
	actions := actionCount(t, rt)

	// Step d deletes the relationship before step e finds the modified
	// child; the conflict must roll both back.
	_, err := undoRun(rt, res.ActionID)
	requireReason(t, err, ReasonModifiedSinceCreation)

	after := rels(t, rt, child, parent)
	require.Len(t, after, 1)
	assert.Equal(t, linked[0].ID, after[0].ID)
	assert.True(t, node(t, rt, child).HasLabel(schema.LabelEntity))
	assert.Equal(t, actions, actionCount(t, rt))

	var target *history.Action
	rt.View(t, func(r store.Reader) {
		var err error
		target, err = history.ReadAction(context.Background(), r, res.ActionID)
		require.NoError(t, err)
	})
	assert.Empty(t, target.RevertedBy)
}

func TestUndo_RecreationNeedsLiveEnds(t *testing.T) {
	rt := newRuntime(t)
	a, _ := create(t, rt, "a")
	b, _ := create(t, rt, "b")

	rt.Run(t, "Link", map[string]any{"from": a, "to": b})
	unlink := rt.Run(t, "Unlink", map[string]any{"from": a, "to": b})
	rt.Run(t, "DeleteItem", map[string]any{"id": b})
	actions := actionCount(t, rt)

	_, err := undoRun(rt, unlink.ActionID)
	requireReason(t, err, ReasonRelationshipRecreation)
	assert.Empty(t, rels(t, rt, a, b))
	assert.Equal(t, actions, actionCount(t, rt))
}

func TestUndo_DeletedRelationshipCreatedElsewhere(t *testing.T) {
	rt := newRuntime(t)
	a, _ := create(t, rt, "a")
	b, _ := create(t, rt, "b")

	link := rt.Run(t, "Link", map[string]any{"from": a, "to": b})
	rt.Run(t, "Unlink", map[string]any{"from": a, "to": b})

	_, err := undoRun(rt, link.ActionID)
	requireReason(t, err, ReasonRelationshipRecreation)
}

func TestUndo_RecreationNeedsBothEnds(t *testing.T) {
	rt := newRuntime(t)
	a, _ := create(t, rt, "a")
	b, _ := create(t, rt, "b")

	rt.Run(t, "Link", map[string]any{"from": a, "to": b})
	unlink := rt.Run(t, "Unlink", map[string]any{"from": a, "to": b})
	rt.Run(t, "PurgeItem", map[string]any{"id": b})

	_, err := undoRun(rt, unlink.ActionID)
	requireReason(t, err, ReasonRelationshipRecreation)
}

func TestUndo_RecordsRevertedLink(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	_, res := create(t, rt, "bolt")
	u := mustUndo(t, rt, res.ActionID)

	rt.View(t, func(r store.Reader) {
		target, err := history.ReadAction(ctx, r, res.ActionID)
		require.NoError(t, err)
		assert.Equal(t, u.ActionID, target.RevertedBy)
		assert.False(t, target.Reversible())

		undoAction, err := history.ReadAction(ctx, r, u.ActionID)
		require.NoError(t, err)
		assert.Equal(t, res.ActionID, undoAction.Reverts)
		assert.Equal(t, KindName, undoAction.Kind)
		assert.True(t, undoAction.Reversible())
	})
}

func TestUndo_ConflictMetrics(t *testing.T) {
	rt := newRuntime(t)
	id, _ := create(t, rt, "bolt")
	set3 := rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 3})
	rt.Run(t, "SetQty", map[string]any{"id": id, "qty": 5})

	_, err := undoRun(rt, set3.ActionID)
	require.Error(t, err)
	_, err = undoRun(rt, "missing")
	require.Error(t, err)

	expected := `
# HELP actiongraph_undo_conflicts_total Total refused undos by conflict reason
# TYPE actiongraph_undo_conflicts_total counter
actiongraph_undo_conflicts_total{reason="STALE_PROPERTY"} 1
actiongraph_undo_conflicts_total{reason="TARGET_MISSING"} 1
`
	require.NoError(t, promtestutil.GatherAndCompare(rt.Metrics, strings.NewReader(expected), "actiongraph_undo_conflicts_total"))
}

func TestConflictError_Format(t *testing.T) {
	err := conflict(ReasonStaleProperty, "act-1", "ent-1", "property %q has changed", "qty")
	assert.Equal(t, `STALE_PROPERTY: property "qty" has changed (action=act-1, entity=ent-1)`, err.Error())
	assert.Equal(t, "STALE_PROPERTY", err.ConflictReason())

	err = conflict(ReasonAlreadyUndone, "act-1", "", "done")
	assert.Equal(t, "ALREADY_UNDONE: done (action=act-1)", err.Error())
	assert.False(t, HasReason(errors.New("x"), ReasonAlreadyUndone))
}
