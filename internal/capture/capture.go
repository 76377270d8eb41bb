// Package capture is the change-capture recorder. Just before an Action's
// transaction commits it turns the transaction's WriteSet into per-entity
// change-detail maps, attaches them to the Action's touched-links and counts
// permanently deleted entities.
//
// Compute is a pure function of the WriteSet (plus reads of created nodes);
// Record applies its result. Either fails the whole transaction with an
// IntegrityError when a structural invariant is violated.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/store"
)

const (
	// LabelAction is carried by every Action entity.
	LabelAction = "Action"

	// PropDeletedNodesCount holds the number of entities an Action deleted
	// permanently.
	PropDeletedNodesCount = "deletedNodesCount"
)

// Diff is the change-capture result for one transaction.
type Diff struct {
	ActionID string
	// Entities lists affected entities in first-change order.
	Entities []string
	Details  map[string]ir.IRObject
	// DeletedNodesCount counts permanently deleted entities.
	DeletedNodesCount int
}

func (d *Diff) detail(id string) ir.IRObject {
	m, ok := d.Details[id]
	if !ok {
		m = ir.IRObject{}
		d.Details[id] = m
		d.Entities = append(d.Entities, id)
	}
	return m
}

// Compute derives the change-detail maps of a transaction.
func Compute(ctx context.Context, r store.Reader, ws *store.WriteSet) (*Diff, error) {
	created := make(map[string]store.Node)
	var actions []string
	for _, id := range ws.CreatedNodes() {
		n, err := r.Node(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		created[id] = n
		if n.HasLabel(LabelAction) {
			actions = append(actions, id)
		}
	}
	if len(actions) != 1 {
		return nil, &IntegrityError{
			Code:    CodeActionCount,
			Message: fmt.Sprintf("transaction created %d Actions, expected exactly one", len(actions)),
		}
	}

	if edits := ws.RelPropertyEdits(); len(edits) > 0 {
		return nil, &IntegrityError{
			Code:     CodeRelationshipPropertyEdit,
			Message:  "relationship properties are immutable; delete and recreate the relationship instead",
			EntityID: edits[0],
		}
	}

	d := &Diff{
		ActionID:          actions[0],
		Details:           make(map[string]ir.IRObject),
		DeletedNodesCount: len(ws.DeletedNodes()),
	}

	for _, id := range ws.CreatedNodes() {
		if id == d.ActionID {
			continue
		}
		n := created[id]
		m := d.detail(id)
		m[KeyCreated] = ir.Strings(n.Labels...)
		for name, v := range n.Props {
			m[CreatedPropKey(name)] = v
		}
	}

	for _, id := range ws.ChangedNodes() {
		m := d.detail(id)
		added, removed := ws.LabelChanges(id)
		for _, l := range added {
			m[AddedLabelKey(l)] = ir.IRBool(true)
		}
		for _, l := range removed {
			m[RemovedLabelKey(l)] = ir.IRBool(true)
		}
		for name, c := range ws.PropChanges(id) {
			m[NewPropKey(name)] = c.New
			m[OldPropKey(name)] = c.Old
		}
	}

	for _, rel := range ws.CreatedRels() {
		if rel.StartID == d.ActionID || rel.EndID == d.ActionID {
			continue
		}
		m := d.detail(rel.StartID)
		m[NewRelKey(rel.ID, rel.Type)] = ir.IRString(rel.EndID)
		for name, v := range rel.Props {
			m[NewRelPropKey(rel.ID, name)] = v
		}
	}

	for _, rel := range ws.DeletedRels() {
		if rel.StartID == d.ActionID || rel.EndID == d.ActionID {
			continue
		}
		if ws.IsDeleted(rel.StartID) || ws.IsDeleted(rel.EndID) {
			continue
		}
		m := d.detail(rel.StartID)
		m[DeletedRelKey(rel.ID, rel.Type)] = ir.IRString(rel.EndID)
		for name, v := range rel.Props {
			m[DeletedRelPropKey(rel.ID, name)] = v
		}
	}

	return d, nil
}

// Record computes the transaction's diff and attaches it to the Action's
// touched-links. Every affected entity must already have a touched-link;
// the first one without fails the transaction with UNDECLARED_MUTATION.
// On success the transaction is marked recorded, which lets it commit while
// capture is active as long as nothing else is written before Commit.
func Record(ctx context.Context, tx *store.Tx) (*Diff, error) {
	d, err := Compute(ctx, tx, tx.WriteSet())
	if err != nil {
		return nil, err
	}

	for _, id := range d.Entities {
		err := tx.WriteDetails(ctx, d.ActionID, id, d.Details[id])
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewUndeclaredError(id)
		}
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
	}

	if err := tx.SetProperties(ctx, d.ActionID, ir.IRObject{
		PropDeletedNodesCount: ir.IRInt(d.DeletedNodesCount),
	}); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	tx.MarkRecorded()

	slog.Debug("changes captured",
		"action", d.ActionID,
		"entities", len(d.Entities),
		"deleted_nodes", d.DeletedNodesCount)
	return d, nil
}

// Affected reports whether id was changed by the transaction.
func (d *Diff) Affected(id string) bool {
	return slices.Contains(d.Entities, id)
}
