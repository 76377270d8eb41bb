// Package undo reverses past Actions. Undo is itself an Action kind, so an
// undo is recorded, checked and undoable like any other Action; undoing an
// undo is a redo.
//
// Reversal is generic: it reads the target's change-detail maps and applies
// the structural inverse in a fixed order, because later steps may depend on
// entities restored by earlier ones:
//
//	a. restore entities the target soft-deleted
//	b. recreate relationships the target deleted
//	c. revert property and label changes (only where values still match)
//	d. delete relationships the target created
//	e. soft-delete entities the target created (only if unmodified)
//	f. soft-delete again entities the target restored
//
// Any divergence between the recorded and the current state fails the whole
// undo with a ConflictError.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/history"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

const (
	// KindName is the Action kind of undos.
	KindName = "Undo"

	// InputTarget is the input field naming the Action to revert.
	InputTarget = "targetActionId"
)

// Kind returns the built-in Undo Action kind.
func Kind() action.Kind {
	return action.Kind{
		Name:  KindName,
		Input: `{targetActionId: string & !=""}`,
		Apply: apply,
	}
}

// Register adds the Undo kind to reg.
func Register(reg *action.Registry) error {
	return reg.Register(Kind())
}

// Input builds the input of an Undo Action.
func Input(targetActionID string) action.Input {
	return action.Input{
		Kind: KindName,
		Data: ir.IRObject{InputTarget: ir.IRString(targetActionID)},
	}
}

type reverter struct {
	tx       *store.Tx
	targetID string
	touched  []string
}

func (r *reverter) touch(id string) {
	if !slices.Contains(r.touched, id) {
		r.touched = append(r.touched, id)
	}
}

func apply(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
	targetID, _ := call.Input.String(InputTarget)

	target, err := history.ReadAction(ctx, tx, targetID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, history.ErrNotAction) {
		return action.Outcome{}, conflict(ReasonTargetMissing, targetID, "", "no such action")
	}
	if err != nil {
		return action.Outcome{}, err
	}
	if target.RevertedBy != "" {
		return action.Outcome{}, conflict(ReasonAlreadyUndone, targetID, "", "that action was already undone")
	}
	if target.DeletedNodesCount > 0 {
		return action.Outcome{}, conflict(ReasonPermanentDeletion, targetID, "", "cannot undo an action that permanently deleted data")
	}

	changes := make([]history.EntityChanges, 0, len(target.Touched))
	for _, link := range target.Touched {
		c, err := history.ParseDetails(link)
		if err != nil {
			return action.Outcome{}, err
		}
		changes = append(changes, c)
	}

	r := &reverter{tx: tx, targetID: targetID}
	steps := []func(context.Context, history.EntityChanges) error{
		r.restoreDeleted,
		r.recreateRels,
		r.revertChanges,
		r.deleteCreatedRels,
		r.deleteCreated,
		r.redeleteRestored,
	}
	for _, step := range steps {
		for _, c := range changes {
			if err := step(ctx, c); err != nil {
				return action.Outcome{}, err
			}
		}
	}

	if _, err := tx.CreateRel(ctx, history.RelReverted, call.ActionID, targetID, nil); err != nil {
		return action.Outcome{}, fmt.Errorf("link reverted action: %w", err)
	}

	slog.Debug("undo applied", "target", targetID, "kind", target.Kind, "touched", len(r.touched))
	return action.Outcome{Data: ir.IRObject{}, Touched: r.touched}, nil
}

func softDeleted(c history.EntityChanges) bool {
	return slices.Contains(c.AddedLabels, schema.LabelDeleted) && slices.Contains(c.RemovedLabels, schema.LabelEntity)
}

func restored(c history.EntityChanges) bool {
	return slices.Contains(c.AddedLabels, schema.LabelEntity) && slices.Contains(c.RemovedLabels, schema.LabelDeleted)
}

func (r *reverter) node(ctx context.Context, id string) (store.Node, error) {
	n, err := r.tx.Node(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Node{}, conflict(ReasonTargetMissing, r.targetID, id, "entity no longer exists")
	}
	return n, err
}

// step a
func (r *reverter) restoreDeleted(ctx context.Context, c history.EntityChanges) error {
	if !softDeleted(c) {
		return nil
	}
	n, err := r.node(ctx, c.EntityID)
	if err != nil {
		return err
	}
	if !n.HasLabel(schema.LabelDeleted) {
		return nil
	}
	if err := swapLabels(ctx, r.tx, c.EntityID, schema.LabelDeleted, schema.LabelEntity); err != nil {
		return err
	}
	r.touch(c.EntityID)
	return nil
}

// step b
func (r *reverter) recreateRels(ctx context.Context, c history.EntityChanges) error {
	for _, rel := range c.DeletedRels {
		// Both ends must be live; step a has already restored any end the
		// target itself soft-deleted.
		for _, id := range []string{c.EntityID, rel.EndID} {
			n, err := r.tx.Node(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return conflict(ReasonRelationshipRecreation, r.targetID, id,
					"cannot recreate %s relationship from %s to %s: entity no longer exists", rel.Type, c.EntityID, rel.EndID)
			}
			if err != nil {
				return err
			}
			if !n.HasLabel(schema.LabelEntity) {
				return conflict(ReasonRelationshipRecreation, r.targetID, id,
					"cannot recreate %s relationship from %s to %s: entity was deleted", rel.Type, c.EntityID, rel.EndID)
			}
		}
		if _, err := r.tx.CreateRel(ctx, rel.Type, c.EntityID, rel.EndID, rel.Props); err != nil {
			return fmt.Errorf("recreate relationship %s: %w", rel.ID, err)
		}
		r.touch(c.EntityID)
	}
	return nil
}

// step c
func (r *reverter) revertChanges(ctx context.Context, c history.EntityChanges) error {
	added := withoutLifecycle(c.AddedLabels)
	removed := withoutLifecycle(c.RemovedLabels)
	if len(c.Props) == 0 && len(added) == 0 && len(removed) == 0 {
		return nil
	}
	n, err := r.node(ctx, c.EntityID)
	if err != nil {
		return err
	}

	revert := ir.IRObject{}
	for _, p := range c.Props {
		current, ok := n.Props[p.Name]
		if !ok {
			current = ir.IRNull{}
		}
		if !ir.Equal(current, p.New) {
			return conflict(ReasonStaleProperty, r.targetID, c.EntityID,
				"property %q has changed since the action", p.Name)
		}
		revert[p.Name] = p.Old
	}
	if len(revert) > 0 {
		if err := r.tx.SetProperties(ctx, c.EntityID, revert); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		if err := r.tx.RemoveLabels(ctx, c.EntityID, added...); err != nil {
			return err
		}
	}
	if len(removed) > 0 {
		if err := r.tx.AddLabels(ctx, c.EntityID, removed...); err != nil {
			return err
		}
	}
	r.touch(c.EntityID)
	return nil
}

// step d
func (r *reverter) deleteCreatedRels(ctx context.Context, c history.EntityChanges) error {
	for _, rel := range c.NewRels {
		want, err := ir.RelationshipFingerprint(rel.Type, c.EntityID, rel.EndID, rel.Props)
		if err != nil {
			return err
		}
		candidates, err := r.tx.Rels(ctx, store.RelFilter{Type: rel.Type, StartID: c.EntityID, EndID: rel.EndID})
		if err != nil {
			return err
		}

		// Prefer the recorded relationship itself; any identical parallel
		// relationship is interchangeable with it.
		slices.SortStableFunc(candidates, func(a, b store.Relationship) int {
			switch {
			case a.ID == rel.ID:
				return -1
			case b.ID == rel.ID:
				return 1
			}
			return 0
		})
		match := ""
		for _, cand := range candidates {
			got, err := ir.RelationshipFingerprint(cand.Type, cand.StartID, cand.EndID, cand.Props)
			if err != nil {
				return err
			}
			if got == want {
				match = cand.ID
				break
			}
		}
		if match == "" {
			return conflict(ReasonRelationshipRecreation, r.targetID, c.EntityID,
				"%s relationship from %s to %s was removed after the action", rel.Type, c.EntityID, rel.EndID)
		}
		if err := r.tx.DeleteRel(ctx, match); err != nil {
			return err
		}
		r.touch(c.EntityID)
	}
	return nil
}

// step e
func (r *reverter) deleteCreated(ctx context.Context, c history.EntityChanges) error {
	if !c.Created {
		return nil
	}
	n, err := r.tx.Node(ctx, c.EntityID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !n.HasLabel(schema.LabelEntity)) {
		return conflict(ReasonAlreadyDeleted, r.targetID, c.EntityID, "entity created by the action was already deleted")
	}
	if err != nil {
		return err
	}

	if !ir.Equal(n.Props, c.CreatedProps) {
		return conflict(ReasonModifiedSinceCreation, r.targetID, c.EntityID, "entity was modified since creation")
	}
	if err := swapLabels(ctx, r.tx, c.EntityID, schema.LabelEntity, schema.LabelDeleted); err != nil {
		return err
	}
	r.touch(c.EntityID)
	return nil
}

// step f
func (r *reverter) redeleteRestored(ctx context.Context, c history.EntityChanges) error {
	if !restored(c) {
		return nil
	}
	n, err := r.node(ctx, c.EntityID)
	if err != nil {
		return err
	}
	if !n.HasLabel(schema.LabelEntity) {
		return nil
	}
	if err := swapLabels(ctx, r.tx, c.EntityID, schema.LabelEntity, schema.LabelDeleted); err != nil {
		return err
	}
	r.touch(c.EntityID)
	return nil
}

func swapLabels(ctx context.Context, tx *store.Tx, id, from, to string) error {
	if err := tx.RemoveLabels(ctx, id, from); err != nil {
		return err
	}
	return tx.AddLabels(ctx, id, to)
}

func withoutLifecycle(labels []string) []string {
	var out []string
	for _, l := range labels {
		if l != schema.LabelEntity && l != schema.LabelDeleted {
			out = append(out, l)
		}
	}
	return out
}
