// Package history is the typed read side of the Action log: it loads Action
// entities with their actor, reverted-by link and touched-links, and parses
// change-detail maps into structured changes.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/store"
)

// RelReverted links an undo Action to the Action it reverted.
const RelReverted = "REVERTED"

// ErrNotAction is returned when an id names a node that is not an Action.
var ErrNotAction = errors.New("not an action")

// Action is one recorded Action.
type Action struct {
	ID                string      `json:"id"`
	Kind              string      `json:"type"`
	Input             ir.IRObject `json:"data"`
	Result            ir.IRObject `json:"result"`
	Timestamp         string      `json:"timestamp"`
	TookMs            int64       `json:"tookMs"`
	DeletedNodesCount int64       `json:"deletedNodesCount"`
	ActorID           string      `json:"actor"`
	// RevertedBy is the id of the Action that undid this one, if any.
	RevertedBy string `json:"revertedBy,omitempty"`
	// Reverts is the id of the Action this one undid, if any.
	Reverts string              `json:"reverts,omitempty"`
	Touched []store.TouchedLink `json:"-"`
}

// Reversible reports whether the Action may still be undone.
func (a *Action) Reversible() bool {
	return a.RevertedBy == "" && a.DeletedNodesCount == 0
}

// AsInput returns the Action's kind and input.
func (a *Action) AsInput() action.Input {
	return action.Input{Kind: a.Kind, Data: a.Input}
}

// ReadAction loads one Action with its touched-links.
func ReadAction(ctx context.Context, r store.Reader, id string) (*Action, error) {
	n, err := r.Node(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read action: %w", err)
	}
	if !n.HasLabel(capture.LabelAction) {
		return nil, fmt.Errorf("read action %s: %w", id, ErrNotAction)
	}

	a := fromNode(n)

	performed, err := r.Rels(ctx, store.RelFilter{Type: action.RelPerformed, EndID: id})
	if err != nil {
		return nil, fmt.Errorf("read action %s: %w", id, err)
	}
	if len(performed) > 0 {
		a.ActorID = performed[0].StartID
	}

	revertedBy, err := r.Rels(ctx, store.RelFilter{Type: RelReverted, EndID: id})
	if err != nil {
		return nil, fmt.Errorf("read action %s: %w", id, err)
	}
	if len(revertedBy) > 0 {
		a.RevertedBy = revertedBy[0].StartID
	}

	reverts, err := r.Rels(ctx, store.RelFilter{Type: RelReverted, StartID: id})
	if err != nil {
		return nil, fmt.Errorf("read action %s: %w", id, err)
	}
	if len(reverts) > 0 {
		a.Reverts = reverts[0].EndID
	}

	a.Touched, err = r.Touched(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read action %s: %w", id, err)
	}
	return a, nil
}

// ListActions returns up to limit Actions, newest first. A limit <= 0
// returns all of them. Touched-links are loaded too.
func ListActions(ctx context.Context, r store.Reader, limit int) ([]*Action, error) {
	nodes, err := r.Find(ctx, query.Match{Label: capture.LabelAction})
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	slices.Reverse(nodes)
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}

	out := make([]*Action, 0, len(nodes))
	for _, n := range nodes {
		a, err := ReadAction(ctx, r, n.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func fromNode(n store.Node) *Action {
	a := &Action{ID: n.ID}
	a.Kind, _ = n.Props.String(action.PropType)
	a.Timestamp, _ = n.Props.String(action.PropTimestamp)
	a.TookMs, _ = n.Props.Int(action.PropTookMs)
	a.DeletedNodesCount, _ = n.Props.Int(capture.PropDeletedNodesCount)
	if data, ok := n.Props[action.PropData].(ir.IRObject); ok {
		a.Input = data
	} else {
		a.Input = ir.IRObject{}
	}
	if res, ok := n.Props[action.PropResult].(ir.IRObject); ok {
		a.Result = res
	} else {
		a.Result = ir.IRObject{}
	}
	return a
}
