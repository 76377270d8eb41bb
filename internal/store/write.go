package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/actiongraph/internal/ir"
)

// Tx is a write transaction. Every mutation method applies the change to
// SQLite and records it in the transaction's WriteSet.
//
// Tx embeds the read side, so reads inside a write transaction observe the
// transaction's own uncommitted writes.
type Tx struct {
	reader
	tx      *sql.Tx
	ids     IDGenerator
	ws      *WriteSet
	capture CaptureState
	// recordedAt is the WriteSet's write count when MarkRecorded was
	// called, or -1.
	recordedAt int
	done       bool
}

// WriteSet returns the changes recorded so far.
func (t *Tx) WriteSet() *WriteSet {
	return t.ws
}

// MarkRecorded notes that the changes made so far belong to an Action whose
// change details have been written. Any later mutation voids the mark.
func (t *Tx) MarkRecorded() {
	t.recordedAt = t.ws.writes
}

func (t *Tx) recorded() bool {
	return t.recordedAt == t.ws.writes
}

// Commit makes the transaction durable. While change capture is active, a
// transaction that changed the graph commits only if MarkRecorded was the
// last thing to happen to its WriteSet; otherwise it is rolled back and
// ErrUnrecordedWrite is returned.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if t.capture == CaptureActive && !t.ws.Empty() && !t.recorded() {
		if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("commit: %w (rollback: %v)", ErrUnrecordedWrite, err)
		}
		return fmt.Errorf("commit: %w", ErrUnrecordedWrite)
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// CreateNode inserts a node with a fresh id and returns the id.
// Null property values are dropped.
func (t *Tx) CreateNode(ctx context.Context, labels []string, props ir.IRObject) (string, error) {
	id := t.ids.Generate()

	clean := make(ir.IRObject, len(props))
	for k, v := range props {
		if _, isNull := v.(ir.IRNull); isNull || v == nil {
			continue
		}
		clean[k] = v
	}
	propsJSON, err := ir.CanonicalString(clean)
	if err != nil {
		return "", fmt.Errorf("create node: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `INSERT INTO nodes (id, props) VALUES (?, ?)`, id, propsJSON); err != nil {
		return "", fmt.Errorf("create node: %w", err)
	}
	for _, l := range labels {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO node_labels (node_id, label) VALUES (?, ?)
		`, id, l); err != nil {
			return "", fmt.Errorf("create node: label %s: %w", l, err)
		}
	}

	t.ws.recordCreateNode(id)
	return id, nil
}

// SetProperties merges props into the node's properties. An IRNull value
// removes the property. Setting a property to its current value is not a
// change and is not recorded.
func (t *Tx) SetProperties(ctx context.Context, id string, props ir.IRObject) error {
	n, err := t.Node(ctx, id)
	if err != nil {
		return fmt.Errorf("set properties: %w", err)
	}

	next := n.Props.Clone()
	if next == nil {
		next = ir.IRObject{}
	}
	changed := false
	for _, name := range props.SortedKeys() {
		newVal := props[name]
		if newVal == nil {
			newVal = ir.IRNull{}
		}
		oldVal, ok := n.Props[name]
		if !ok {
			oldVal = ir.IRNull{}
		}
		if ir.Equal(oldVal, newVal) {
			continue
		}
		if _, isNull := newVal.(ir.IRNull); isNull {
			delete(next, name)
		} else {
			next[name] = newVal
		}
		t.ws.recordProp(id, name, oldVal, newVal)
		changed = true
	}
	if !changed {
		return nil
	}

	propsJSON, err := ir.CanonicalString(next)
	if err != nil {
		return fmt.Errorf("set properties: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE nodes SET props = ? WHERE id = ?`, propsJSON, id); err != nil {
		return fmt.Errorf("set properties: %w", err)
	}
	return nil
}

// AddLabels adds labels to an existing node. Labels it already has are ignored.
func (t *Tx) AddLabels(ctx context.Context, id string, labels ...string) error {
	if err := t.requireNode(ctx, id); err != nil {
		return fmt.Errorf("add labels: %w", err)
	}
	for _, l := range labels {
		res, err := t.tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO node_labels (node_id, label) VALUES (?, ?)
		`, id, l)
		if err != nil {
			return fmt.Errorf("add label %s: %w", l, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			t.ws.recordLabel(id, l, true)
		}
	}
	return nil
}

// RemoveLabels removes labels from a node. Labels it does not have are ignored.
func (t *Tx) RemoveLabels(ctx context.Context, id string, labels ...string) error {
	if err := t.requireNode(ctx, id); err != nil {
		return fmt.Errorf("remove labels: %w", err)
	}
	for _, l := range labels {
		res, err := t.tx.ExecContext(ctx, `
			DELETE FROM node_labels WHERE node_id = ? AND label = ?
		`, id, l)
		if err != nil {
			return fmt.Errorf("remove label %s: %w", l, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			t.ws.recordLabel(id, l, false)
		}
	}
	return nil
}

// DeleteNode permanently removes a node together with every relationship
// attached to it. Use a label swap for reversible (soft) deletion.
func (t *Tx) DeleteNode(ctx context.Context, id string) error {
	n, err := t.Node(ctx, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}

	out, err := t.Rels(ctx, RelFilter{StartID: id})
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	in, err := t.Rels(ctx, RelFilter{EndID: id})
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	for _, rel := range in {
		// self-loops are already in out
		if rel.StartID != id {
			out = append(out, rel)
		}
	}
	for _, rel := range out {
		if err := t.deleteRel(ctx, rel); err != nil {
			return fmt.Errorf("delete node: %w", err)
		}
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	t.ws.recordDeleteNode(n)
	return nil
}

// DeleteNodesByLabel permanently deletes up to limit nodes carrying label and
// returns how many were deleted. Callers loop with fresh transactions to keep
// each transaction bounded.
func (t *Tx) DeleteNodesByLabel(ctx context.Context, label string, limit int) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT node_id FROM node_labels WHERE label = ?
		ORDER BY node_id COLLATE BINARY ASC
		LIMIT ?
	`, label, limit)
	if err != nil {
		return 0, fmt.Errorf("delete by label %s: %w", label, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("delete by label %s: scan: %w", label, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("delete by label %s: %w", label, err)
	}

	for _, id := range ids {
		if err := t.DeleteNode(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// CreateRel inserts a relationship and returns its id.
func (t *Tx) CreateRel(ctx context.Context, relType, startID, endID string, props ir.IRObject) (string, error) {
	if err := t.requireNode(ctx, startID); err != nil {
		return "", fmt.Errorf("create relationship %s: start: %w", relType, err)
	}
	if err := t.requireNode(ctx, endID); err != nil {
		return "", fmt.Errorf("create relationship %s: end: %w", relType, err)
	}
	if props == nil {
		props = ir.IRObject{}
	}
	propsJSON, err := ir.CanonicalString(props)
	if err != nil {
		return "", fmt.Errorf("create relationship %s: %w", relType, err)
	}

	id := t.ids.Generate()
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO rels (id, type, start_id, end_id, props) VALUES (?, ?, ?, ?, ?)
	`, id, relType, startID, endID, propsJSON); err != nil {
		return "", fmt.Errorf("create relationship %s: %w", relType, err)
	}

	t.ws.recordCreateRel(Relationship{ID: id, Type: relType, StartID: startID, EndID: endID, Props: props.Clone()})
	return id, nil
}

// DeleteRel removes a relationship.
func (t *Tx) DeleteRel(ctx context.Context, id string) error {
	rel, err := t.Rel(ctx, id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return t.deleteRel(ctx, rel)
}

func (t *Tx) deleteRel(ctx context.Context, rel Relationship) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM rels WHERE id = ?`, rel.ID)
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", rel.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relationship %s: %w", rel.ID, ErrNotFound)
	}
	t.ws.recordDeleteRel(rel)
	return nil
}

// SetRelProperties edits a relationship's properties in place. The edit is
// applied, but the change-capture recorder rejects any transaction that
// edits a pre-existing relationship this way.
func (t *Tx) SetRelProperties(ctx context.Context, id string, props ir.IRObject) error {
	before, err := t.Rel(ctx, id)
	if err != nil {
		return fmt.Errorf("set relationship properties: %w", err)
	}

	next := before.Props.Clone()
	if next == nil {
		next = ir.IRObject{}
	}
	for k, v := range props {
		if _, isNull := v.(ir.IRNull); isNull || v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	propsJSON, err := ir.CanonicalString(next)
	if err != nil {
		return fmt.Errorf("set relationship properties: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE rels SET props = ? WHERE id = ?`, propsJSON, id); err != nil {
		return fmt.Errorf("set relationship properties: %w", err)
	}

	t.ws.recordRelEdit(before, next)
	return nil
}

// SetCaptureState records the change-capture installation state.
func (t *Tx) SetCaptureState(ctx context.Context, state CaptureState) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaCaptureState, string(state)); err != nil {
		return fmt.Errorf("set capture state: %w", err)
	}
	return nil
}

func (t *Tx) requireNode(ctx context.Context, id string) error {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("node %s: %w", id, err)
	}
	return nil
}
