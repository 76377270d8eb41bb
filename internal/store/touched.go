package store

import (
	"context"
	"fmt"

	"github.com/roach88/actiongraph/internal/ir"
)

// TouchedLink associates an Action with an entity it modified.
// Details is the change-detail map attached by the change-capture recorder.
type TouchedLink struct {
	ActionID string
	EntityID string
	Details  ir.IRObject
}

// Declare creates an empty touched-link from an Action to an entity.
// Declaring the same pair twice is a no-op.
func (t *Tx) Declare(ctx context.Context, actionID, entityID string) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO touched (action_id, entity_id, details) VALUES (?, ?, '{}')
		ON CONFLICT(action_id, entity_id) DO NOTHING
	`, actionID, entityID); err != nil {
		return fmt.Errorf("declare touched %s -> %s: %w", actionID, entityID, err)
	}
	return nil
}

// WriteDetails replaces the change-detail map of an existing touched-link.
// Returns ErrNotFound if the link was never declared.
func (t *Tx) WriteDetails(ctx context.Context, actionID, entityID string, details ir.IRObject) error {
	detailsJSON, err := ir.CanonicalString(details)
	if err != nil {
		return fmt.Errorf("write details %s -> %s: %w", actionID, entityID, err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE touched SET details = ? WHERE action_id = ? AND entity_id = ?
	`, detailsJSON, actionID, entityID)
	if err != nil {
		return fmt.Errorf("write details %s -> %s: %w", actionID, entityID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("touched %s -> %s: %w", actionID, entityID, ErrNotFound)
	}
	return nil
}

// Touched returns every touched-link of an Action in declaration order.
func (r reader) Touched(ctx context.Context, actionID string) ([]TouchedLink, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT entity_id, details FROM touched
		WHERE action_id = ?
		ORDER BY rowid ASC
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("query touched of %s: %w", actionID, err)
	}
	defer rows.Close()

	links := []TouchedLink{}
	for rows.Next() {
		var (
			entityID    string
			detailsJSON string
		)
		if err := rows.Scan(&entityID, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scan touched: %w", err)
		}
		details, err := ir.ParseObject(detailsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode details %s -> %s: %w", actionID, entityID, err)
		}
		links = append(links, TouchedLink{ActionID: actionID, EntityID: entityID, Details: details})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate touched: %w", err)
	}
	return links, nil
}

// TouchingActions returns ids of Actions holding a touched-link to entityID,
// oldest first.
func (r reader) TouchingActions(ctx context.Context, entityID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT action_id FROM touched
		WHERE entity_id = ?
		ORDER BY rowid ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query actions touching %s: %w", entityID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan touched: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate touched: %w", err)
	}
	return ids, nil
}
