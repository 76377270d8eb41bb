package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/query"
)

// queryer is the subset of *sql.Tx used by readers and writers.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Reader is the read side of a transaction. Both read transactions (View) and
// write transactions (*Tx) implement it, so read-then-write logic sees its own
// uncommitted writes.
type Reader interface {
	Node(ctx context.Context, id string) (Node, error)
	Find(ctx context.Context, m query.Match) ([]Node, error)
	Rels(ctx context.Context, f RelFilter) ([]Relationship, error)
	Rel(ctx context.Context, id string) (Relationship, error)
	Touched(ctx context.Context, actionID string) ([]TouchedLink, error)
	TouchingActions(ctx context.Context, entityID string) ([]string, error)
	CaptureState(ctx context.Context) (CaptureState, error)
}

type reader struct {
	q queryer
}

// Node returns the node with the given id, including soft-deleted nodes.
// Returns ErrNotFound if it does not exist.
func (r reader) Node(ctx context.Context, id string) (Node, error) {
	var propsJSON string
	err := r.q.QueryRowContext(ctx, `SELECT props FROM nodes WHERE id = ?`, id).Scan(&propsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("read node %s: %w", id, err)
	}

	props, err := ir.ParseObject(propsJSON)
	if err != nil {
		return Node{}, fmt.Errorf("decode node %s props: %w", id, err)
	}

	labels, err := r.labels(ctx, id)
	if err != nil {
		return Node{}, err
	}

	return Node{ID: id, Labels: labels, Props: props}, nil
}

func (r reader) labels(ctx context.Context, id string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT label FROM node_labels
		WHERE node_id = ?
		ORDER BY label COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query labels of %s: %w", id, err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}
	return labels, nil
}

// Find returns every node matching m in insertion order.
func (r reader) Find(ctx context.Context, m query.Match) ([]Node, error) {
	stmt, params, err := query.Compile(m)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("find: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("find: iterate: %w", err)
	}
	rows.Close()

	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		n, err := r.Node(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Rels returns relationships matching f in creation order.
func (r reader) Rels(ctx context.Context, f RelFilter) ([]Relationship, error) {
	var (
		conds  []string
		params []any
	)
	if f.Type != "" {
		conds = append(conds, "type = ?")
		params = append(params, f.Type)
	}
	if f.StartID != "" {
		conds = append(conds, "start_id = ?")
		params = append(params, f.StartID)
	}
	if f.EndID != "" {
		conds = append(conds, "end_id = ?")
		params = append(params, f.EndID)
	}

	stmt := "SELECT id, type, start_id, end_id, props FROM rels"
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY rowid ASC, id ASC COLLATE BINARY"

	rows, err := r.q.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	rels := []Relationship{}
	for rows.Next() {
		rel, err := scanRel(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

// Rel returns one relationship by id.
func (r reader) Rel(ctx context.Context, id string) (Relationship, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, type, start_id, end_id, props FROM rels WHERE id = ?
	`, id)
	rel, err := scanRel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Relationship{}, fmt.Errorf("relationship %s: %w", id, ErrNotFound)
	}
	return rel, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRel(row rowScanner) (Relationship, error) {
	var (
		rel       Relationship
		propsJSON string
	)
	if err := row.Scan(&rel.ID, &rel.Type, &rel.StartID, &rel.EndID, &propsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Relationship{}, err
		}
		return Relationship{}, fmt.Errorf("scan relationship: %w", err)
	}
	props, err := ir.ParseObject(propsJSON)
	if err != nil {
		return Relationship{}, fmt.Errorf("decode relationship %s props: %w", rel.ID, err)
	}
	rel.Props = props
	return rel, nil
}

// CaptureState returns the change-capture installation state.
func (r reader) CaptureState(ctx context.Context) (CaptureState, error) {
	var v string
	err := r.q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaCaptureState).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return CaptureAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("read capture state: %w", err)
	}
	return CaptureState(v), nil
}
