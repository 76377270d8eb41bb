package store

import (
	"slices"

	"github.com/roach88/actiongraph/internal/ir"
)

// Node is a snapshot of one entity.
type Node struct {
	ID     string
	Labels []string // sorted
	Props  ir.IRObject
}

// HasLabel reports whether the node carries label.
func (n Node) HasLabel(label string) bool {
	_, found := slices.BinarySearch(n.Labels, label)
	return found
}

// Relationship is a snapshot of one typed, directed edge.
type Relationship struct {
	ID      string
	Type    string
	StartID string
	EndID   string
	Props   ir.IRObject
}

// RelFilter narrows a relationship lookup. Empty fields match anything.
type RelFilter struct {
	Type    string
	StartID string
	EndID   string
}
