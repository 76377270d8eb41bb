package query

import "github.com/roach88/actiongraph/internal/ir"

// Predicate represents a filter condition over a single node.
//
// This is a sealed interface - only types in this package implement it, which
// keeps the compiler's type switch exhaustive.
type Predicate interface {
	predicateNode()
}

// Match selects every node carrying Label (all nodes if Label is empty) that
// satisfies Where (no filter if nil).
//
// Example:
//
//	Match{
//	  Label: "Franchise",
//	  Where: And{Predicates: []Predicate{
//	    Equals{Field: "name", Value: ir.IRString("Marvel Cinematic Universe")},
//	    LacksLabel{Label: "DeletedEntity"},
//	  }},
//	}
type Match struct {
	Label string
	Where Predicate
	Limit int // 0 means unlimited
}

// Equals matches nodes whose property Field equals Value.
// A missing property never equals anything; use Missing for that.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// Missing matches nodes that do not have property Field.
type Missing struct {
	Field string
}

func (Missing) predicateNode() {}

// HasLabel matches nodes carrying Label.
type HasLabel struct {
	Label string
}

func (HasLabel) predicateNode() {}

// LacksLabel matches nodes not carrying Label.
type LacksLabel struct {
	Label string
}

func (LacksLabel) predicateNode() {}

// And matches when all predicates match. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
