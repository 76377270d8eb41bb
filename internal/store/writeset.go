package store

import (
	"slices"

	"github.com/roach88/actiongraph/internal/ir"
)

// PropChange is the net change of one property within a transaction.
// Old is the value before the transaction and New the value at commit;
// IRNull stands for "absent".
type PropChange struct {
	Old ir.IRValue
	New ir.IRValue
}

// WriteSet accumulates the net effect of a write transaction.
//
// Changes that cancel out inside the transaction (a label added then removed,
// a relationship created then deleted, a property set back to its original
// value) leave no trace. Nodes created and then permanently deleted in the
// same transaction are forgotten entirely.
type WriteSet struct {
	createdNodes []string
	created      map[string]bool

	deletedNodes []Node
	deleted      map[string]bool

	// nodeOrder lists pre-existing nodes in the order their labels or
	// properties were first changed.
	nodeOrder []string
	labels    map[string]map[string]bool // node -> label -> true=added, false=removed
	props     map[string]map[string]*PropChange

	createdRels []Relationship
	deletedRels []Relationship

	relEdits    []string
	relOriginal map[string]Relationship

	// writes counts every recorded mutation, including ones that cancel out.
	writes int
}

func newWriteSet() *WriteSet {
	return &WriteSet{
		created:     make(map[string]bool),
		deleted:     make(map[string]bool),
		labels:      make(map[string]map[string]bool),
		props:       make(map[string]map[string]*PropChange),
		relOriginal: make(map[string]Relationship),
	}
}

// CreatedNodes returns ids of nodes created in the transaction, in order.
func (ws *WriteSet) CreatedNodes() []string {
	return slices.Clone(ws.createdNodes)
}

// IsCreated reports whether id was created in the transaction.
func (ws *WriteSet) IsCreated(id string) bool {
	return ws.created[id]
}

// DeletedNodes returns snapshots, taken at delete time, of nodes permanently
// deleted in the transaction.
func (ws *WriteSet) DeletedNodes() []Node {
	return slices.Clone(ws.deletedNodes)
}

// IsDeleted reports whether id was permanently deleted in the transaction.
func (ws *WriteSet) IsDeleted(id string) bool {
	return ws.deleted[id]
}

// ChangedNodes returns pre-existing, surviving nodes whose labels or
// properties changed, in first-change order.
func (ws *WriteSet) ChangedNodes() []string {
	out := make([]string, 0, len(ws.nodeOrder))
	for _, id := range ws.nodeOrder {
		if ws.deleted[id] || ws.created[id] {
			continue
		}
		if len(ws.labels[id]) == 0 && len(ws.props[id]) == 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}

// LabelChanges returns the labels added to and removed from a node, sorted.
func (ws *WriteSet) LabelChanges(id string) (added, removed []string) {
	for label, isAdd := range ws.labels[id] {
		if isAdd {
			added = append(added, label)
		} else {
			removed = append(removed, label)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// PropChanges returns the net property changes of a node keyed by name.
func (ws *WriteSet) PropChanges(id string) map[string]PropChange {
	out := make(map[string]PropChange, len(ws.props[id]))
	for name, c := range ws.props[id] {
		out[name] = *c
	}
	return out
}

// CreatedRels returns relationships created in the transaction with their
// properties at commit time.
func (ws *WriteSet) CreatedRels() []Relationship {
	return slices.Clone(ws.createdRels)
}

// DeletedRels returns relationships deleted in the transaction with the
// properties they had before the transaction touched them.
func (ws *WriteSet) DeletedRels() []Relationship {
	return slices.Clone(ws.deletedRels)
}

// RelPropertyEdits returns ids of pre-existing relationships whose
// properties were edited in place and which still exist.
func (ws *WriteSet) RelPropertyEdits() []string {
	out := make([]string, 0, len(ws.relEdits))
	for _, id := range ws.relEdits {
		if slices.ContainsFunc(ws.deletedRels, func(r Relationship) bool { return r.ID == id }) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Empty reports whether the transaction changed nothing.
func (ws *WriteSet) Empty() bool {
	return len(ws.createdNodes) == 0 && len(ws.deletedNodes) == 0 &&
		len(ws.ChangedNodes()) == 0 && len(ws.createdRels) == 0 &&
		len(ws.deletedRels) == 0 && len(ws.relEdits) == 0
}

func (ws *WriteSet) touchNode(id string) {
	if !slices.Contains(ws.nodeOrder, id) {
		ws.nodeOrder = append(ws.nodeOrder, id)
	}
}

func (ws *WriteSet) recordCreateNode(id string) {
	ws.writes++
	ws.createdNodes = append(ws.createdNodes, id)
	ws.created[id] = true
}

func (ws *WriteSet) recordLabel(id, label string, added bool) {
	ws.writes++
	if ws.created[id] {
		return
	}
	ws.touchNode(id)
	m := ws.labels[id]
	if m == nil {
		m = make(map[string]bool)
		ws.labels[id] = m
	}
	if prev, ok := m[label]; ok && prev != added {
		delete(m, label)
		return
	}
	m[label] = added
}

func (ws *WriteSet) recordProp(id, name string, oldVal, newVal ir.IRValue) {
	ws.writes++
	if ws.created[id] {
		return
	}
	ws.touchNode(id)
	m := ws.props[id]
	if m == nil {
		m = make(map[string]*PropChange)
		ws.props[id] = m
	}
	c, ok := m[name]
	if !ok {
		m[name] = &PropChange{Old: oldVal, New: newVal}
		return
	}
	c.New = newVal
	if ir.Equal(c.Old, c.New) {
		delete(m, name)
	}
}

func (ws *WriteSet) recordDeleteNode(n Node) {
	ws.writes++
	if ws.created[n.ID] {
		delete(ws.created, n.ID)
		ws.createdNodes = slices.DeleteFunc(ws.createdNodes, func(id string) bool { return id == n.ID })
		return
	}
	delete(ws.labels, n.ID)
	delete(ws.props, n.ID)
	ws.deletedNodes = append(ws.deletedNodes, n)
	ws.deleted[n.ID] = true
}

func (ws *WriteSet) recordCreateRel(r Relationship) {
	ws.writes++
	ws.createdRels = append(ws.createdRels, r)
}

func (ws *WriteSet) recordDeleteRel(r Relationship) {
	ws.writes++
	before := len(ws.createdRels)
	ws.createdRels = slices.DeleteFunc(ws.createdRels, func(c Relationship) bool { return c.ID == r.ID })
	if len(ws.createdRels) != before {
		return
	}
	if orig, ok := ws.relOriginal[r.ID]; ok {
		r = orig
	}
	ws.deletedRels = append(ws.deletedRels, r)
}

func (ws *WriteSet) recordRelEdit(before Relationship, newProps ir.IRObject) {
	ws.writes++
	for i := range ws.createdRels {
		if ws.createdRels[i].ID == before.ID {
			ws.createdRels[i].Props = newProps
			return
		}
	}
	if _, ok := ws.relOriginal[before.ID]; !ok {
		ws.relOriginal[before.ID] = before
		ws.relEdits = append(ws.relEdits, before.ID)
	}
}
