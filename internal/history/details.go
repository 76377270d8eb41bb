package history

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/store"
)

// PropertyChange is one property an Action changed. IRNull stands for
// "absent".
type PropertyChange struct {
	Name string
	Old  ir.IRValue
	New  ir.IRValue
}

// RelChange is a relationship an Action created or deleted, starting at the
// entity whose touched-link recorded it.
type RelChange struct {
	ID    string
	Type  string
	EndID string
	Props ir.IRObject
}

// EntityChanges is the structured form of one touched-link's detail map.
// Slices are sorted (properties by name, relationships by id) so the result
// is deterministic.
type EntityChanges struct {
	EntityID      string
	Created       bool
	CreatedLabels []string
	CreatedProps  ir.IRObject
	AddedLabels   []string
	RemovedLabels []string
	Props         []PropertyChange
	NewRels       []RelChange
	DeletedRels   []RelChange
}

// Empty reports whether the entity was declared but not changed.
func (c EntityChanges) Empty() bool {
	return !c.Created && len(c.AddedLabels) == 0 && len(c.RemovedLabels) == 0 &&
		len(c.Props) == 0 && len(c.NewRels) == 0 && len(c.DeletedRels) == 0
}

// ParseDetails decodes a touched-link's change-detail map.
func ParseDetails(link store.TouchedLink) (EntityChanges, error) {
	c := EntityChanges{EntityID: link.EntityID, CreatedProps: ir.IRObject{}}

	props := map[string]*PropertyChange{}
	prop := func(name string) *PropertyChange {
		p, ok := props[name]
		if !ok {
			p = &PropertyChange{Name: name, Old: ir.IRNull{}, New: ir.IRNull{}}
			props[name] = p
		}
		return p
	}
	newRels := map[string]*RelChange{}
	deletedRels := map[string]*RelChange{}
	rel := func(m map[string]*RelChange, id string) *RelChange {
		r, ok := m[id]
		if !ok {
			r = &RelChange{ID: id, Props: ir.IRObject{}}
			m[id] = r
		}
		return r
	}

	for key, val := range link.Details {
		k := capture.ParseKey(key)
		switch k.Kind {
		case capture.KindCreated:
			c.Created = true
			arr, ok := val.(ir.IRArray)
			if !ok {
				return c, fmt.Errorf("parse details of %s: %q is not an array", link.EntityID, key)
			}
			for _, l := range arr {
				if s, ok := l.(ir.IRString); ok {
					c.CreatedLabels = append(c.CreatedLabels, string(s))
				}
			}
		case capture.KindCreatedProp:
			c.CreatedProps[k.Name] = val
		case capture.KindAddedLabel:
			c.AddedLabels = append(c.AddedLabels, k.Name)
		case capture.KindRemovedLabel:
			c.RemovedLabels = append(c.RemovedLabels, k.Name)
		case capture.KindNewProp:
			prop(k.Name).New = val
		case capture.KindOldProp:
			prop(k.Name).Old = val
		case capture.KindNewRel:
			r := rel(newRels, k.RelID)
			r.Type = k.RelType
			r.EndID = endID(val)
		case capture.KindNewRelProp:
			rel(newRels, k.RelID).Props[k.Name] = val
		case capture.KindDeletedRel:
			r := rel(deletedRels, k.RelID)
			r.Type = k.RelType
			r.EndID = endID(val)
		case capture.KindDeletedRelProp:
			rel(deletedRels, k.RelID).Props[k.Name] = val
		default:
			return c, fmt.Errorf("parse details of %s: unknown key %q", link.EntityID, key)
		}
	}

	slices.Sort(c.CreatedLabels)
	slices.Sort(c.AddedLabels)
	slices.Sort(c.RemovedLabels)
	for _, p := range props {
		c.Props = append(c.Props, *p)
	}
	slices.SortFunc(c.Props, func(a, b PropertyChange) int { return strings.Compare(a.Name, b.Name) })

	var err error
	if c.NewRels, err = collectRels(link.EntityID, newRels); err != nil {
		return c, err
	}
	if c.DeletedRels, err = collectRels(link.EntityID, deletedRels); err != nil {
		return c, err
	}
	return c, nil
}

func collectRels(entityID string, m map[string]*RelChange) ([]RelChange, error) {
	out := make([]RelChange, 0, len(m))
	for _, r := range m {
		if r.Type == "" {
			return nil, fmt.Errorf("parse details of %s: properties recorded for unknown relationship %s", entityID, r.ID)
		}
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b RelChange) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func endID(v ir.IRValue) string {
	s, _ := v.(ir.IRString)
	return string(s)
}
