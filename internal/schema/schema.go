// Package schema declares entity types and validates entity snapshots
// against them.
//
// Registration is two-phase. Register records a type whose parent and
// relationship targets are named by string, so types may refer to types that
// are registered later (or to each other). Finalize then resolves every name
// through a single lookup table, computes each type's label chain and compiles
// its CUE property shape. Validation is only possible after Finalize.
//
// Every live entity carries the root label Entity in addition to the labels of
// its type chain. Soft deletion swaps Entity for DeletedEntity.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/actiongraph/internal/store"
)

const (
	// LabelEntity marks a live entity and is the implicit root type.
	LabelEntity = "Entity"
	// LabelDeleted replaces LabelEntity on soft-deleted entities.
	LabelDeleted = "DeletedEntity"
)

// Cardinality constrains how many relationships of a slot an entity may have.
type Cardinality int

const (
	// Many allows any number of relationships.
	Many Cardinality = iota
	// ExactlyOne requires exactly one relationship.
	ExactlyOne
	// AtMostOne allows zero or one relationship.
	AtMostOne
	// ManyUnique allows any number, but never two to the same entity.
	ManyUnique
)

func (c Cardinality) String() string {
	switch c {
	case ExactlyOne:
		return "exactly-one"
	case AtMostOne:
		return "at-most-one"
	case ManyUnique:
		return "many-unique"
	default:
		return "many"
	}
}

// RelSlot declares an outgoing relationship of an entity type.
// Target is a type name resolved by Finalize; "Entity" accepts any entity.
type RelSlot struct {
	Name        string
	RelType     string
	Target      string
	Cardinality Cardinality
}

// EntityType declares one entity type.
type EntityType struct {
	// Name is also the label carried by entities of this type.
	Name string
	// Parent names the supertype. Empty means the root Entity type.
	Parent string
	// Properties is a CUE struct literal describing the property shape, e.g.
	//	{title: string & !="", year: int & >=1888}
	// Fields declared by ancestors are merged in; the result is closed.
	Properties string
	Rels       []RelSlot
	// Check runs after the shape and relationship checks. Return
	// NewPublicError for messages safe to show end users.
	Check func(n store.Node) error

	labels []string
	shape  cue.Value
	slots  []RelSlot
	depth  int
}

// Labels returns the labels of a live entity of this type, sorted.
func (t *EntityType) Labels() []string {
	return slices.Clone(t.labels)
}

// Slots returns the type's relationship slots, ancestors first.
func (t *EntityType) Slots() []RelSlot {
	return slices.Clone(t.slots)
}

// Schema is the registry of entity types. Construct one with New, Register
// all types, then Finalize.
type Schema struct {
	ctx       *cue.Context
	types     map[string]*EntityType
	order     []string
	finalized bool
}

// New returns a schema holding the built-in Actor and SlugId types.
func New() *Schema {
	s := &Schema{
		ctx:   cuecontext.New(),
		types: make(map[string]*EntityType),
	}
	for _, t := range builtinTypes() {
		// built-ins are well-formed
		_ = s.Register(t)
	}
	return s
}

// Register adds a type. Names it refers to need not be registered yet.
func (s *Schema) Register(t EntityType) error {
	if s.finalized {
		return fmt.Errorf("register %s: schema already finalized", t.Name)
	}
	if t.Name == "" || t.Name == LabelEntity || t.Name == LabelDeleted {
		return fmt.Errorf("register: invalid type name %q", t.Name)
	}
	if _, dup := s.types[t.Name]; dup {
		return fmt.Errorf("register %s: duplicate type", t.Name)
	}
	for _, slot := range t.Rels {
		if slot.Name == "" || slot.RelType == "" || slot.Target == "" {
			return fmt.Errorf("register %s: incomplete relationship slot %+v", t.Name, slot)
		}
	}
	tt := t
	tt.Rels = slices.Clone(t.Rels)
	s.types[t.Name] = &tt
	s.order = append(s.order, t.Name)
	return nil
}

// Finalize resolves parents and relationship targets, computes label chains
// and compiles property shapes. It may be called once.
func (s *Schema) Finalize() error {
	if s.finalized {
		return fmt.Errorf("finalize: already finalized")
	}

	for _, name := range s.order {
		t := s.types[name]
		chain, err := s.chain(t)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", name, err)
		}

		labels := []string{LabelEntity}
		var (
			sources []string
			slots   []RelSlot
		)
		for i := len(chain) - 1; i >= 0; i-- {
			anc := chain[i]
			labels = append(labels, anc.Name)
			if src := strings.TrimSpace(anc.Properties); src != "" {
				sources = append(sources, src)
			}
			slots = append(slots, anc.Rels...)
		}
		slices.Sort(labels)

		for _, slot := range slots {
			if slot.Target == LabelEntity {
				continue
			}
			if _, ok := s.types[slot.Target]; !ok {
				return fmt.Errorf("finalize %s: slot %s targets unknown type %q", name, slot.Name, slot.Target)
			}
		}

		if len(sources) == 0 {
			sources = []string{"{}"}
		}
		shape := s.ctx.CompileString("close(" + strings.Join(sources, " & ") + ")")
		if err := shape.Err(); err != nil {
			return fmt.Errorf("finalize %s: properties: %w", name, formatCUEError(err))
		}

		t.labels = labels
		t.slots = slots
		t.shape = shape
		t.depth = len(chain)
	}

	s.finalized = true
	return nil
}

// chain returns t followed by its ancestors, nearest first.
func (s *Schema) chain(t *EntityType) ([]*EntityType, error) {
	chain := []*EntityType{t}
	seen := map[string]bool{t.Name: true}
	for cur := t; cur.Parent != "" && cur.Parent != LabelEntity; {
		parent, ok := s.types[cur.Parent]
		if !ok {
			return nil, fmt.Errorf("unknown parent type %q", cur.Parent)
		}
		if seen[parent.Name] {
			return nil, fmt.Errorf("parent cycle through %q", parent.Name)
		}
		seen[parent.Name] = true
		chain = append(chain, parent)
		cur = parent
	}
	return chain, nil
}

// Type returns a finalized type by name.
func (s *Schema) Type(name string) (*EntityType, bool) {
	t, ok := s.types[name]
	if !ok || !s.finalized {
		return nil, false
	}
	return t, true
}

// MustLabels returns the labels of a live entity of the named type.
// Panics if the type is unknown or the schema is not finalized.
func (s *Schema) MustLabels(name string) []string {
	t, ok := s.Type(name)
	if !ok {
		panic(fmt.Sprintf("schema: unknown type %q", name))
	}
	return t.Labels()
}

// TypeOf returns the most specific registered type among the node's labels.
// Nodes without a registered type label (Actions, migration markers) have
// no type.
func (s *Schema) TypeOf(n store.Node) (*EntityType, bool) {
	var best *EntityType
	for _, l := range n.Labels {
		t, ok := s.types[l]
		if !ok {
			continue
		}
		if best == nil || t.depth > best.depth {
			best = t
		}
	}
	return best, best != nil
}

func builtinTypes() []EntityType {
	return []EntityType{
		{
			Name:       "Actor",
			Properties: `{name: string & !=""}`,
		},
		{
			Name:       slugLabel,
			Properties: `{slugId: string & =~"^[a-z0-9]+(-[a-z0-9]+)*$"}`,
			Rels: []RelSlot{
				{Name: "entity", RelType: RelIdentifies, Target: LabelEntity, Cardinality: ExactlyOne},
			},
		},
	}
}
