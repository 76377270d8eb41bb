// Package action defines Action kinds and runs them.
//
// A Kind is a tagged variant: a name, a CUE input schema, an Apply procedure
// and an optional Invert. Kinds live in an explicit Registry constructed at
// startup and passed to the Runner; there is no global registration.
//
// The Runner executes one Action per write transaction:
//
//	Pending -> Applying -> Verifying -> Committed | Aborted
//
// Every entity the transaction changes must be declared by Apply (returned in
// Outcome.Touched). The change-capture recorder attaches the change details
// to the Action's touched-links before commit, so history and undo can read
// exactly what each Action did.
package action

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// Input names an Action kind and carries its input.
type Input struct {
	Kind string
	Data ir.IRObject
}

// Outcome is what Apply returns: result data and the ids of every entity it
// created, mutated, soft-deleted, or created/removed a relationship from.
// The far end of a created relationship may be omitted.
type Outcome struct {
	Data    ir.IRObject
	Touched []string
}

// Call is what Apply receives: the id of the Action being recorded, the
// performing actor's entity id and the validated input.
type Call struct {
	ActionID string
	Actor    string
	Input    ir.IRObject
}

// ApplyFunc runs inside an open write transaction. Errors propagate to the
// caller unmodified and abort the transaction.
type ApplyFunc func(ctx context.Context, tx *store.Tx, call Call) (Outcome, error)

// InvertFunc returns the input of a counteracting Action of a different kind,
// or false when there is no custom inverse. It must be pure.
type InvertFunc func(input, result ir.IRObject) (Input, bool)

// Kind declares one kind of Action.
type Kind struct {
	Name string
	// Input is a CUE struct literal the input must satisfy, e.g.
	//	{id: string, name: string & !=""}
	// The schema is closed: undeclared fields are rejected.
	Input  string
	Apply  ApplyFunc
	Invert InvertFunc

	input cue.Value
}

// Registry is the catalog of Action kinds.
type Registry struct {
	ctx   *cue.Context
	kinds map[string]*Kind
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctx:   cuecontext.New(),
		kinds: make(map[string]*Kind),
	}
}

// Register adds a kind. Names are unique.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return fmt.Errorf("register kind: empty name")
	}
	if k.Apply == nil {
		return fmt.Errorf("register kind %s: Apply is required", k.Name)
	}
	if _, dup := r.kinds[k.Name]; dup {
		return fmt.Errorf("register kind %s: duplicate kind", k.Name)
	}

	src := strings.TrimSpace(k.Input)
	if src == "" {
		src = "{}"
	}
	v := r.ctx.CompileString("close(" + src + ")")
	if err := v.Err(); err != nil {
		return fmt.Errorf("register kind %s: input schema: %w", k.Name, err)
	}

	kk := k
	kk.input = v
	r.kinds[k.Name] = &kk
	return nil
}

// MustRegister is Register that panics on error, for static kind tables.
func (r *Registry) MustRegister(kinds ...Kind) {
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Kinds returns registered kind names, sorted.
func (r *Registry) Kinds() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CheckInput validates input against the kind's input schema.
// Shape violations are public validation errors.
func (r *Registry) CheckInput(in Input) error {
	k, ok := r.kinds[in.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	data := in.Data
	if data == nil {
		data = ir.IRObject{}
	}
	v := r.ctx.Encode(ir.ToGo(data))
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	if err := k.input.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return &schema.ValidationError{
			Type:    in.Kind,
			Message: "invalid input: " + firstCUEMessage(err),
			Public:  true,
		}
	}
	return nil
}

// Invert returns the custom inverse input for a past Action, if its kind
// defines one.
func (r *Registry) Invert(in Input, result ir.IRObject) (Input, bool, error) {
	k, ok := r.kinds[in.Kind]
	if !ok {
		return Input{}, false, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	if k.Invert == nil {
		return Input{}, false, nil
	}
	inv, ok := k.Invert(in.Data, result)
	if !ok {
		return Input{}, false, nil
	}
	if inv.Kind == in.Kind {
		return Input{}, false, fmt.Errorf("invert %s: inverse must be a different kind", in.Kind)
	}
	return inv, true, nil
}

func firstCUEMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	format, args := errs[0].Msg()
	msg := fmt.Sprintf(format, args...)
	if path := strings.Join(errs[0].Path(), "."); path != "" {
		msg = path + ": " + msg
	}
	return msg
}
