package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/store"
)

// ValidationError reports that an entity's state violates its type.
// Public errors carry messages that are safe to show end users.
type ValidationError struct {
	Entity  string
	Type    string
	Message string
	Public  bool
}

func (e *ValidationError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for %s %s: %s", e.Type, e.Entity, e.Message)
}

// NewPublicError returns a ValidationError whose message is safe to display.
// Entity and Type are filled in by Validate.
func NewPublicError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Public: true}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PublicMessage returns the display-safe message of a public ValidationError.
func PublicMessage(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Public {
		return ve.Message, true
	}
	return "", false
}

// Validate checks the current state of one entity against its type.
//
// Entities that no longer exist, that are soft-deleted, or that carry no
// registered type are not checked.
func (s *Schema) Validate(ctx context.Context, r store.Reader, id string) error {
	if !s.finalized {
		return fmt.Errorf("validate %s: schema not finalized", id)
	}

	n, err := r.Node(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("validate %s: %w", id, err)
	}
	if n.HasLabel(LabelDeleted) {
		return nil
	}
	t, ok := s.TypeOf(n)
	if !ok {
		return nil
	}

	fail := func(msg string) error {
		return &ValidationError{Entity: id, Type: t.Name, Message: msg}
	}

	if !n.HasLabel(LabelEntity) {
		return fail("missing label " + LabelEntity)
	}
	for _, l := range t.labels {
		if !n.HasLabel(l) {
			return fail("missing label " + l)
		}
	}

	if err := s.checkShape(t, n.Props); err != nil {
		return fail(err.Error())
	}

	for _, slot := range t.slots {
		if err := s.checkSlot(ctx, r, n, slot); err != nil {
			return fail(err.Error())
		}
	}

	if t.Check != nil {
		if err := t.Check(n); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				out := *ve
				out.Entity, out.Type = id, t.Name
				return &out
			}
			return fail(err.Error())
		}
	}
	return nil
}

func (s *Schema) checkShape(t *EntityType, props ir.IRObject) error {
	v := s.ctx.Encode(ir.ToGo(props))
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := t.shape.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

func (s *Schema) checkSlot(ctx context.Context, r store.Reader, n store.Node, slot RelSlot) error {
	rels, err := r.Rels(ctx, store.RelFilter{Type: slot.RelType, StartID: n.ID})
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(rels))
	for _, rel := range rels {
		if slot.Target != LabelEntity {
			end, err := r.Node(ctx, rel.EndID)
			if err != nil {
				return err
			}
			if !end.HasLabel(slot.Target) {
				return fmt.Errorf("%s: %s is not a %s", slot.Name, rel.EndID, slot.Target)
			}
		}
		if slot.Cardinality == ManyUnique && seen[rel.EndID] {
			return fmt.Errorf("%s: duplicate relationship to %s", slot.Name, rel.EndID)
		}
		seen[rel.EndID] = true
	}

	switch slot.Cardinality {
	case ExactlyOne:
		if len(rels) != 1 {
			return fmt.Errorf("%s: expected exactly one %s relationship, found %d", slot.Name, slot.RelType, len(rels))
		}
	case AtMostOne:
		if len(rels) > 1 {
			return fmt.Errorf("%s: expected at most one %s relationship, found %d", slot.Name, slot.RelType, len(rels))
		}
	}
	return nil
}

// formatCUEError reduces a CUE error list to its first message.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if path := strings.Join(first.Path(), "."); path != "" {
		msg = path + ": " + msg
	}
	return errors.New(msg)
}
