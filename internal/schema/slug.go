package schema

import (
	"context"
	"fmt"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/store"
)

const (
	slugLabel = "SlugId"
	slugField = "slugId"

	// RelIdentifies links a slug alias to the entity it names.
	RelIdentifies = "IDENTIFIES"
)

// SetSlug makes slug an alias of entityID and returns the ids the calling
// Action must declare as touched (empty when the alias already exists).
//
// Aliases are never transferred: once a slug has identified an entity it
// keeps resolving to that entity, even after the entity receives a newer slug
// or is soft-deleted. Claiming such a slug for another entity is a public
// validation error.
func SetSlug(ctx context.Context, tx *store.Tx, entityID, slug string) ([]string, error) {
	aliasID, current, err := lookupSlug(ctx, tx, slug)
	if err != nil {
		return nil, err
	}
	if aliasID != "" {
		if current == entityID {
			return nil, nil
		}
		return nil, &ValidationError{
			Entity:  entityID,
			Type:    slugLabel,
			Message: fmt.Sprintf("slug %q is already in use", slug),
			Public:  true,
		}
	}

	aliasID, err = tx.CreateNode(ctx, []string{LabelEntity, slugLabel}, ir.IRObject{
		slugField: ir.IRString(slug),
	})
	if err != nil {
		return nil, fmt.Errorf("set slug %q: %w", slug, err)
	}
	if _, err := tx.CreateRel(ctx, RelIdentifies, aliasID, entityID, nil); err != nil {
		return nil, fmt.Errorf("set slug %q: %w", slug, err)
	}
	return []string{aliasID}, nil
}

// ResolveSlug returns the id of the entity slug identifies, whether or not
// that entity is still live. Returns store.ErrNotFound for unknown slugs.
func ResolveSlug(ctx context.Context, r store.Reader, slug string) (string, error) {
	aliasID, entityID, err := lookupSlug(ctx, r, slug)
	if err != nil {
		return "", err
	}
	if aliasID == "" || entityID == "" {
		return "", fmt.Errorf("slug %q: %w", slug, store.ErrNotFound)
	}
	return entityID, nil
}

// SlugOf returns the newest live slug of an entity, or "" if it has none.
func SlugOf(ctx context.Context, r store.Reader, entityID string) (string, error) {
	rels, err := r.Rels(ctx, store.RelFilter{Type: RelIdentifies, EndID: entityID})
	if err != nil {
		return "", fmt.Errorf("slug of %s: %w", entityID, err)
	}
	for i := len(rels) - 1; i >= 0; i-- {
		alias, err := r.Node(ctx, rels[i].StartID)
		if err != nil {
			return "", fmt.Errorf("slug of %s: %w", entityID, err)
		}
		if alias.HasLabel(LabelDeleted) {
			continue
		}
		slug, _ := alias.Props.String(slugField)
		return slug, nil
	}
	return "", nil
}

func lookupSlug(ctx context.Context, r store.Reader, slug string) (aliasID, entityID string, err error) {
	aliases, err := r.Find(ctx, query.Match{
		Label: slugLabel,
		Where: query.Equals{Field: slugField, Value: ir.IRString(slug)},
		Limit: 1,
	})
	if err != nil {
		return "", "", fmt.Errorf("lookup slug %q: %w", slug, err)
	}
	if len(aliases) == 0 {
		return "", "", nil
	}
	rels, err := r.Rels(ctx, store.RelFilter{Type: RelIdentifies, StartID: aliases[0].ID})
	if err != nil {
		return "", "", fmt.Errorf("lookup slug %q: %w", slug, err)
	}
	if len(rels) == 0 {
		return aliases[0].ID, "", nil
	}
	return aliases[0].ID, rels[0].EndID, nil
}
