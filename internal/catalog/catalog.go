// Package catalog is a small film catalog built on Actions: franchises and
// the movies that belong to them. It registers its entity types, its Action
// kinds and a teardown migration, and provides read projections.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/migrate"
	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

const (
	LabelFranchise = "Franchise"
	LabelMovie     = "Movie"

	// RelFranchise links a movie to its franchise.
	RelFranchise = "FRANCHISE_IS"

	// MigrationID is the id of the catalog's migration.
	MigrationID = "catalog"
)

// Types returns the catalog's entity types.
func Types() []schema.EntityType {
	return []schema.EntityType{
		{
			Name:       LabelFranchise,
			Properties: `{name: string & !=""}`,
		},
		{
			Name:       LabelMovie,
			Properties: `{title: string & !="", year: int & >=1878}`,
			Rels: []schema.RelSlot{
				{Name: "franchise", RelType: RelFranchise, Target: LabelFranchise, Cardinality: schema.AtMostOne},
			},
		},
	}
}

// Register adds the catalog's types to sch and its kinds to reg. The kinds
// look labels up in sch when they run, so sch must be finalized by then.
func Register(sch *schema.Schema, reg *action.Registry) error {
	for _, t := range Types() {
		if err := sch.Register(t); err != nil {
			return err
		}
	}
	for _, k := range Kinds(sch) {
		if err := reg.Register(k); err != nil {
			return err
		}
	}
	return nil
}

// Migration tears all catalog data down when reverted.
func Migration() migrate.Migration {
	return migrate.Migration{
		ID:        MigrationID,
		DependsOn: []string{migrate.SystemActor},
		Down:      teardown,
	}
}

func teardown(ctx context.Context, env *migrate.Env) error {
	for _, label := range []string{LabelMovie, LabelFranchise} {
		if _, err := env.Teardown(ctx, label); err != nil {
			return err
		}
	}
	// Aliases of deleted entities are left dangling; remove them too.
	return env.Update(ctx, func(tx *store.Tx) error {
		aliases, err := tx.Find(ctx, query.Match{Label: "SlugId"})
		if err != nil {
			return err
		}
		for _, a := range aliases {
			rels, err := tx.Rels(ctx, store.RelFilter{Type: schema.RelIdentifies, StartID: a.ID})
			if err != nil {
				return err
			}
			if len(rels) == 0 {
				if err := tx.DeleteNode(ctx, a.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// resolve finds the live entity of the given type named by ref, which is a
// slug or an entity id.
func resolve(ctx context.Context, r store.Reader, label, ref string) (store.Node, error) {
	id, err := schema.ResolveSlug(ctx, r, ref)
	if errors.Is(err, store.ErrNotFound) {
		id = ref
	} else if err != nil {
		return store.Node{}, err
	}

	n, err := r.Node(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Node{}, schema.NewPublicError("no such %s %q", label, ref)
	}
	if err != nil {
		return store.Node{}, fmt.Errorf("resolve %s %q: %w", label, ref, err)
	}
	if !n.HasLabel(label) || !n.HasLabel(schema.LabelEntity) {
		return store.Node{}, schema.NewPublicError("no such %s %q", label, ref)
	}
	return n, nil
}
