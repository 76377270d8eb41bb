package catalog

import (
	"context"
	"fmt"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// Action kind names.
const (
	// KindCreateFranchise creates a Franchise under a new slug.
	KindCreateFranchise = "CreateFranchise"
	// KindDeleteFranchise soft-deletes a Franchise.
	KindDeleteFranchise = "DeleteFranchise"
	// KindCreateMovie creates a Movie, optionally linked to a Franchise.
	KindCreateMovie = "CreateMovie"
	// KindDeleteMovie soft-deletes a Movie.
	KindDeleteMovie = "DeleteMovie"
	// KindSetMovieFranchise replaces or clears a Movie's Franchise link.
	KindSetMovieFranchise = "SetMovieFranchise"
)

// Kinds returns the catalog's Action kinds. Entities are addressed by slug
// ("id" in inputs) or by entity id.
func Kinds(sch *schema.Schema) []action.Kind {
	c := &kinds{schema: sch}
	return []action.Kind{
		{
			Name:   KindCreateFranchise,
			Input:  `{id: string & !="", name: string & !=""}`,
			Apply:  c.createFranchise,
			Invert: invertCreate(KindDeleteFranchise),
		},
		{
			Name:  KindDeleteFranchise,
			Input: `{id: string & !=""}`,
			Apply: c.softDelete(LabelFranchise),
		},
		{
			Name: KindCreateMovie,
			Input: `{
				id:           string & !=""
				title:        string & !=""
				year:         int
				franchiseId?: string & !=""
			}`,
			Apply:  c.createMovie,
			Invert: invertCreate(KindDeleteMovie),
		},
		{
			Name:  KindDeleteMovie,
			Input: `{id: string & !=""}`,
			Apply: c.softDelete(LabelMovie),
		},
		{
			Name:  KindSetMovieFranchise,
			Input: `{id: string & !="", franchiseId: string & !="" | null}`,
			Apply: c.setMovieFranchise,
		},
	}
}

type kinds struct {
	schema *schema.Schema
}

func (c *kinds) createFranchise(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
	slug, _ := call.Input.String("id")
	name, _ := call.Input.String("name")

	id, err := tx.CreateNode(ctx, c.schema.MustLabels(LabelFranchise), ir.IRObject{
		"name": ir.IRString(name),
	})
	if err != nil {
		return action.Outcome{}, err
	}
	aliases, err := schema.SetSlug(ctx, tx, id, slug)
	if err != nil {
		return action.Outcome{}, err
	}
	return action.Outcome{
		Data:    ir.IRObject{"id": ir.IRString(id)},
		Touched: append([]string{id}, aliases...),
	}, nil
}

func (c *kinds) createMovie(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
	slug, _ := call.Input.String("id")
	title, _ := call.Input.String("title")
	year, _ := call.Input.Int("year")

	var franchise store.Node
	if ref, ok := call.Input.String("franchiseId"); ok {
		var err error
		if franchise, err = resolve(ctx, tx, LabelFranchise, ref); err != nil {
			return action.Outcome{}, err
		}
	}

	id, err := tx.CreateNode(ctx, c.schema.MustLabels(LabelMovie), ir.IRObject{
		"title": ir.IRString(title),
		"year":  ir.IRInt(year),
	})
	if err != nil {
		return action.Outcome{}, err
	}
	aliases, err := schema.SetSlug(ctx, tx, id, slug)
	if err != nil {
		return action.Outcome{}, err
	}
	if franchise.ID != "" {
		if _, err := tx.CreateRel(ctx, RelFranchise, id, franchise.ID, nil); err != nil {
			return action.Outcome{}, err
		}
	}
	return action.Outcome{
		Data:    ir.IRObject{"id": ir.IRString(id)},
		Touched: append([]string{id}, aliases...),
	}, nil
}

// setMovieFranchise replaces the movie's franchise link; a null franchiseId
// removes it.
func (c *kinds) setMovieFranchise(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
	ref, _ := call.Input.String("id")
	movie, err := resolve(ctx, tx, LabelMovie, ref)
	if err != nil {
		return action.Outcome{}, err
	}

	target := ""
	if fref, ok := call.Input.String("franchiseId"); ok {
		f, err := resolve(ctx, tx, LabelFranchise, fref)
		if err != nil {
			return action.Outcome{}, err
		}
		target = f.ID
	}

	existing, err := tx.Rels(ctx, store.RelFilter{Type: RelFranchise, StartID: movie.ID})
	if err != nil {
		return action.Outcome{}, err
	}
	for _, rel := range existing {
		if rel.EndID == target {
			target = ""
			continue
		}
		if err := tx.DeleteRel(ctx, rel.ID); err != nil {
			return action.Outcome{}, err
		}
	}
	if target != "" {
		if _, err := tx.CreateRel(ctx, RelFranchise, movie.ID, target, nil); err != nil {
			return action.Outcome{}, err
		}
	}
	return action.Outcome{Data: ir.IRObject{}, Touched: []string{movie.ID}}, nil
}

func (c *kinds) softDelete(label string) action.ApplyFunc {
	return func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
		ref, _ := call.Input.String("id")
		n, err := resolve(ctx, tx, label, ref)
		if err != nil {
			return action.Outcome{}, err
		}
		if err := tx.RemoveLabels(ctx, n.ID, schema.LabelEntity); err != nil {
			return action.Outcome{}, fmt.Errorf("delete %s: %w", label, err)
		}
		if err := tx.AddLabels(ctx, n.ID, schema.LabelDeleted); err != nil {
			return action.Outcome{}, fmt.Errorf("delete %s: %w", label, err)
		}
		return action.Outcome{Data: ir.IRObject{}, Touched: []string{n.ID}}, nil
	}
}

// invertCreate maps a create to the matching soft-delete of the new entity.
func invertCreate(deleteKind string) action.InvertFunc {
	return func(input, result ir.IRObject) (action.Input, bool) {
		id, ok := result.String("id")
		if !ok {
			return action.Input{}, false
		}
		return action.Input{Kind: deleteKind, Data: ir.IRObject{"id": ir.IRString(id)}}, true
	}
}
