package catalog

import (
	"context"
	"fmt"

	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// Franchise is the public view of a live franchise.
type Franchise struct {
	SlugID string `json:"slugId"`
	Name   string `json:"name"`
}

// FranchiseRef names the franchise a movie belongs to.
type FranchiseRef struct {
	SlugID string `json:"slugId"`
}

// Movie is the public view of a live movie. Franchise is nil when the movie
// has none.
type Movie struct {
	Title     string        `json:"title"`
	Year      int64         `json:"year"`
	Franchise *FranchiseRef `json:"franchise"`
}

func live(label string) query.Match {
	return query.Match{Label: label, Where: query.HasLabel{Label: schema.LabelEntity}}
}

// Franchises lists live franchises in creation order.
func Franchises(ctx context.Context, r store.Reader) ([]Franchise, error) {
	nodes, err := r.Find(ctx, live(LabelFranchise))
	if err != nil {
		return nil, fmt.Errorf("list franchises: %w", err)
	}
	out := make([]Franchise, 0, len(nodes))
	for _, n := range nodes {
		slug, err := schema.SlugOf(ctx, r, n.ID)
		if err != nil {
			return nil, err
		}
		name, _ := n.Props.String("name")
		out = append(out, Franchise{SlugID: slug, Name: name})
	}
	return out, nil
}

// Movies lists live movies in creation order.
func Movies(ctx context.Context, r store.Reader) ([]Movie, error) {
	nodes, err := r.Find(ctx, live(LabelMovie))
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	out := make([]Movie, 0, len(nodes))
	for _, n := range nodes {
		m := Movie{}
		m.Title, _ = n.Props.String("title")
		m.Year, _ = n.Props.Int("year")

		rels, err := r.Rels(ctx, store.RelFilter{Type: RelFranchise, StartID: n.ID})
		if err != nil {
			return nil, fmt.Errorf("list movies: %w", err)
		}
		if len(rels) > 0 {
			slug, err := schema.SlugOf(ctx, r, rels[0].EndID)
			if err != nil {
				return nil, err
			}
			m.Franchise = &FranchiseRef{SlugID: slug}
		}
		out = append(out, m)
	}
	return out, nil
}
