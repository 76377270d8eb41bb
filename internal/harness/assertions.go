package harness

import (
	"context"
	"fmt"

	"github.com/roach88/actiongraph/internal/catalog"
	"github.com/roach88/actiongraph/internal/history"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/store"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual)
}

func evaluate(ctx context.Context, st *store.Store, a Assertion, result *Result) error {
	return st.View(ctx, func(r store.Reader) error {
		switch a.Type {
		case AssertQuery:
			return assertQuery(ctx, r, a)
		case AssertActionCount:
			return assertActionCount(ctx, r, a)
		case AssertReverted:
			return assertReverted(ctx, r, a, result)
		default:
			return fmt.Errorf("unknown assertion type %q", a.Type)
		}
	})
}

// assertQuery compares a projection with the expected value exactly.
func assertQuery(ctx context.Context, r store.Reader, a Assertion) error {
	actual, err := project(ctx, r, a.Query)
	if err != nil {
		return err
	}
	want, err := ir.FromGo(normalize(a.Expect))
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	got, err := ir.FromGo(actual)
	if err != nil {
		return err
	}
	if ir.Equal(want, got) {
		return nil
	}
	wantJSON, _ := ir.CanonicalString(want)
	gotJSON, _ := ir.CanonicalString(got)
	return &AssertionError{Type: AssertQuery, Expected: wantJSON, Actual: gotJSON}
}

func assertActionCount(ctx context.Context, r store.Reader, a Assertion) error {
	actions, err := history.ListActions(ctx, r, 0)
	if err != nil {
		return err
	}
	if len(actions) != a.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d actions", a.Count),
			Actual:   fmt.Sprintf("%d actions", len(actions)),
		}
	}
	return nil
}

func assertReverted(ctx context.Context, r store.Reader, a Assertion, result *Result) error {
	target, ok := result.Actions[a.Action]
	if !ok {
		return fmt.Errorf("%q did not commit", a.Action)
	}
	by, ok := result.Actions[a.By]
	if !ok {
		return fmt.Errorf("%q did not commit", a.By)
	}
	act, err := history.ReadAction(ctx, r, target)
	if err != nil {
		return err
	}
	if act.RevertedBy != by {
		actual := "not reverted"
		if act.RevertedBy != "" {
			actual = fmt.Sprintf("reverted by %s", labelOf(result, act.RevertedBy))
		}
		return &AssertionError{
			Type:     AssertReverted,
			Expected: fmt.Sprintf("%s reverted by %s", a.Action, a.By),
			Actual:   actual,
		}
	}
	return nil
}

func labelOf(result *Result, actionID string) string {
	for label, id := range result.Actions {
		if id == actionID {
			return label
		}
	}
	return actionID
}

// project returns a catalog projection as plain Go values.
func project(ctx context.Context, r store.Reader, name string) ([]any, error) {
	switch name {
	case QueryFranchises:
		fs, err := catalog.Franchises(ctx, r)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(fs))
		for _, f := range fs {
			out = append(out, map[string]any{"slugId": f.SlugID, "name": f.Name})
		}
		return out, nil
	case QueryMovies:
		ms, err := catalog.Movies(ctx, r)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(ms))
		for _, m := range ms {
			var franchise any
			if m.Franchise != nil {
				franchise = map[string]any{"slugId": m.Franchise.SlugID}
			}
			out = append(out, map[string]any{"title": m.Title, "year": m.Year, "franchise": franchise})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown query %q", name)
	}
}

// normalize turns an absent expectation into an empty list and fills in a
// null franchise for movies that omit it.
func normalize(v any) any {
	if v == nil {
		return []any{}
	}
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if ok && m["title"] != nil {
			if _, set := m["franchise"]; !set {
				c := make(map[string]any, len(m)+1)
				for k, v := range m {
					c[k] = v
				}
				c["franchise"] = nil
				m = c
			}
			e = m
		}
		out[i] = e
	}
	return out
}
