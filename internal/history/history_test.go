package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
	"github.com/roach88/actiongraph/internal/testutil"
)

func TestParseDetails(t *testing.T) {
	link := store.TouchedLink{
		ActionID: "act",
		EntityID: "ent",
		Details: ir.IRObject{
			capture.KeyCreated:                      ir.Strings("Entity", "Movie"),
			capture.CreatedPropKey("title"):         ir.IRString("Alien"),
			capture.AddedLabelKey("Featured"):       ir.IRBool(true),
			capture.RemovedLabelKey("Draft"):        ir.IRBool(true),
			capture.NewPropKey("year"):              ir.IRInt(1979),
			capture.OldPropKey("year"):              ir.IRNull{},
			capture.NewPropKey("rating"):            ir.IRNull{},
			capture.OldPropKey("rating"):            ir.IRInt(5),
			capture.NewRelKey("r2", "DIRECTED_BY"):  ir.IRString("ridley"),
			capture.NewRelPropKey("r2", "credited"): ir.IRBool(true),
			capture.NewRelKey("r1", "FRANCHISE_IS"): ir.IRString("alien"),
			capture.DeletedRelKey("r0", "SEQUEL"):   ir.IRString("aliens"),
		},
	}

	c, err := ParseDetails(link)
	require.NoError(t, err)

	assert.Equal(t, "ent", c.EntityID)
	assert.True(t, c.Created)
	assert.Equal(t, []string{"Entity", "Movie"}, c.CreatedLabels)
	assert.Equal(t, ir.IRObject{"title": ir.IRString("Alien")}, c.CreatedProps)
	assert.Equal(t, []string{"Featured"}, c.AddedLabels)
	assert.Equal(t, []string{"Draft"}, c.RemovedLabels)
	assert.Equal(t, []PropertyChange{
		{Name: "rating", Old: ir.IRInt(5), New: ir.IRNull{}},
		{Name: "year", Old: ir.IRNull{}, New: ir.IRInt(1979)},
	}, c.Props)
	assert.Equal(t, []RelChange{
		{ID: "r1", Type: "FRANCHISE_IS", EndID: "alien", Props: ir.IRObject{}},
		{ID: "r2", Type: "DIRECTED_BY", EndID: "ridley", Props: ir.IRObject{"credited": ir.IRBool(true)}},
	}, c.NewRels)
	assert.Equal(t, []RelChange{
		{ID: "r0", Type: "SEQUEL", EndID: "aliens", Props: ir.IRObject{}},
	}, c.DeletedRels)
	assert.False(t, c.Empty())
}

func TestParseDetails_Errors(t *testing.T) {
	tests := []struct {
		name    string
		details ir.IRObject
		wantErr string
	}{
		{"unknown key", ir.IRObject{"mystery": ir.IRBool(true)}, "unknown key"},
		{"created not array", ir.IRObject{capture.KeyCreated: ir.IRBool(true)}, "not an array"},
		{"orphan rel prop", ir.IRObject{capture.NewRelPropKey("r9", "x"): ir.IRInt(1)}, "unknown relationship r9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDetails(store.TouchedLink{EntityID: "e", Details: tt.details})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDetails_EmptyDeclaration(t *testing.T) {
	c, err := ParseDetails(store.TouchedLink{EntityID: "e", Details: ir.IRObject{}})
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func tags(sch *schema.Schema, reg *action.Registry) error {
	if err := sch.Register(schema.EntityType{Name: "Tag", Properties: `{name: string}`}); err != nil {
		return err
	}
	return reg.Register(action.Kind{
		Name:  "CreateTag",
		Input: `{name: string}`,
		Apply: func(ctx context.Context, tx *store.Tx, call action.Call) (action.Outcome, error) {
			id, err := tx.CreateNode(ctx, sch.MustLabels("Tag"), ir.IRObject{"name": call.Input["name"]})
			if err != nil {
				return action.Outcome{}, err
			}
			return action.Outcome{Data: ir.IRObject{"id": ir.IRString(id)}, Touched: []string{id}}, nil
		},
	})
}

func TestReadAndListActions(t *testing.T) {
	ctx := context.Background()
	rt := testutil.NewRuntime(t, tags)

	first := rt.Run(t, "CreateTag", map[string]any{"name": "a"})
	second := rt.Run(t, "CreateTag", map[string]any{"name": "b"})
	third := rt.Run(t, "CreateTag", map[string]any{"name": "c"})

	rt.View(t, func(r store.Reader) {
		a, err := ReadAction(ctx, r, second.ActionID)
		require.NoError(t, err)
		assert.Equal(t, second.ActionID, a.ID)
		assert.Equal(t, "CreateTag", a.Kind)
		assert.Equal(t, ir.IRObject{"name": ir.IRString("b")}, a.Input)
		assert.Equal(t, second.Data, a.Result)
		assert.Equal(t, int64(1), a.TookMs)
		assert.NotEmpty(t, a.ActorID)
		assert.NotEmpty(t, a.Timestamp)
		assert.True(t, a.Reversible())
		require.Len(t, a.Touched, 1)
		assert.Equal(t, second.Touched[0], a.Touched[0].EntityID)

		in := a.AsInput()
		assert.Equal(t, "CreateTag", in.Kind)

		all, err := ListActions(ctx, r, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, third.ActionID, all[0].ID)
		assert.Equal(t, first.ActionID, all[2].ID)

		latest, err := ListActions(ctx, r, 2)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, third.ActionID, latest[0].ID)
		assert.Equal(t, second.ActionID, latest[1].ID)

		_, err = ReadAction(ctx, r, second.Touched[0])
		assert.ErrorIs(t, err, ErrNotAction)
		_, err = ReadAction(ctx, r, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
