package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/migrate"
	"github.com/roach88/actiongraph/internal/query"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
	"github.com/roach88/actiongraph/internal/testutil"
	"github.com/roach88/actiongraph/internal/undo"
)

func newCatalog(t *testing.T) *testutil.Runtime {
	t.Helper()
	return testutil.NewRuntime(t, Register, func(_ *schema.Schema, reg *action.Registry) error {
		return undo.Register(reg)
	})
}

func franchises(t *testing.T, rt *testutil.Runtime) []Franchise {
	t.Helper()
	var out []Franchise
	rt.View(t, func(r store.Reader) {
		var err error
		out, err = Franchises(context.Background(), r)
		require.NoError(t, err)
	})
	return out
}

func movies(t *testing.T, rt *testutil.Runtime) []Movie {
	t.Helper()
	var out []Movie
	rt.View(t, func(r store.Reader) {
		var err error
		out, err = Movies(context.Background(), r)
		require.NoError(t, err)
	})
	return out
}

func node(t *testing.T, rt *testutil.Runtime, id string) store.Node {
	t.Helper()
	var n store.Node
	rt.View(t, func(r store.Reader) {
		var err error
		n, err = r.Node(context.Background(), id)
		require.NoError(t, err)
	})
	return n
}

func undoOf(actionID string) map[string]any {
	return map[string]any{undo.InputTarget: actionID}
}

var (
	mcu = map[string]any{"id": "mcu", "name": "Marvel Cinematic Universe"}

	guardians = map[string]any{
		"id":          "guardians-galaxy",
		"title":       "Guardians of the Galaxy",
		"year":        2014,
		"franchiseId": "mcu",
	}

	wantFranchises = []Franchise{{SlugID: "mcu", Name: "Marvel Cinematic Universe"}}
	wantMovies     = []Movie{{Title: "Guardians of the Galaxy", Year: 2014, Franchise: &FranchiseRef{SlugID: "mcu"}}}
)

func TestScenario_CreateUndoRedo(t *testing.T) {
	rt := newCatalog(t)

	a1 := rt.Run(t, KindCreateFranchise, mcu)
	a2 := rt.Run(t, KindCreateMovie, guardians)

	assert.Equal(t, wantFranchises, franchises(t, rt))
	assert.Equal(t, wantMovies, movies(t, rt))

	franchiseID, _ := a1.Data.String("id")
	movieID, _ := a2.Data.String("id")
	franchiseBefore := node(t, rt, franchiseID)
	movieBefore := node(t, rt, movieID)

	u2 := rt.Run(t, undo.KindName, undoOf(a2.ActionID))
	assert.Empty(t, movies(t, rt))
	assert.Equal(t, wantFranchises, franchises(t, rt))

	u1 := rt.Run(t, undo.KindName, undoOf(a1.ActionID))
	assert.Empty(t, franchises(t, rt))
	assert.Empty(t, movies(t, rt))

	_, err := rt.TryRun(undo.KindName, undoOf(a2.ActionID))
	require.Error(t, err)
	assert.True(t, undo.HasReason(err, undo.ReasonAlreadyUndone))
	assert.Contains(t, err.Error(), "already undone")

	// Redo: undo the undos, in reverse order.
	rt.Run(t, undo.KindName, undoOf(u1.ActionID))
	assert.Equal(t, wantFranchises, franchises(t, rt))
	assert.Empty(t, movies(t, rt))

	rt.Run(t, undo.KindName, undoOf(u2.ActionID))
	assert.Equal(t, wantFranchises, franchises(t, rt))
	assert.Equal(t, wantMovies, movies(t, rt))

	assert.Equal(t, franchiseBefore, node(t, rt, franchiseID))
	assert.Equal(t, movieBefore, node(t, rt, movieID))
}

func TestScenario_UndoAfterLinkRemovedConflicts(t *testing.T) {
	rt := newCatalog(t)

	rt.Run(t, KindCreateFranchise, mcu)
	a2 := rt.Run(t, KindCreateMovie, guardians)
	rt.Run(t, KindSetMovieFranchise, map[string]any{"id": "guardians-galaxy", "franchiseId": nil})

	_, err := rt.TryRun(undo.KindName, undoOf(a2.ActionID))
	require.Error(t, err)
	assert.ErrorIs(t, err, undo.ErrConflict)
	assert.True(t, undo.HasReason(err, undo.ReasonRelationshipRecreation), "got %v", err)

	// The refused undo left nothing behind.
	assert.Equal(t, []Movie{{Title: "Guardians of the Galaxy", Year: 2014}}, movies(t, rt))
}

func TestCreateMovie_UnknownFranchiseIsPublic(t *testing.T) {
	rt := newCatalog(t)

	_, err := rt.TryRun(KindCreateMovie, map[string]any{
		"id": "dune", "title": "Dune", "year": 2021, "franchiseId": "nope",
	})
	require.Error(t, err)
	msg, ok := schema.PublicMessage(err)
	require.True(t, ok, "expected public error, got %v", err)
	assert.Equal(t, `no such Franchise "nope"`, msg)
	assert.Empty(t, movies(t, rt))
}

func TestCreateFranchise_InvalidInput(t *testing.T) {
	rt := newCatalog(t)

	tests := []struct {
		name string
		data map[string]any
	}{
		{"missing name", map[string]any{"id": "x"}},
		{"empty name", map[string]any{"id": "x", "name": ""}},
		{"extra field", map[string]any{"id": "x", "name": "X", "color": "red"}},
		{"wrong type", map[string]any{"id": 3, "name": "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.TryRun(KindCreateFranchise, tt.data)
			require.Error(t, err)
			assert.True(t, action.IsValidationError(err))
		})
	}
	assert.Empty(t, franchises(t, rt))
}

func TestCreateFranchise_BadSlugFailsValidation(t *testing.T) {
	rt := newCatalog(t)

	_, err := rt.TryRun(KindCreateFranchise, map[string]any{"id": "Not A Slug", "name": "X"})
	require.Error(t, err)
	assert.True(t, action.IsValidationError(err))
	assert.Empty(t, franchises(t, rt))
}

func TestCreateFranchise_SlugNeverTransferred(t *testing.T) {
	rt := newCatalog(t)

	a1 := rt.Run(t, KindCreateFranchise, mcu)
	rt.Run(t, undo.KindName, undoOf(a1.ActionID))

	_, err := rt.TryRun(KindCreateFranchise, map[string]any{"id": "mcu", "name": "Other"})
	require.Error(t, err)
	msg, ok := schema.PublicMessage(err)
	require.True(t, ok)
	assert.Contains(t, msg, "already in use")
}

func TestDeleteMovie_SoftDeletesAndUndoRestores(t *testing.T) {
	rt := newCatalog(t)

	rt.Run(t, KindCreateFranchise, mcu)
	rt.Run(t, KindCreateMovie, guardians)

	del := rt.Run(t, KindDeleteMovie, map[string]any{"id": "guardians-galaxy"})
	assert.Empty(t, movies(t, rt))

	rt.Run(t, undo.KindName, undoOf(del.ActionID))
	assert.Equal(t, wantMovies, movies(t, rt))

	_, err := rt.TryRun(KindDeleteMovie, map[string]any{"id": "mcu"})
	require.Error(t, err)
	_, ok := schema.PublicMessage(err)
	assert.True(t, ok)
}

func TestSetMovieFranchise(t *testing.T) {
	rt := newCatalog(t)

	rt.Run(t, KindCreateFranchise, mcu)
	rt.Run(t, KindCreateFranchise, map[string]any{"id": "star-wars", "name": "Star Wars"})
	rt.Run(t, KindCreateMovie, map[string]any{"id": "rogue-one", "title": "Rogue One", "year": 2016})

	assert.Nil(t, movies(t, rt)[0].Franchise)

	set := rt.Run(t, KindSetMovieFranchise, map[string]any{"id": "rogue-one", "franchiseId": "mcu"})
	rt.Run(t, KindSetMovieFranchise, map[string]any{"id": "rogue-one", "franchiseId": "star-wars"})
	assert.Equal(t, &FranchiseRef{SlugID: "star-wars"}, movies(t, rt)[0].Franchise)

	// The first relink's relationship is gone, so it cannot be undone.
	_, err := rt.TryRun(undo.KindName, undoOf(set.ActionID))
	assert.True(t, undo.HasReason(err, undo.ReasonRelationshipRecreation), "got %v", err)
}

func TestKinds_Invert(t *testing.T) {
	rt := newCatalog(t)

	a := rt.Run(t, KindCreateFranchise, mcu)
	in, err := testutil.Input(KindCreateFranchise, mcu)
	require.NoError(t, err)

	inv, ok, err := rt.Registry.Invert(in, a.Data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindDeleteFranchise, inv.Kind)

	rt.Run(t, inv.Kind, map[string]any{"id": "mcu"})
	assert.Empty(t, franchises(t, rt))

	_, ok, err = rt.Registry.Invert(action.Input{Kind: KindSetMovieFranchise}, ir.IRObject{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigration_TeardownRemovesCatalog(t *testing.T) {
	ctx := context.Background()
	rt := newCatalog(t)

	mgr := migrate.New(rt.Store, migrate.WithBatchSize(1))
	require.NoError(t, mgr.Add(migrate.Core()...))
	require.NoError(t, mgr.Add(Migration()))
	_, err := mgr.Up(ctx)
	require.NoError(t, err)

	rt.Run(t, KindCreateFranchise, mcu)
	rt.Run(t, KindCreateMovie, guardians)

	done, err := mgr.Down(ctx, MigrationID)
	require.NoError(t, err)
	assert.Equal(t, []string{MigrationID}, done)

	assert.Empty(t, franchises(t, rt))
	assert.Empty(t, movies(t, rt))
	rt.View(t, func(r store.Reader) {
		aliases, err := r.Find(ctx, query.Match{Label: "SlugId"})
		require.NoError(t, err)
		// Only the system actor's alias survives.
		require.Len(t, aliases, 1)
		slug, _ := aliases[0].Props.String("slugId")
		assert.Equal(t, migrate.SystemSlug, slug)
	})
}
