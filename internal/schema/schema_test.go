package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/store"
)

func newTestSchema(t *testing.T) *Schema {
	t.Helper()
	s := New()
	// Movie refers to Franchise before Franchise is registered.
	require.NoError(t, s.Register(EntityType{
		Name:       "Movie",
		Parent:     "Media",
		Properties: `{title: string & !="", year?: int & >=1888}`,
		Rels: []RelSlot{
			{Name: "franchise", RelType: "FRANCHISE_IS", Target: "Franchise", Cardinality: AtMostOne},
		},
		Check: func(n store.Node) error {
			if title, _ := n.Props.String("title"); title == "forbidden" {
				return NewPublicError("that title is not allowed")
			}
			return nil
		},
	}))
	require.NoError(t, s.Register(EntityType{Name: "Media", Properties: `{rating?: int}`}))
	require.NoError(t, s.Register(EntityType{Name: "Franchise", Properties: `{name: string}`}))
	require.NoError(t, s.Finalize())
	return s
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "schema.db"), store.WithIDGenerator(store.NewSequentialGenerator("n")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestFinalize_ResolvesHierarchy(t *testing.T) {
	s := newTestSchema(t)

	movie, ok := s.Type("Movie")
	require.True(t, ok)
	assert.Equal(t, []string{"Entity", "Media", "Movie"}, movie.Labels())
	require.Len(t, movie.Slots(), 1)

	n := store.Node{ID: "x", Labels: []string{"Entity", "Media", "Movie"}}
	got, ok := s.TypeOf(n)
	require.True(t, ok)
	assert.Equal(t, "Movie", got.Name)

	_, ok = s.TypeOf(store.Node{Labels: []string{"Action"}})
	assert.False(t, ok)
}

func TestFinalize_UnknownTarget(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(EntityType{
		Name: "Movie",
		Rels: []RelSlot{{Name: "f", RelType: "F", Target: "Nope"}},
	}))
	err := s.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "Nope"`)
}

func TestFinalize_ParentCycle(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(EntityType{Name: "A", Parent: "B"}))
	require.NoError(t, s.Register(EntityType{Name: "B", Parent: "A"}))
	err := s.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestRegister_Errors(t *testing.T) {
	s := New()
	assert.Error(t, s.Register(EntityType{Name: "Entity"}))
	assert.Error(t, s.Register(EntityType{Name: "Actor"}), "duplicate of built-in")
	require.NoError(t, s.Finalize())
	assert.Error(t, s.Register(EntityType{Name: "Late"}))
	assert.Error(t, s.Finalize())
}

func TestValidate(t *testing.T) {
	s := newTestSchema(t)
	st := openStore(t)
	ctx := context.Background()

	var franchise, other string
	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		var err error
		franchise, err = tx.CreateNode(ctx, s.MustLabels("Franchise"), ir.IRObject{"name": ir.IRString("MCU")})
		if err != nil {
			return err
		}
		other, err = tx.CreateNode(ctx, s.MustLabels("Media"), nil)
		return err
	}))

	tests := []struct {
		name    string
		labels  []string
		props   ir.IRObject
		links   []string
		wantErr string
		public  bool
	}{
		{
			name:   "valid",
			labels: s.MustLabels("Movie"),
			props:  ir.IRObject{"title": ir.IRString("Guardians"), "year": ir.IRInt(2014), "rating": ir.IRInt(5)},
			links:  []string{franchise},
		},
		{
			name:    "missing required property",
			labels:  s.MustLabels("Movie"),
			props:   ir.IRObject{"year": ir.IRInt(2014)},
			wantErr: "title",
		},
		{
			name:    "undeclared property",
			labels:  s.MustLabels("Movie"),
			props:   ir.IRObject{"title": ir.IRString("x"), "budget": ir.IRInt(1)},
			wantErr: "budget",
		},
		{
			name:    "constraint violated",
			labels:  s.MustLabels("Movie"),
			props:   ir.IRObject{"title": ir.IRString("x"), "year": ir.IRInt(1500)},
			wantErr: "year",
		},
		{
			name:    "too many relationships",
			labels:  s.MustLabels("Movie"),
			props:   ir.IRObject{"title": ir.IRString("x")},
			links:   []string{franchise, franchise},
			wantErr: "at most one",
		},
		{
			name:    "wrong target type",
			labels:  s.MustLabels("Movie"),
			props:   ir.IRObject{"title": ir.IRString("x")},
			links:   []string{other},
			wantErr: "is not a Franchise",
		},
		{
			name:    "public check",
			labels:  s.MustLabels("Movie"),
			props:   ir.IRObject{"title": ir.IRString("forbidden")},
			wantErr: "that title is not allowed",
			public:  true,
		},
		{
			name:   "soft-deleted entities are not checked",
			labels: []string{"DeletedEntity", "Media", "Movie"},
			props:  ir.IRObject{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := st.Begin(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			id, err := tx.CreateNode(ctx, tt.labels, tt.props)
			require.NoError(t, err)
			for _, end := range tt.links {
				_, err := tx.CreateRel(ctx, "FRANCHISE_IS", id, end, nil)
				require.NoError(t, err)
			}

			err = s.Validate(ctx, tx, id)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
			msg, public := PublicMessage(err)
			assert.Equal(t, tt.public, public)
			if tt.public {
				assert.Equal(t, tt.wantErr, msg)
			}
		})
	}
}

func TestValidate_MissingNodeIsSkipped(t *testing.T) {
	s := newTestSchema(t)
	st := openStore(t)
	ctx := context.Background()

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		return s.Validate(ctx, r, "gone")
	}))
}

func TestSlugs(t *testing.T) {
	s := newTestSchema(t)
	st := openStore(t)
	ctx := context.Background()

	var a, b string
	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		var err error
		if a, err = tx.CreateNode(ctx, s.MustLabels("Franchise"), ir.IRObject{"name": ir.IRString("A")}); err != nil {
			return err
		}
		b, err = tx.CreateNode(ctx, s.MustLabels("Franchise"), ir.IRObject{"name": ir.IRString("B")})
		return err
	}))

	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		touched, err := SetSlug(ctx, tx, a, "first")
		require.NoError(t, err)
		require.Len(t, touched, 1)
		require.NoError(t, s.Validate(ctx, tx, touched[0]))

		again, err := SetSlug(ctx, tx, a, "first")
		require.NoError(t, err)
		assert.Empty(t, again)

		_, err = SetSlug(ctx, tx, a, "second")
		require.NoError(t, err)

		_, err = SetSlug(ctx, tx, b, "first")
		require.Error(t, err)
		msg, public := PublicMessage(err)
		assert.True(t, public)
		assert.Contains(t, msg, `"first"`)
		return nil
	}))

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		id, err := ResolveSlug(ctx, r, "first")
		require.NoError(t, err)
		assert.Equal(t, a, id, "historical slug still resolves")

		slug, err := SlugOf(ctx, r, a)
		require.NoError(t, err)
		assert.Equal(t, "second", slug)

		_, err = ResolveSlug(ctx, r, "unknown")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestSlugValidation(t *testing.T) {
	s := newTestSchema(t)
	st := openStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	target, err := tx.CreateNode(ctx, s.MustLabels("Franchise"), ir.IRObject{"name": ir.IRString("A")})
	require.NoError(t, err)
	touched, err := SetSlug(ctx, tx, target, "Not A Slug")
	require.NoError(t, err)

	err = s.Validate(ctx, tx, touched[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slugId")
}
