package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

func booksDeclaration() *schema.Declaration {
	return &schema.Declaration{
		Type: "books",
		Attributes: []schema.Attribute{
			{Name: "title", Schema: schema.String()},
			{Name: "year", Optional: true, Schema: schema.Int()},
		},
		Relationships: []schema.Relationship{
			schema.ToMany{RelationshipInfo: schema.RelationshipInfo{Name: "authors", Optional: true, Types: []string{"authors"}}},
			schema.NullableToOne{RelationshipInfo: schema.RelationshipInfo{Name: "series", Optional: true, Types: []string{"books"}}},
		},
		Addable:   true,
		Updatable: true,
		Removable: true,
		Listable: &schema.Listing{
			Filter: []schema.FilterField{{Name: "year"}, {Name: "authors", Multiple: true}},
			Sort:   []schema.SortField{{Name: "title"}, {Name: "year"}},
		},
	}
}

func authorsDeclaration() *schema.Declaration {
	return &schema.Declaration{
		Type:       "authors",
		Attributes: []schema.Attribute{{Name: "name", Schema: schema.String()}},
		Addable:    true,
	}
}

func seededBooks(t *testing.T, opts Options) *Keeper {
	t.Helper()
	k := New(booksDeclaration(), opts)
	require.NoError(t, k.Seed("b1", map[string]any{"title": "Dune", "year": 1965}, map[string]resource.Linkage{
		"authors": resource.Many(resource.Identifier{Type: "authors", ID: "a1"}),
	}))
	require.NoError(t, k.Seed("b2", map[string]any{"title": "Children of Dune", "year": 1976}, map[string]resource.Linkage{
		"authors": resource.Many(resource.Identifier{Type: "authors", ID: "a1"}, resource.Identifier{Type: "authors", ID: "a2"}),
		"series":  resource.One("books", "b1"),
	}))
	require.NoError(t, k.Seed("b3", map[string]any{"title": "Anathem", "year": 2008}, nil))
	return k
}

func TestKeeper_StatusAndGet(t *testing.T) {
	k := seededBooks(t, Options{
		Policy: func(_ context.Context, id string, attrs map[string]any) resource.Status {
			if attrs["year"] == 2008 {
				return resource.Forbidden("too recent")
			}
			return resource.Exist()
		},
	})
	ctx := context.Background()

	statuses, err := k.Status(ctx, []string{"b1", "b3", "nope"})
	require.NoError(t, err)
	assert.Equal(t, resource.Exist(), statuses["b1"])
	assert.Equal(t, resource.Forbidden("too recent"), statuses["b3"])
	assert.Equal(t, resource.NotFound(), statuses["nope"])

	got, err := k.Get(ctx, []string{"b2", "nope", "b1"}, resource.GetOptions{Fields: []string{"title"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b2", got[0].ID)
	assert.Equal(t, map[string]any{"title": "Children of Dune"}, got[0].Attributes)

	got[1].Attributes["title"] = "changed"
	again, err := k.Get(ctx, []string{"b1"}, resource.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Dune", again[0].Attributes["title"], "returned resources do not alias storage")
}

func TestKeeper_Seed(t *testing.T) {
	k := seededBooks(t, Options{})

	assert.ErrorIs(t, k.Seed("b1", nil, nil), ErrDuplicateID)
	assert.Error(t, k.Seed("", nil, nil))
	assert.Error(t, k.Seed("b9", nil, map[string]resource.Linkage{"publisher": resource.Null()}))
	assert.Equal(t, 3, k.Len())
}

func TestKeeper_List(t *testing.T) {
	k := seededBooks(t, Options{})
	ctx := context.Background()

	ids := func(list resource.DataList[*resource.Resource]) []string {
		var out []string
		for _, r := range list.Items {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		opts  resource.ListOptions
		want  []string
		total int
	}{
		{
			name:  "insertion order",
			want:  []string{"b1", "b2", "b3"},
			total: 3,
		},
		{
			name:  "sort ascending",
			opts:  resource.ListOptions{Sort: []query.Sort{{Field: "title", Asc: true}}},
			want:  []string{"b3", "b2", "b1"},
			total: 3,
		},
		{
			name:  "sort descending by number",
			opts:  resource.ListOptions{Sort: []query.Sort{{Field: "year"}}},
			want:  []string{"b3", "b2", "b1"},
			total: 3,
		},
		{
			name:  "filter attribute",
			opts:  resource.ListOptions{Filter: map[string]any{"year": "1965"}},
			want:  []string{"b1"},
			total: 1,
		},
		{
			name:  "filter relationship any of",
			opts:  resource.ListOptions{Filter: map[string]any{"authors": []string{"a2", "a9"}}},
			want:  []string{"b2"},
			total: 1,
		},
		{
			name:  "page",
			opts:  resource.ListOptions{Page: query.Page{Number: 1, Size: 2}},
			want:  []string{"b3"},
			total: 3,
		},
		{
			name:  "page past the end",
			opts:  resource.ListOptions{Page: query.Page{Number: 5, Size: 2}},
			want:  nil,
			total: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := k.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(list))
			require.NotNil(t, list.Total)
			assert.Equal(t, tt.total, *list.Total)
			for _, r := range list.Items {
				assert.Nil(t, r.Relationships)
			}
		})
	}
}

func TestKeeper_CustomFilter(t *testing.T) {
	k := seededBooks(t, Options{
		Filters: map[string]FilterFunc{
			"year": func(value any, r *resource.Resource) bool {
				return r.Attributes["year"].(int) >= value.(int)
			},
		},
	})

	list, err := k.List(context.Background(), resource.ListOptions{Filter: map[string]any{"year": 1970}})
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
}

func TestKeeper_Mutations(t *testing.T) {
	n := 0
	k := seededBooks(t, Options{NewID: func() string {
		n++
		return "generated"
	}})
	ctx := context.Background()

	id, err := k.Add(ctx, &resource.NewResource{Type: "books", Attributes: map[string]any{"title": "Snow Crash"}})
	require.NoError(t, err)
	assert.Equal(t, "generated", id)
	assert.Equal(t, 1, n)

	_, err = k.Add(ctx, &resource.NewResource{Type: "books", ID: "b1"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	require.NoError(t, k.Update(ctx, &resource.EditableResource{
		Type:          "books",
		ID:            "b3",
		Attributes:    map[string]any{"year": 2009},
		Relationships: map[string]resource.Linkage{"series": resource.One("books", "b1")},
	}))
	got, err := k.Get(ctx, []string{"b3"}, resource.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Anathem", "year": 2009}, got[0].Attributes)

	series, err := k.Relationships()["series"].Get(ctx, []string{"b3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, resource.One("books", "b1"), series["b3"])

	assert.ErrorIs(t, k.Update(ctx, &resource.EditableResource{Type: "books", ID: "nope"}), ErrNotFound)

	require.NoError(t, k.Remove(ctx, "b2"))
	assert.ErrorIs(t, k.Remove(ctx, "b2"), ErrNotFound)
	assert.Equal(t, 3, k.Len())

	list, err := k.List(ctx, resource.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list.Items, 3)
}

func TestKeeper_RelationshipKeepers(t *testing.T) {
	k := seededBooks(t, Options{})
	ctx := context.Background()
	authors := k.Relationships()["authors"]

	values, err := authors.Get(ctx, []string{"b1", "b2", "b3", "nope"}, nil)
	require.NoError(t, err)
	assert.Len(t, values, 3)
	assert.Len(t, values["b2"].Identifiers(), 2)
	assert.NotNil(t, values["b3"].Identifiers(), "empty to-many is an empty list")

	paged, err := authors.Get(ctx, []string{"b2"}, query.Page{Relationships: map[string]query.Page{"authors": {Number: 1, Size: 1}}})
	require.NoError(t, err)
	many := paged["b2"].(resource.ToMany)
	assert.Equal(t, []resource.Identifier{{Type: "authors", ID: "a2"}}, many.Items)
	assert.Equal(t, 2, *many.Total)

	a3 := resource.Identifier{Type: "authors", ID: "a3"}
	require.NoError(t, authors.(resource.RelationshipAdder).Add(ctx, "b1", []resource.Identifier{a3, {Type: "authors", ID: "a1"}}))
	values, err = authors.Get(ctx, []string{"b1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []resource.Identifier{{Type: "authors", ID: "a1"}, a3}, values["b1"].Identifiers())

	remover := authors.(resource.RelationshipRemover)
	require.NoError(t, remover.Remove(ctx, "b1", []resource.Identifier{a3, {Type: "authors", ID: "a9"}}))
	require.NoError(t, remover.Remove(ctx, "b1", []resource.Identifier{a3}))
	values, err = authors.Get(ctx, []string{"b1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []resource.Identifier{{Type: "authors", ID: "a1"}}, values["b1"].Identifiers())
}

func TestKeeper_WithManager(t *testing.T) {
	books := New(booksDeclaration(), Options{})
	authors := New(authorsDeclaration(), Options{})
	require.NoError(t, authors.Seed("a1", map[string]any{"name": "Frank Herbert"}, nil))

	m := manager.New(manager.Options{})
	require.NoError(t, m.Register(books, authors))
	require.NoError(t, m.Init())
	ctx := context.Background()

	ops := []manager.Operation{
		{
			Op:  manager.OpAdd,
			Ref: manager.OperationRef{Type: "books"},
			Add: &resource.NewResource{Type: "books", Lid: "dune", Attributes: map[string]any{"title": "Dune"}},
		},
		{
			Op:  manager.OpAdd,
			Ref: manager.OperationRef{Type: "books"},
			Add: &resource.NewResource{
				Type:       "books",
				Attributes: map[string]any{"title": "Dune Messiah"},
				Relationships: map[string]resource.Linkage{
					"series":  resource.ToOne{Ref: &resource.Identifier{Type: "books", Lid: "dune"}},
					"authors": resource.Many(resource.Identifier{Type: "authors", ID: "a1"}),
				},
			},
		},
	}
	res, err := m.Operations(ctx, ops, apierror.NewPointer("atomic:operations"))
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)

	first := res.Result.Value.Results[0].(*resource.Resource)
	second := res.Result.Value.Results[1].(*resource.Resource)
	assert.Equal(t, resource.One("books", first.ID), second.Relationships["series"])

	q := &query.Query{
		Ref:    query.Ref{Type: "books", ID: second.ID},
		Params: &query.Params{Include: [][]string{{"series"}, {"authors"}}},
	}
	got, err := m.Get(ctx, q)
	require.NoError(t, err)
	require.True(t, got.Result.OK(), got.Result.Err)
	require.Len(t, got.Result.Value.Included, 2)
	assert.Equal(t, first.ID, got.Result.Value.Included[0].ID)
	assert.Equal(t, "Frank Herbert", got.Result.Value.Included[1].Attributes["name"])
}
