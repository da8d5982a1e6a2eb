package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/events"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

type fixture struct {
	manager *Manager
	log     *callLog
	notes   *fakeKeeper
	tags    *fakeKeeper
}

func notesDeclaration() *schema.Declaration {
	return &schema.Declaration{
		Type: "notes",
		Attributes: []schema.Attribute{
			{Name: "title", Schema: schema.String()},
			{Name: "links", Optional: true, Schema: schema.ArrayOf(schema.String())},
			{Name: "kind", Optional: true, Mode: schema.Unchangeable, Schema: schema.String()},
		},
		Relationships: []schema.Relationship{
			schema.ToMany{RelationshipInfo: schema.RelationshipInfo{Name: "tags", Optional: true, Types: []string{"tags"}}},
			schema.NullableToOne{RelationshipInfo: schema.RelationshipInfo{Name: "parent", Optional: true, Types: []string{"notes"}}},
		},
		Addable:   true,
		Updatable: true,
		Removable: true,
		Listable: &schema.Listing{
			Filter: []schema.FilterField{{
				Name: "title",
				Transform: func(values []string) (any, error) {
					if values[0] == "" {
						return nil, errors.New("title must not be empty")
					}
					return values[0], nil
				},
			}},
			Sort: []schema.SortField{{Name: "title"}},
		},
	}
}

func tagsDeclaration() *schema.Declaration {
	return &schema.Declaration{
		Type:       "tags",
		Attributes: []schema.Attribute{{Name: "name", Schema: schema.String()}},
		Relationships: []schema.Relationship{
			schema.ToOne{RelationshipInfo: schema.RelationshipInfo{Name: "group", Optional: true, Mode: schema.Readonly, Types: []string{"groups"}}},
		},
		Addable: true,
	}
}

func groupsDeclaration() *schema.Declaration {
	return &schema.Declaration{
		Type:       "groups",
		Attributes: []schema.Attribute{{Name: "name", Schema: schema.String()}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &callLog{}
	notes := newFakeKeeper(notesDeclaration(), log)
	tags := newFakeKeeper(tagsDeclaration(), log)
	groups := newFakeKeeper(groupsDeclaration(), log)

	groups.seed("g1", map[string]any{"name": "colors"}, nil)
	tags.seed("23", map[string]any{"name": "red"}, map[string]resource.Linkage{"group": resource.One("groups", "g1")})
	tags.seed("24", map[string]any{"name": "blue"}, map[string]resource.Linkage{"group": resource.One("groups", "g1")})
	tags.seed("25", map[string]any{"name": "green"}, nil)
	notes.seed("1", map[string]any{"title": "first", "links": []any{"a"}}, map[string]resource.Linkage{
		"tags": resource.Many(resource.Identifier{Type: "tags", ID: "23"}, resource.Identifier{Type: "tags", ID: "24"}),
	})
	notes.seed("2", map[string]any{"title": "second"}, map[string]resource.Linkage{
		"tags":   resource.Many(resource.Identifier{Type: "tags", ID: "23"}),
		"parent": resource.One("notes", "1"),
	})

	m := New(Options{})
	require.NoError(t, m.Register(notes, tags, groups))
	require.NoError(t, m.Init())
	log.calls = nil

	return &fixture{manager: m, log: log, notes: notes, tags: tags}
}

func ref(t, id string) query.Ref {
	return query.Ref{Type: t, ID: id}
}

func pointers(set *apierror.ErrorSet) []string {
	var out []string
	for _, err := range set.Errors() {
		out = append(out, err.Source.String())
	}
	return out
}

func TestManager_Lifecycle(t *testing.T) {
	m := New(Options{})
	_, err := m.Get(context.Background(), query.MakeDefaultQuery(ref("notes", "1")))
	assert.ErrorIs(t, err, ErrNotInitialized)

	log := &callLog{}
	require.NoError(t, m.Register(newFakeKeeper(notesDeclaration(), log)))
	err = m.Init()
	require.Error(t, err, "tags are not registered")
	assert.Contains(t, err.Error(), `target type "tags" is not registered`)

	f := newFixture(t)
	assert.ErrorIs(t, f.manager.Register(newFakeKeeper(groupsDeclaration(), log)), ErrAlreadyInitialized)
	assert.ErrorIs(t, f.manager.Init(), ErrAlreadyInitialized)
}

func TestManager_GetStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.Get(ctx, query.MakeDefaultQuery(ref("notes", "1")))
	require.NoError(t, err)
	require.True(t, res.Result.OK())
	assert.Equal(t, "first", res.Result.Value.Resource.Attributes["title"])
	assert.Len(t, res.Result.Value.Resource.Relationships["tags"].Identifiers(), 2)
	assert.Equal(t, []events.Name{events.Get}, res.Events.Names())

	// not-found is a null resource, never an error
	res, err = f.manager.Get(ctx, query.MakeDefaultQuery(ref("notes", "404")))
	require.NoError(t, err)
	require.True(t, res.Result.OK())
	assert.Nil(t, res.Result.Value.Resource)
	assert.NotNil(t, res.Result.Value.Included)
	assert.Empty(t, res.Result.Value.Included)

	// forbidden is always an error
	f.notes.forbidden["2"] = "private note"
	res, err = f.manager.Get(ctx, query.MakeDefaultQuery(ref("notes", "2")))
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, 403, res.Result.Err.Status())
	assert.Contains(t, res.Result.Err.Errors()[0].Detail, "private note")
	assert.Equal(t, []events.Name{events.Error}, res.Events.Names())
}

func TestManager_GetIncludes(t *testing.T) {
	f := newFixture(t)

	q := &query.Query{
		Ref: ref("notes", "1"),
		Params: &query.Params{
			Include: [][]string{{"tags", "group"}, {"tags"}},
			Fields:  map[string][]string{"tags": {"name"}, "notes": {"title"}},
		},
	}
	res, err := f.manager.Get(context.Background(), q)
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)

	note := res.Result.Value.Resource
	assert.Equal(t, map[string]any{"title": "first"}, note.Attributes)
	assert.Empty(t, note.Relationships, "tags are loaded for traversal but not selected")

	var keys []string
	for _, r := range res.Result.Value.Included {
		keys = append(keys, r.Identifier().Key())
	}
	assert.Equal(t, []string{"tags/23", "tags/24", "groups/g1"}, keys)
	assert.Equal(t, map[string]any{"name": "red"}, res.Result.Value.Included[0].Attributes)
	assert.Empty(t, res.Result.Value.Included[0].Relationships)
}

func TestManager_GetIncludeForbidden(t *testing.T) {
	f := newFixture(t)
	f.tags.forbidden["24"] = ""

	q := &query.Query{Ref: ref("notes", "1"), Params: &query.Params{Include: [][]string{{"tags"}}}}
	res, err := f.manager.Get(context.Background(), q)
	require.NoError(t, err)

	require.False(t, res.Result.OK())
	require.Equal(t, 1, res.Result.Err.Len())
	assert.Equal(t, 403, res.Result.Err.Errors()[0].Status)
	assert.Equal(t, apierror.ParamInclude, res.Result.Err.Errors()[0].Source.Parameter)
	assert.Equal(t, 1, f.log.count("notes.get"), "the primary resource was fetched")
	assert.Equal(t, 0, f.log.count("tags.get"), "no tag is fetched once one is forbidden")
}

func TestManager_EmptyFieldset(t *testing.T) {
	f := newFixture(t)

	q := &query.Query{
		Ref:    ref("notes", "1"),
		Params: &query.Params{Include: [][]string{{"tags"}}, Fields: map[string][]string{"tags": {}}},
	}
	res, err := f.manager.Get(context.Background(), q)
	require.NoError(t, err)
	require.True(t, res.Result.OK())

	require.Len(t, res.Result.Value.Included, 2)
	for _, r := range res.Result.Value.Included {
		assert.Empty(t, r.Attributes)
		assert.Empty(t, r.Relationships)
	}
	assert.NotEmpty(t, res.Result.Value.Resource.Attributes, "notes have no fieldset")
}

func TestManager_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := &query.Query{Ref: query.Ref{Type: "notes"}, Params: &query.Params{Include: [][]string{{"tags"}}}}
	res, err := f.manager.List(ctx, q)
	require.NoError(t, err)
	require.True(t, res.Result.OK())

	assert.Len(t, res.Result.Value.Resources.Items, 2)
	assert.Equal(t, 2, *res.Result.Value.Resources.Total)
	assert.Len(t, res.Result.Value.Included, 2, "tag 23 is shared and included once")

	q = &query.Query{Ref: query.Ref{Type: "notes"}, Params: &query.Params{Filter: map[string][]string{"title": {"second"}}}}
	res, err = f.manager.List(ctx, q)
	require.NoError(t, err)
	require.True(t, res.Result.OK())
	require.Len(t, res.Result.Value.Resources.Items, 1)
	assert.Equal(t, "2", res.Result.Value.Resources.Items[0].ID)

	q = &query.Query{Ref: query.Ref{Type: "notes"}, Params: &query.Params{Filter: map[string][]string{"title": {""}}}}
	res, err = f.manager.List(ctx, q)
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, apierror.ParamFilter, res.Result.Err.Errors()[0].Source.Parameter)

	res, err = f.manager.List(ctx, query.MakeDefaultQuery(query.Ref{Type: "tags"}))
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, 405, res.Result.Err.Status())
}

func TestManager_Relationship(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := &query.Query{
		Ref:    query.Ref{Type: "notes", ID: "1", Relationship: "tags"},
		Params: &query.Params{Include: [][]string{{"tags", "group"}}},
	}
	res, err := f.manager.Relationship(ctx, q)
	require.NoError(t, err)
	require.True(t, res.Result.OK())
	assert.Len(t, res.Result.Value.Value.Identifiers(), 2)
	assert.Nil(t, res.Result.Value.Related)
	assert.Len(t, res.Result.Value.Included, 3)

	q = query.MakeDefaultQuery(query.Ref{Type: "notes", ID: "2", Relationship: "parent", Related: true})
	res, err = f.manager.Relationship(ctx, q)
	require.NoError(t, err)
	require.True(t, res.Result.OK())
	require.Len(t, res.Result.Value.Related, 1)
	assert.Equal(t, "first", res.Result.Value.Related[0].Attributes["title"])

	q = query.MakeDefaultQuery(query.Ref{Type: "notes", ID: "404", Relationship: "tags"})
	res, err = f.manager.Relationship(ctx, q)
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, 404, res.Result.Err.Status())
}

func TestManager_AddInvalidFields(t *testing.T) {
	f := newFixture(t)

	res, err := f.manager.Add(context.Background(), query.MakeDefaultQuery(query.Ref{Type: "notes"}), &resource.NewResource{
		Type:       "notes",
		Attributes: map[string]any{"title": 12.0, "links": []any{"a", 3.0, "b"}},
	}, apierror.Pointer{})
	require.NoError(t, err)

	require.False(t, res.Result.OK())
	require.Equal(t, 2, res.Result.Err.Len())
	assert.Equal(t, []string{"/attributes/title", "/attributes/links/1"}, pointers(res.Result.Err))
	for _, e := range res.Result.Err.Errors() {
		assert.Equal(t, "Invalid field", e.Title)
	}
	assert.Equal(t, 0, f.log.count("notes.add"))
}

func TestManager_Add(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := query.MakeDefaultQuery(query.Ref{Type: "notes"})

	res, err := f.manager.Add(ctx, q, &resource.NewResource{
		Type:          "notes",
		Attributes:    map[string]any{"title": "third"},
		Relationships: map[string]resource.Linkage{"tags": resource.Many(resource.Identifier{Type: "tags", ID: "25"})},
	}, apierror.NewPointer("data"))
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)

	created := res.Result.Value
	assert.Equal(t, "notes-1", created.ID)
	assert.Equal(t, []resource.Identifier{{Type: "tags", ID: "25"}}, created.Relationships["tags"].Identifiers())
	assert.Equal(t, []events.Name{events.Add, events.Change}, res.Events.Names())
	change := res.Events.Events()[1].Payload.(events.ChangePayload)
	assert.Nil(t, change.Old)
	assert.Equal(t, created, change.New)

	t.Run("forbidden target", func(t *testing.T) {
		f.tags.forbidden["24"] = ""
		defer delete(f.tags.forbidden, "24")

		res, err := f.manager.Add(ctx, q, &resource.NewResource{
			Type:       "notes",
			Attributes: map[string]any{"title": "x"},
			Relationships: map[string]resource.Linkage{"tags": resource.Many(
				resource.Identifier{Type: "tags", ID: "23"},
				resource.Identifier{Type: "tags", ID: "24"},
				resource.Identifier{Type: "tags", ID: "99"},
			)},
		}, apierror.NewPointer("data"))
		require.NoError(t, err)
		require.False(t, res.Result.OK())
		assert.Equal(t, []string{"/data/relationships/tags/data/1", "/data/relationships/tags/data/2"}, pointers(res.Result.Err))
		assert.Equal(t, 403, res.Result.Err.Errors()[0].Status)
		assert.Equal(t, 404, res.Result.Err.Errors()[1].Status)
	})

	t.Run("client id conflict", func(t *testing.T) {
		res, err := f.manager.Add(ctx, q, &resource.NewResource{
			Type:       "notes",
			ID:         "1",
			Attributes: map[string]any{"title": "dup"},
		}, apierror.Pointer{})
		require.NoError(t, err)
		require.False(t, res.Result.OK())
		assert.Equal(t, 409, res.Result.Err.Status())
		assert.Equal(t, []string{"/id"}, pointers(res.Result.Err))
	})

	t.Run("type mismatch", func(t *testing.T) {
		res, err := f.manager.Add(ctx, q, &resource.NewResource{Type: "tags"}, apierror.Pointer{})
		require.NoError(t, err)
		require.False(t, res.Result.OK())
		assert.Equal(t, "Invalid resource type", res.Result.Err.Errors()[0].Title)
	})

	t.Run("method not allowed", func(t *testing.T) {
		res, err := f.manager.Add(ctx, query.MakeDefaultQuery(query.Ref{Type: "groups"}), &resource.NewResource{Type: "groups"}, apierror.Pointer{})
		require.NoError(t, err)
		require.False(t, res.Result.OK())
		assert.Equal(t, 405, res.Result.Err.Status())
	})
}

func TestManager_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := query.MakeDefaultQuery(ref("notes", "1"))

	res, err := f.manager.Update(ctx, q, &resource.EditableResource{Type: "notes", ID: "2"}, apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, "Invalid resource id", res.Result.Err.Errors()[0].Title)

	res, err = f.manager.Update(ctx, q, &resource.EditableResource{
		Type:       "notes",
		ID:         "1",
		Attributes: map[string]any{"kind": "memo"},
	}, apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, []string{"/attributes/kind"}, pointers(res.Result.Err))

	res, err = f.manager.Update(ctx, q, &resource.EditableResource{
		Type:       "notes",
		ID:         "1",
		Attributes: map[string]any{"title": "renamed"},
	}, apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)
	assert.Equal(t, "renamed", res.Result.Value.Attributes["title"])

	assert.Equal(t, []events.Name{events.Update, events.Change}, res.Events.Names())
	update := res.Events.Events()[0].Payload.(events.UpdatePayload)
	assert.Equal(t, "first", update.Old.Attributes["title"])
	assert.Equal(t, "renamed", update.New.Attributes["title"])

	res, err = f.manager.Update(ctx, query.MakeDefaultQuery(ref("notes", "404")), &resource.EditableResource{Type: "notes", ID: "404"}, apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, 404, res.Result.Err.Status())
	assert.Equal(t, 0, f.log.count("notes.update 404"))
}

func TestManager_Remove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.Remove(ctx, query.MakeDefaultQuery(ref("notes", "2")), apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, res.Result.OK())
	assert.Equal(t, "2", res.Result.Value)
	assert.Equal(t, []events.Name{events.Remove, events.Change}, res.Events.Names())
	change := res.Events.Events()[1].Payload.(events.ChangePayload)
	assert.Equal(t, "second", change.Old.Attributes["title"])
	assert.Nil(t, change.New)

	res, err = f.manager.Remove(ctx, query.MakeDefaultQuery(ref("notes", "2")), apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, 404, res.Result.Err.Status())

	_, stillThere := f.notes.rows["1"]
	assert.True(t, stillThere, "only the resource with the given id is removed")
}

func TestManager_RemoveRelationshipsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := query.MakeDefaultQuery(query.Ref{Type: "notes", ID: "1", Relationship: "tags"})
	value := resource.Many(resource.Identifier{Type: "tags", ID: "23"}, resource.Identifier{Type: "tags", ID: "99"})

	first, err := f.manager.RemoveRelationships(ctx, q, value, apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, first.Result.OK(), first.Result.Err)

	second, err := f.manager.RemoveRelationships(ctx, q, value, apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, second.Result.OK(), second.Result.Err)

	assert.Equal(t, first.Result.Value, second.Result.Value)
	assert.Equal(t, []resource.Identifier{{Type: "tags", ID: "24"}}, second.Result.Value.Value.Identifiers())
	assert.Equal(t, []events.Name{events.RemoveRelationship, events.Change}, second.Events.Names())
}

func TestManager_RelationshipMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tagsRef := query.MakeDefaultQuery(query.Ref{Type: "notes", ID: "2", Relationship: "tags"})

	res, err := f.manager.AddRelationships(ctx, tagsRef, resource.Many(resource.Identifier{Type: "tags", ID: "99"}), apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, []string{"/data/0"}, pointers(res.Result.Err))
	assert.Equal(t, 0, f.log.count("notes.tags.add"))

	f.tags.forbidden["24"] = ""
	res, err = f.manager.AddRelationships(ctx, tagsRef, resource.Many(
		resource.Identifier{Type: "tags", ID: "25"},
		resource.Identifier{Type: "tags", ID: "24"},
	), apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK(), "no partial linking")
	assert.Equal(t, 0, f.log.count("notes.tags.add"))
	delete(f.tags.forbidden, "24")

	res, err = f.manager.AddRelationships(ctx, tagsRef, resource.Many(resource.Identifier{Type: "tags", ID: "25"}), apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)
	assert.Len(t, res.Result.Value.Value.Identifiers(), 2)
	assert.Equal(t, []events.Name{events.AddRelationship, events.Change}, res.Events.Names())

	parentRef := query.MakeDefaultQuery(query.Ref{Type: "notes", ID: "2", Relationship: "parent"})
	res, err = f.manager.UpdateRelationship(ctx, parentRef, resource.Null(), apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)
	assert.Equal(t, resource.Null(), res.Result.Value.Value)

	res, err = f.manager.AddRelationships(ctx, parentRef, resource.Many(resource.Identifier{Type: "notes", ID: "1"}), apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK(), "add needs a to-many relationship")

	groupRef := query.MakeDefaultQuery(query.Ref{Type: "tags", ID: "23", Relationship: "group"})
	res, err = f.manager.UpdateRelationship(ctx, groupRef, resource.One("groups", "g1"), apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK(), "readonly relationship")
	assert.Contains(t, res.Result.Err.Errors()[0].Detail, "readonly")
}

func TestManager_OperationsResolveLids(t *testing.T) {
	f := newFixture(t)

	ops := []Operation{
		{
			Op:  OpAdd,
			Ref: OperationRef{Type: "notes"},
			Add: &resource.NewResource{Type: "notes", Lid: "new-note", Attributes: map[string]any{"title": "batched"}},
		},
		{
			Op:      OpAddRelationships,
			Ref:     OperationRef{Type: "notes", Lid: "new-note", Relationship: "tags"},
			Linkage: resource.Many(resource.Identifier{Type: "tags", ID: "23"}),
		},
	}

	res, err := f.manager.Operations(context.Background(), ops, apierror.Pointer{})
	require.NoError(t, err)
	require.True(t, res.Result.OK(), res.Result.Err)

	results := res.Result.Value.Results
	require.Len(t, results, 2)
	created := results[0].(*resource.Resource)
	linked := results[1].(RelationshipResult)
	assert.Equal(t, created.ID, linked.ID)
	assert.Equal(t, []resource.Identifier{{Type: "tags", ID: "23"}}, linked.Value.Identifiers())
	assert.Equal(t, 2, res.Result.Value.Completed)

	assert.Equal(t, []events.Name{
		events.Add, events.Change,
		events.AddRelationship, events.Change,
		events.Operations,
	}, res.Events.Names())

	assert.Empty(t, ops[1].Ref.ID, "the caller's operations are not modified")
}

func TestManager_OperationsRejectForwardLid(t *testing.T) {
	tests := []struct {
		name    string
		ops     []Operation
		pointer string
	}{
		{
			name: "forward reference",
			ops: []Operation{
				{
					Op:      OpAddRelationships,
					Ref:     OperationRef{Type: "notes", Lid: "later", Relationship: "tags"},
					Linkage: resource.Many(resource.Identifier{Type: "tags", ID: "23"}),
				},
				{
					Op:  OpAdd,
					Ref: OperationRef{Type: "notes"},
					Add: &resource.NewResource{Type: "notes", Lid: "later", Attributes: map[string]any{"title": "x"}},
				},
			},
			pointer: "/0/ref/lid",
		},
		{
			name: "undeclared lid in body",
			ops: []Operation{
				{
					Op:  OpAdd,
					Ref: OperationRef{Type: "notes"},
					Add: &resource.NewResource{
						Type:          "notes",
						Attributes:    map[string]any{"title": "x"},
						Relationships: map[string]resource.Linkage{"parent": resource.ToOne{Ref: &resource.Identifier{Type: "notes", Lid: "ghost"}}},
					},
				},
			},
			pointer: "/0/data/relationships/parent/data/lid",
		},
		{
			name: "self reference",
			ops: []Operation{
				{
					Op:  OpAdd,
					Ref: OperationRef{Type: "notes"},
					Add: &resource.NewResource{
						Type:          "notes",
						Lid:           "me",
						Attributes:    map[string]any{"title": "x"},
						Relationships: map[string]resource.Linkage{"parent": resource.ToOne{Ref: &resource.Identifier{Type: "notes", Lid: "me"}}},
					},
				},
			},
			pointer: "/0/data/relationships/parent/data/lid",
		},
		{
			name: "duplicate declaration",
			ops: []Operation{
				{Op: OpAdd, Ref: OperationRef{Type: "notes"}, Add: &resource.NewResource{Type: "notes", Lid: "a", Attributes: map[string]any{"title": "x"}}},
				{Op: OpAdd, Ref: OperationRef{Type: "notes"}, Add: &resource.NewResource{Type: "notes", Lid: "a", Attributes: map[string]any{"title": "y"}}},
			},
			pointer: "/1/data/lid",
		},
		{
			name: "lid used with another type",
			ops: []Operation{
				{Op: OpAdd, Ref: OperationRef{Type: "notes"}, Add: &resource.NewResource{Type: "notes", Lid: "a", Attributes: map[string]any{"title": "x"}}},
				{Op: OpRemove, Ref: OperationRef{Type: "tags", Lid: "a"}},
			},
			pointer: "/1/ref/lid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			res, err := f.manager.Operations(context.Background(), tt.ops, apierror.Pointer{})
			require.NoError(t, err)
			require.False(t, res.Result.OK())
			require.Equal(t, 1, res.Result.Err.Len())
			assert.Equal(t, "Invalid resource lid", res.Result.Err.Errors()[0].Title)
			assert.Equal(t, tt.pointer, res.Result.Err.Errors()[0].Source.String())
			assert.Empty(t, f.log.calls, "no storage call is made")
			assert.Equal(t, 0, res.Result.Value.Completed)
		})
	}
}

func TestManager_OperationsStopAtFirstFailure(t *testing.T) {
	f := newFixture(t)

	ops := []Operation{
		{Op: OpAdd, Ref: OperationRef{Type: "notes"}, Add: &resource.NewResource{Type: "notes", Lid: "n", Attributes: map[string]any{"title": "ok"}}},
		{Op: OpUpdate, Ref: OperationRef{Type: "notes", Lid: "n"}, Update: &resource.EditableResource{Type: "notes", Lid: "n", Attributes: map[string]any{"title": 1.0}}},
		{Op: OpRemove, Ref: OperationRef{Type: "notes", ID: "1"}},
	}

	res, err := f.manager.Operations(context.Background(), ops, apierror.Pointer{})
	require.NoError(t, err)
	require.False(t, res.Result.OK())

	assert.Equal(t, 1, res.Result.Value.Completed)
	assert.Len(t, res.Result.Value.Results, 1)
	assert.Equal(t, []string{"/1/data/attributes/title"}, pointers(res.Result.Err))
	assert.Equal(t, 0, f.log.count("notes.remove"), "later steps do not run")
	assert.Equal(t, 1, f.log.count("notes.add"), "earlier steps are not rolled back")
	assert.Equal(t, []events.Name{events.Add, events.Change, events.Error}, res.Events.Names())
}

func TestManager_OperationsMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	ops := []Operation{{Op: OpRemove, Ref: OperationRef{Type: "tags", ID: "23"}}}
	res, err := f.manager.Operations(context.Background(), ops, apierror.NewPointer("atomic:operations"))
	require.NoError(t, err)
	require.False(t, res.Result.OK())
	assert.Equal(t, 405, res.Result.Err.Status())
	assert.Equal(t, "/atomic:operations/0", res.Result.Err.Errors()[0].Source.String())
}

func TestManager_EventsAreDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var changes []events.ChangePayload
	f.manager.On(events.Change, func(_ context.Context, e events.Event) {
		changes = append(changes, e.Payload.(events.ChangePayload))
	})

	res, err := f.manager.Remove(ctx, query.MakeDefaultQuery(ref("notes", "2")), apierror.Pointer{})
	require.NoError(t, err)
	assert.Empty(t, changes)

	require.NoError(t, res.Events.Emit(ctx))
	require.Len(t, changes, 1)
	assert.Equal(t, "2", changes[0].ID)
}
