package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	c := New(query.NewNumberPages())

	decls := []*schema.Declaration{
		{
			Type: "articles",
			Attributes: []schema.Attribute{
				{Name: "title", Schema: schema.String()},
				{Name: "body", Optional: true, Schema: schema.String()},
				{Name: "status", Mode: schema.Unchangeable, Schema: schema.Enum("draft", "published")},
				{Name: "created", Mode: schema.Readonly, Schema: schema.String()},
			},
			Relationships: []schema.Relationship{
				schema.ToOne{RelationshipInfo: schema.RelationshipInfo{Name: "author", Types: []string{"people"}}},
				schema.NullableToOne{RelationshipInfo: schema.RelationshipInfo{Name: "editor", Optional: true, Types: []string{"people"}}},
				schema.ToMany{RelationshipInfo: schema.RelationshipInfo{Name: "comments", Optional: true, Types: []string{"comments"}}},
				schema.ToMany{RelationshipInfo: schema.RelationshipInfo{Name: "attachments", Mode: schema.Readonly, Types: []string{schema.AnyType}}},
			},
			Addable: true,
			Listable: &schema.Listing{
				Filter: []schema.FilterField{{Name: "status"}, {Name: "tag", Multiple: true}},
				Sort:   []schema.SortField{{Name: "title"}, {Name: "created", Direction: schema.SortDescOnly}},
			},
		},
		{
			Type:       "people",
			Attributes: []schema.Attribute{{Name: "name", Schema: schema.String()}},
			Relationships: []schema.Relationship{
				schema.ToOne{RelationshipInfo: schema.RelationshipInfo{Name: "department", Types: []string{"departments"}}},
			},
		},
		{
			Type:       "comments",
			Attributes: []schema.Attribute{{Name: "text", Schema: schema.String()}},
			Relationships: []schema.Relationship{
				schema.ToOne{RelationshipInfo: schema.RelationshipInfo{Name: "author", Types: []string{"people"}}},
			},
			Removable: true,
		},
		{
			Type:       "departments",
			Attributes: []schema.Attribute{{Name: "name", Schema: schema.String()}},
		},
	}
	for _, decl := range decls {
		require.NoError(t, c.Register(decl))
	}
	return c
}

func TestCheckQuery_UnknownTypeIsTerminal(t *testing.T) {
	c := newTestChecker(t)

	q := &query.Query{
		Ref:    query.Ref{Type: "planets"},
		Params: &query.Params{Sort: []query.Sort{{Field: "x", Asc: true}}},
	}
	errs := c.CheckQuery(MethodList, q, apierror.QuerySource(), true)

	require.Equal(t, 1, errs.Len())
	assert.Equal(t, "Invalid resource type", errs.Errors()[0].Title)
	assert.Equal(t, 404, errs.Errors()[0].Status)
}

func TestCheckQuery_Method(t *testing.T) {
	c := newTestChecker(t)
	q := query.MakeDefaultQuery(query.Ref{Type: "people"})

	errs := c.CheckQuery(MethodList, q, apierror.QuerySource(), true)
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, 405, errs.Errors()[0].Status)
	assert.Equal(t, apierror.ParamMethod, errs.Errors()[0].Source.Parameter)

	errs = c.CheckQuery(MethodRemove, q, apierror.PointerSource(apierror.NewPointer(2)), true)
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, "/2", errs.Errors()[0].Source.String())
	assert.Contains(t, errs.Errors()[0].Detail, `"people"`)

	errs = c.CheckQuery(MethodList, q, apierror.QuerySource(), false)
	assert.False(t, errs.HasErrors())

	errs = c.CheckQuery(MethodRemove, query.MakeDefaultQuery(query.Ref{Type: "comments", ID: "1"}), apierror.QuerySource(), true)
	assert.False(t, errs.HasErrors())
}

func TestCheckQuery_Params(t *testing.T) {
	c := newTestChecker(t)

	tests := []struct {
		name   string
		params *query.Params
		param  apierror.Parameter
		errors int
	}{
		{
			name:   "valid",
			params: &query.Params{Fields: map[string][]string{"articles": {"title", "author"}, "people": {}}},
			errors: 0,
		},
		{
			name:   "unknown fields type and field",
			params: &query.Params{Fields: map[string][]string{"planets": {"x"}, "articles": {"nope"}}},
			param:  apierror.ParamFields,
			errors: 2,
		},
		{
			name:   "sort undeclared",
			params: &query.Params{Sort: []query.Sort{{Field: "body", Asc: true}}},
			param:  apierror.ParamSort,
			errors: 1,
		},
		{
			name:   "sort wrong direction",
			params: &query.Params{Sort: []query.Sort{{Field: "created", Asc: true}, {Field: "title", Asc: false}}},
			param:  apierror.ParamSort,
			errors: 1,
		},
		{
			name:   "filter single value field given many",
			params: &query.Params{Filter: map[string][]string{"status": {"a", "b"}, "tag": {"x", "y"}}},
			param:  apierror.ParamFilter,
			errors: 1,
		},
		{
			name:   "filter undeclared",
			params: &query.Params{Filter: map[string][]string{"title": {"a"}}},
			param:  apierror.ParamFilter,
			errors: 1,
		},
		{
			name:   "include chain",
			params: &query.Params{Include: [][]string{{"comments", "author", "department"}, {"author"}}},
			errors: 0,
		},
		{
			name:   "include through wildcard relationship",
			params: &query.Params{Include: [][]string{{"attachments", "department"}}},
			errors: 0,
		},
		{
			name:   "include undeclared segment",
			params: &query.Params{Include: [][]string{{"author", "comments"}}},
			param:  apierror.ParamInclude,
			errors: 1,
		},
		{
			name:   "page out of bounds",
			params: &query.Params{Page: query.Page{Number: 0, Size: 500}},
			param:  apierror.ParamPage,
			errors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &query.Query{Ref: query.Ref{Type: "articles"}, Params: tt.params}
			errs := c.CheckQuery(MethodList, q, apierror.QuerySource(), true)

			require.Equal(t, tt.errors, errs.Len(), errs.Error())
			for _, err := range errs.Errors() {
				assert.Equal(t, tt.param, err.Source.Parameter)
			}
		})
	}
}

func TestCheckQuery_Relationship(t *testing.T) {
	c := newTestChecker(t)

	q := query.MakeDefaultQuery(query.Ref{Type: "articles", ID: "1", Relationship: "reviews"})
	errs := c.CheckQuery(MethodGet, q, apierror.QuerySource(), false)
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, 404, errs.Errors()[0].Status)
}

func TestCheckResourceFields_Create(t *testing.T) {
	c := newTestChecker(t)
	decl, _ := c.Declaration("articles")

	errs := c.CheckResourceFields(decl,
		map[string]any{"title": 12.0, "created": "now", "color": "red"},
		map[string]resource.Linkage{"comments": resource.One("comments", "1")},
		apierror.Pointer{},
	)

	var pointers []string
	for _, err := range errs.Errors() {
		pointers = append(pointers, err.Source.String())
	}
	assert.Equal(t, []string{
		"/attributes/title",
		"/attributes/status",
		"/attributes/created",
		"/relationships/author",
		"/relationships/comments/data",
		"/attributes/color",
	}, pointers)
}

func TestCheckResourceFields_Update(t *testing.T) {
	c := newTestChecker(t)
	decl, _ := c.Declaration("articles")

	errs := c.CheckResourceFieldsForExisting(decl,
		map[string]any{"status": "draft", "body": "new"},
		nil,
		apierror.NewPointer("data"),
	)
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, "/data/attributes/status", errs.Errors()[0].Source.String())

	errs = c.CheckResourceFieldsForExisting(decl, map[string]any{"title": "ok"}, nil, apierror.Pointer{})
	assert.False(t, errs.HasErrors())
}

func TestCheckRelationshipValue(t *testing.T) {
	c := newTestChecker(t)
	decl, _ := c.Declaration("articles")
	author, _ := decl.Relationship("author")
	editor, _ := decl.Relationship("editor")
	comments, _ := decl.Relationship("comments")

	tests := []struct {
		name    string
		rel     schema.Relationship
		value   resource.Linkage
		pointer string
	}{
		{"to-one null", author, resource.Null(), "/data"},
		{"to-one list", author, resource.Many(), "/data"},
		{"to-one wrong type", author, resource.One("comments", "1"), "/data/type"},
		{"nullable null", editor, resource.Null(), ""},
		{"to-many single", comments, resource.One("comments", "1"), "/data"},
		{"to-many missing id", comments, resource.Many(resource.Identifier{Type: "comments", ID: "1"}, resource.Identifier{Type: "comments"}), "/data/1/id"},
		{"lid outside operations", comments, resource.Many(resource.Identifier{Type: "comments", Lid: "x"}), "/data/0/lid"},
		{"to-many ok", comments, resource.Many(resource.Identifier{Type: "comments", ID: "1"}), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := c.CheckRelationshipValue(tt.rel, tt.value, apierror.Pointer{})
			if tt.pointer == "" {
				assert.False(t, errs.HasErrors(), errs.Error())
				return
			}
			require.Equal(t, 1, errs.Len())
			assert.Equal(t, tt.pointer, errs.Errors()[0].Source.String())
		})
	}
}

func TestCheckRelationshipChange(t *testing.T) {
	c := newTestChecker(t)
	decl, _ := c.Declaration("articles")

	errs := c.CheckRelationshipChange(decl, "attachments", RelationshipAdd, resource.Many(), apierror.Pointer{})
	require.Equal(t, 1, errs.Len())
	assert.Contains(t, errs.Errors()[0].Detail, "readonly")

	errs = c.CheckRelationshipChange(decl, "author", RelationshipAdd, resource.One("people", "1"), apierror.Pointer{})
	require.Equal(t, 1, errs.Len())
	assert.Contains(t, errs.Errors()[0].Detail, "to-many")

	errs = c.CheckRelationshipChange(decl, "author", RelationshipUpdate, resource.One("people", "1"), apierror.Pointer{})
	assert.False(t, errs.HasErrors())

	errs = c.CheckRelationshipChange(decl, "missing", RelationshipUpdate, resource.Null(), apierror.Pointer{})
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, "", errs.Errors()[0].Source.String())

	errs = c.CheckRelationshipChange(decl, "comments", RelationshipRemove, resource.Many(resource.Identifier{Type: "people", ID: "1"}), apierror.NewPointer(3))
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, "/3/data/0/type", errs.Errors()[0].Source.String())
}
