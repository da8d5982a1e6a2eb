package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResource_Select(t *testing.T) {
	r := &Resource{
		Type:          "articles",
		ID:            "1",
		Attributes:    map[string]any{"title": "Go", "body": "..."},
		Relationships: map[string]Linkage{"author": One("people", "9")},
	}

	all := r.Select(nil)
	assert.Equal(t, r.Attributes, all.Attributes)
	assert.Len(t, all.Relationships, 1)

	some := r.Select([]string{"title", "author"})
	assert.Equal(t, map[string]any{"title": "Go"}, some.Attributes)
	assert.Equal(t, One("people", "9"), some.Relationships["author"])

	none := r.Select([]string{})
	assert.Empty(t, none.Attributes)
	assert.Empty(t, none.Relationships)
	assert.Equal(t, "1", none.ID)
}

func TestLinkage_Identifiers(t *testing.T) {
	assert.Nil(t, Null().Identifiers())
	assert.Equal(t, []Identifier{{Type: "people", ID: "9"}}, One("people", "9").Identifiers())

	many := Many(Identifier{Type: "tags", ID: "1"}, Identifier{Type: "tags", ID: "2"})
	assert.Len(t, many.Identifiers(), 2)
	assert.NotNil(t, Many().Items)
}

func TestGroupByType(t *testing.T) {
	types, groups := GroupByType([]Identifier{
		{Type: "people", ID: "1"},
		{Type: "bots", ID: "7"},
		{Type: "people", ID: "2"},
		{Type: "people", ID: "1"},
	})

	assert.Equal(t, []string{"people", "bots"}, types)
	assert.Equal(t, []string{"1", "2"}, groups["people"])
	assert.Equal(t, []string{"7"}, groups["bots"])
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "exist", Exist().Code.String())
	assert.Equal(t, "not-found", NotFound().Code.String())
	s := Forbidden("private")
	assert.Equal(t, StatusForbidden, s.Code)
	assert.Equal(t, "private", s.Reason)
}
