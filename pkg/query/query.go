// Package query models JSON:API requests (resource reference plus fields,
// include, filter, sort and page parameters) and converts them to and from URLs.
package query

// RefKind classifies what a Ref addresses
type RefKind int

const (
	// RefList addresses the collection of a type: /articles
	RefList RefKind = iota
	// RefSingle addresses one resource: /articles/1
	RefSingle
	// RefRelationship addresses a relationship of one resource:
	// /articles/1/author (related) or /articles/1/relationships/author (linkage)
	RefRelationship
)

// String returns the string representation of the ref kind
func (k RefKind) String() string {
	switch k {
	case RefList:
		return "list"
	case RefSingle:
		return "single"
	case RefRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// Ref references a collection, a resource or a relationship
type Ref struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	// Related selects the related-resource view instead of the linkage view
	Related bool `json:"related,omitempty"`
}

// Kind returns what the ref addresses
func (r Ref) Kind() RefKind {
	switch {
	case r.ID == "":
		return RefList
	case r.Relationship == "":
		return RefSingle
	default:
		return RefRelationship
	}
}

// Sort is one sort criterion
type Sort struct {
	Field string `json:"field"`
	Asc   bool   `json:"asc"`
}

// Params holds the query parameters of a request.
// A nil Fields map means "all fields"; an empty list for a type means "no fields".
type Params struct {
	Fields  map[string][]string `json:"fields,omitempty"`
	Include [][]string          `json:"include,omitempty"`
	Filter  map[string][]string `json:"filter,omitempty"`
	Sort    []Sort              `json:"sort,omitempty"`
	// Page is opaque and owned by the PageProvider
	Page any `json:"page,omitempty"`
}

// Query is a parsed request
type Query struct {
	Ref    Ref     `json:"ref"`
	Params *Params `json:"params,omitempty"`
}

// MakeDefaultQuery creates a query with empty params
func MakeDefaultQuery(ref Ref) *Query {
	return &Query{Ref: ref, Params: &Params{}}
}

// P returns the params, never nil
func (q *Query) P() *Params {
	if q.Params == nil {
		return &Params{}
	}
	return q.Params
}

// FieldsFor returns the requested fields for a type and whether a selection exists
func (p *Params) FieldsFor(resourceType string) ([]string, bool) {
	if p == nil || p.Fields == nil {
		return nil, false
	}
	fields, ok := p.Fields[resourceType]
	return fields, ok
}
