// Package format renders manager results as JSON:API documents and decodes
// JSON:API request documents into manager inputs.
package format

import (
	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

const (
	// MediaType is the official JSON:API media type
	MediaType = "application/vnd.api+json"
	// AtomicExtension is the media type parameter of the atomic operations extension
	AtomicExtension = `ext="https://jsonapi.org/ext/atomic"`
	// Version is the JSON:API version documents declare
	Version = "1.1"
)

// Identifier is a resource identifier object
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Lid  string `json:"lid,omitempty"`
}

// Links holds the link members of a document, resource or relationship
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Prev    string `json:"prev,omitempty"`
	Next    string `json:"next,omitempty"`
}

// Relationship is a relationship object. Data is an Identifier, a slice of
// identifiers, or nil for an empty to-one relationship.
type Relationship struct {
	Data  any            `json:"data"`
	Links *Links         `json:"links,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Resource is a resource object
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         *Links                  `json:"links,omitempty"`
}

// JSONAPI is the top-level jsonapi member
type JSONAPI struct {
	Version string   `json:"version"`
	Ext     []string `json:"ext,omitempty"`
}

// Document is a top-level document carrying primary data.
// A nil Data renders as null.
type Document struct {
	JSONAPI  JSONAPI        `json:"jsonapi"`
	Data     any            `json:"data"`
	Included []Resource     `json:"included,omitempty"`
	Links    *Links         `json:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// ErrorDocument is a top-level document carrying errors
type ErrorDocument struct {
	JSONAPI JSONAPI           `json:"jsonapi"`
	Errors  []*apierror.Error `json:"errors"`
	Meta    map[string]any    `json:"meta,omitempty"`
}

// AtomicResult is the result of one operation. Data is omitted for removals.
type AtomicResult struct {
	Data any `json:"data,omitempty"`
}

// AtomicDocument is the response document of an operations batch
type AtomicDocument struct {
	JSONAPI JSONAPI        `json:"jsonapi"`
	Results []AtomicResult `json:"atomic:results"`
}

// Formatter renders documents with links built by a query converter
type Formatter struct {
	conv *query.Converter
}

// New creates a formatter
func New(conv *query.Converter) *Formatter {
	return &Formatter{conv: conv}
}

func version() JSONAPI {
	return JSONAPI{Version: Version}
}

// Resource renders one resource with its self and relationship links
func (f *Formatter) Resource(r *resource.Resource) Resource {
	ref := query.Ref{Type: r.Type, ID: r.ID}
	out := Resource{
		Type:       r.Type,
		ID:         r.ID,
		Attributes: r.Attributes,
		Links:      &Links{Self: f.conv.MakePath(ref)},
	}

	if len(r.Relationships) > 0 {
		out.Relationships = make(map[string]Relationship, len(r.Relationships))
		for _, name := range resource.SortedKeys(r.Relationships) {
			rel := query.Ref{Type: r.Type, ID: r.ID, Relationship: name}
			related := rel
			related.Related = true
			out.Relationships[name] = Relationship{
				Data:  Linkage(r.Relationships[name]),
				Links: &Links{Self: f.conv.MakePath(rel), Related: f.conv.MakePath(related)},
				Meta:  countMeta(r.Relationships[name]),
			}
		}
	}
	return out
}

func (f *Formatter) resources(rs []*resource.Resource) []Resource {
	out := make([]Resource, len(rs))
	for i, r := range rs {
		out[i] = f.Resource(r)
	}
	return out
}

// Get renders the result of a get. A missing resource renders as null data.
func (f *Formatter) Get(q *query.Query, v manager.GetValue) Document {
	doc := Document{
		JSONAPI:  version(),
		Included: f.resources(v.Included),
		Links:    &Links{Self: f.conv.Make(q)},
	}
	if v.Resource != nil {
		doc.Data = f.Resource(v.Resource)
	}
	return doc
}

// List renders the result of a list with pagination links
func (f *Formatter) List(q *query.Query, v manager.ListValue) Document {
	return Document{
		JSONAPI:  version(),
		Data:     f.resources(v.Resources.Items),
		Included: f.resources(v.Included),
		Links:    f.pageLinks(q, v.Resources.Total, v.Resources.Limit),
		Meta:     listMeta(v.Resources.Total),
	}
}

// Relationship renders the result of a relationship fetch: the linkage, or
// the related resources when the query selects the related view.
func (f *Formatter) Relationship(q *query.Query, v manager.RelationshipValue) Document {
	doc := Document{
		JSONAPI:  version(),
		Included: f.resources(v.Included),
		Links:    &Links{Self: f.conv.Make(q)},
		Meta:     countMeta(v.Value),
	}

	if !q.Ref.Related {
		doc.Data = Linkage(v.Value)
		related := q.Ref
		related.Related = true
		doc.Links.Related = f.conv.MakePath(related)
		return doc
	}

	if _, many := v.Value.(resource.ToMany); many {
		doc.Data = f.resources(v.Related)
	} else if len(v.Related) > 0 {
		doc.Data = f.Resource(v.Related[0])
	}
	return doc
}

// Mutation renders a single resource returned by add or update
func (f *Formatter) Mutation(r *resource.Resource) Document {
	doc := Document{JSONAPI: version()}
	if r != nil {
		doc.Data = f.Resource(r)
	}
	return doc
}

// RelationshipMutation renders the relationship state after a mutation
func (f *Formatter) RelationshipMutation(v manager.RelationshipResult) Document {
	return Document{JSONAPI: version(), Data: Linkage(v.Value)}
}

// Operations renders the results of an operations batch
func (f *Formatter) Operations(res manager.OperationsResult) AtomicDocument {
	doc := AtomicDocument{
		JSONAPI: JSONAPI{Version: Version, Ext: []string{"https://jsonapi.org/ext/atomic"}},
		Results: make([]AtomicResult, len(res.Results)),
	}
	for i, result := range res.Results {
		switch v := result.(type) {
		case *resource.Resource:
			doc.Results[i] = AtomicResult{Data: f.Resource(v)}
		case manager.RelationshipResult:
			doc.Results[i] = AtomicResult{Data: Linkage(v.Value)}
		}
	}
	return doc
}

// Errors renders an error set
func Errors(set *apierror.ErrorSet) ErrorDocument {
	return ErrorDocument{JSONAPI: version(), Errors: set.Errors()}
}

// OperationsErrors renders a failed batch. meta.completed is the number of
// steps applied before the failing one.
func OperationsErrors(res manager.OperationsResult, set *apierror.ErrorSet) ErrorDocument {
	doc := Errors(set)
	doc.Meta = map[string]any{"completed": res.Completed}
	return doc
}

// Linkage renders the data member of a relationship
func Linkage(l resource.Linkage) any {
	switch v := l.(type) {
	case resource.ToOne:
		if v.Ref == nil {
			return nil
		}
		return identifier(*v.Ref)
	case resource.ToMany:
		out := make([]Identifier, len(v.Items))
		for i, id := range v.Items {
			out[i] = identifier(id)
		}
		return out
	}
	return nil
}

func identifier(id resource.Identifier) Identifier {
	return Identifier{Type: id.Type, ID: id.ID, Lid: id.Lid}
}

func countMeta(l resource.Linkage) map[string]any {
	many, ok := l.(resource.ToMany)
	if !ok || many.Total == nil {
		return nil
	}
	return map[string]any{"total": *many.Total}
}

func listMeta(total *int) map[string]any {
	if total == nil {
		return nil
	}
	return map[string]any{"total": *total}
}
