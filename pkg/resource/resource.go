// Package resource defines the runtime data model (resources, identifiers,
// relationship linkage, paged lists, per-id status) and the Resource Keeper
// contract that storage adapters implement.
package resource

import "sort"

// Identifier is a typed reference to a resource.
// Lid is only meaningful inside an operations batch, before the real id exists.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Lid  string `json:"lid,omitempty"`
}

// Key returns a "type/id" key suitable for deduplication
func (i Identifier) Key() string {
	return i.Type + "/" + i.ID
}

// DataList is a paged collection. A nil Total means the count is unknown.
type DataList[V any] struct {
	Items  []V
	Total  *int
	Limit  *int
	Offset *int
}

// Linkage is the value of one relationship.
// The concrete type is ToOne or ToMany.
type Linkage interface {
	// Identifiers returns every identifier held by the linkage
	Identifiers() []Identifier
	isLinkage()
}

// ToOne is a single-resource linkage; a nil Ref is a null linkage
type ToOne struct {
	Ref *Identifier
}

// Identifiers returns the referenced identifier, if any
func (l ToOne) Identifiers() []Identifier {
	if l.Ref == nil {
		return nil
	}
	return []Identifier{*l.Ref}
}

func (ToOne) isLinkage() {}

// ToMany is a paged list of identifiers
type ToMany struct {
	DataList[Identifier]
}

// Identifiers returns the listed identifiers
func (l ToMany) Identifiers() []Identifier {
	return l.Items
}

func (ToMany) isLinkage() {}

// One creates a to-one linkage
func One(resourceType, id string) ToOne {
	return ToOne{Ref: &Identifier{Type: resourceType, ID: id}}
}

// Null creates a null to-one linkage
func Null() ToOne {
	return ToOne{}
}

// Many creates an unpaged to-many linkage
func Many(ids ...Identifier) ToMany {
	if ids == nil {
		ids = []Identifier{}
	}
	return ToMany{DataList: DataList[Identifier]{Items: ids}}
}

// Resource is a typed, identified record
type Resource struct {
	Type          string
	ID            string
	Attributes    map[string]any
	Relationships map[string]Linkage
}

// Identifier returns the resource's identifier
func (r *Resource) Identifier() Identifier {
	return Identifier{Type: r.Type, ID: r.ID}
}

// Select returns a copy holding only the named fields.
// A nil fields slice selects everything.
func (r *Resource) Select(fields []string) *Resource {
	out := &Resource{
		Type:          r.Type,
		ID:            r.ID,
		Attributes:    make(map[string]any),
		Relationships: make(map[string]Linkage),
	}
	if fields == nil {
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
		for k, v := range r.Relationships {
			out.Relationships[k] = v
		}
		return out
	}
	for _, name := range fields {
		if v, ok := r.Attributes[name]; ok {
			out.Attributes[name] = v
		}
		if v, ok := r.Relationships[name]; ok {
			out.Relationships[name] = v
		}
	}
	return out
}

// NewResource is the body of a create request
type NewResource struct {
	Type string
	// ID is set when the client generates ids
	ID            string
	Lid           string
	Attributes    map[string]any
	Relationships map[string]Linkage
}

// EditableResource is the body of an update request.
// Only the fields present are changed.
type EditableResource struct {
	Type string
	ID   string
	// Lid may replace ID inside an operations batch
	Lid           string
	Attributes    map[string]any
	Relationships map[string]Linkage
}

// StatusCode classifies a resource id for the current caller
type StatusCode int

const (
	// StatusExist means the resource exists and may be accessed
	StatusExist StatusCode = iota
	// StatusNotFound means the resource does not exist
	StatusNotFound
	// StatusForbidden means the resource exists but the caller may not access it
	StatusForbidden
)

// String returns the string representation of the status code
func (c StatusCode) String() string {
	switch c {
	case StatusExist:
		return "exist"
	case StatusNotFound:
		return "not-found"
	case StatusForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Status is the per-id classification returned by a keeper
type Status struct {
	Code   StatusCode
	Reason string
}

// Exist returns the exist status
func Exist() Status { return Status{Code: StatusExist} }

// NotFound returns the not-found status
func NotFound() Status { return Status{Code: StatusNotFound} }

// Forbidden returns the forbidden status with an optional reason
func Forbidden(reason string) Status { return Status{Code: StatusForbidden, Reason: reason} }

// GroupByType groups identifiers by type, keeping first-discovery order of
// types and ids and dropping duplicates.
func GroupByType(ids []Identifier) (types []string, groups map[string][]string) {
	groups = make(map[string][]string)
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id.Key()] {
			continue
		}
		seen[id.Key()] = true
		if _, ok := groups[id.Type]; !ok {
			types = append(types, id.Type)
		}
		groups[id.Type] = append(groups[id.Type], id.ID)
	}
	return types, groups
}

// SortedKeys returns the keys of a field map in lexical order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
