// Package schema provides resource declarations (attributes, relationships and
// capabilities per resource type) and the opaque value Schema used to validate
// attribute values and filter/page inputs.
package schema

import "fmt"

// AnyType in a relationship's target list means "any registered type"
const AnyType = "*"

// Mode controls how a field may be written
type Mode int

const (
	// Editable fields may be set on create and changed on update
	Editable Mode = iota
	// Unchangeable fields may be set on create only
	Unchangeable
	// Readonly fields are never accepted from clients
	Readonly
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case Editable:
		return "editable"
	case Unchangeable:
		return "unchangeable"
	case Readonly:
		return "readonly"
	default:
		return "unknown"
	}
}

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "editable":
		return Editable, nil
	case "unchangeable":
		return Unchangeable, nil
	case "readonly":
		return Readonly, nil
	default:
		return 0, fmt.Errorf("unknown field mode: %s", s)
	}
}

// Attribute declares one attribute of a resource type
type Attribute struct {
	Name     string
	Mode     Mode
	Optional bool
	Schema   Schema
}

// RelationshipInfo holds what every relationship variant declares
type RelationshipInfo struct {
	Name     string
	Mode     Mode
	Optional bool
	// Types lists the allowed target resource types; AnyType allows every type
	Types []string
}

// Info returns the shared declaration data
func (r RelationshipInfo) Info() RelationshipInfo {
	return r
}

// Allows returns true if resourceType is an allowed target
func (r RelationshipInfo) Allows(resourceType string) bool {
	for _, t := range r.Types {
		if t == AnyType || t == resourceType {
			return true
		}
	}
	return false
}

// Relationship is the tagged variant of a relationship declaration.
// The concrete type is one of ToOne, NullableToOne or ToMany.
type Relationship interface {
	Info() RelationshipInfo
}

// ToOne is a relationship that always points at exactly one resource
type ToOne struct {
	RelationshipInfo
}

// NullableToOne is a relationship that points at one resource or is null
type NullableToOne struct {
	RelationshipInfo
}

// ToMany is a relationship holding a (possibly paged) list of identifiers
type ToMany struct {
	RelationshipInfo
}

// IsMultiple returns true for to-many relationships
func IsMultiple(r Relationship) bool {
	_, ok := r.(ToMany)
	return ok
}

// IsNullable returns true for nullable to-one relationships
func IsNullable(r Relationship) bool {
	_, ok := r.(NullableToOne)
	return ok
}

// SortDirection restricts the directions a sort field supports
type SortDirection int

const (
	// SortBoth allows ascending and descending order
	SortBoth SortDirection = iota
	// SortAscOnly allows ascending order only
	SortAscOnly
	// SortDescOnly allows descending order only
	SortDescOnly
)

// SortField declares a field a list may be sorted by
type SortField struct {
	Name      string
	Direction SortDirection
}

// Transformer converts raw filter values into the keeper-facing filter value
type Transformer func(values []string) (any, error)

// FilterField declares a field a list may be filtered by
type FilterField struct {
	Name     string
	Multiple bool
	// Transform defaults to passing the first value (or all values when Multiple)
	Transform Transformer
}

// Apply runs the declared transformer, or the default one
func (f FilterField) Apply(values []string) (any, error) {
	if f.Transform != nil {
		return f.Transform(values)
	}
	if f.Multiple {
		return values, nil
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

// Listing declares that a resource type can be listed, and how
type Listing struct {
	Filter []FilterField
	Sort   []SortField
}

// FilterField returns the filter declaration with the given name
func (l *Listing) FilterField(name string) (FilterField, bool) {
	for _, f := range l.Filter {
		if f.Name == name {
			return f, true
		}
	}
	return FilterField{}, false
}

// SortField returns the sort declaration with the given name
func (l *Listing) SortField(name string) (SortField, bool) {
	for _, s := range l.Sort {
		if s.Name == name {
			return s, true
		}
	}
	return SortField{}, false
}

// Declaration describes one resource type.
// Attributes and Relationships keep declaration order, which is also the order
// validation errors are reported in.
type Declaration struct {
	Type          string
	Attributes    []Attribute
	Relationships []Relationship
	Addable       bool
	Updatable     bool
	Removable     bool
	// Listable is nil when the type cannot be listed
	Listable *Listing
}

// Attribute returns the attribute with the given name
func (d *Declaration) Attribute(name string) (Attribute, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Relationship returns the relationship with the given name
func (d *Declaration) Relationship(name string) (Relationship, bool) {
	for _, r := range d.Relationships {
		if r.Info().Name == name {
			return r, true
		}
	}
	return nil, false
}

// HasField returns true if name is an attribute or a relationship
func (d *Declaration) HasField(name string) bool {
	if _, ok := d.Attribute(name); ok {
		return true
	}
	_, ok := d.Relationship(name)
	return ok
}

// Validate checks the declaration for structural mistakes
func (d *Declaration) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("resource type name is required")
	}

	seen := make(map[string]bool)
	for _, a := range d.Attributes {
		if a.Name == "" || a.Name == "id" || a.Name == "type" {
			return fmt.Errorf("%s: invalid attribute name %q", d.Type, a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("%s: duplicate field %q", d.Type, a.Name)
		}
		if a.Schema == nil {
			return fmt.Errorf("%s.%s: attribute schema is required", d.Type, a.Name)
		}
		seen[a.Name] = true
	}

	for _, r := range d.Relationships {
		info := r.Info()
		if info.Name == "" || info.Name == "id" || info.Name == "type" {
			return fmt.Errorf("%s: invalid relationship name %q", d.Type, info.Name)
		}
		if seen[info.Name] {
			return fmt.Errorf("%s: duplicate field %q", d.Type, info.Name)
		}
		if len(info.Types) == 0 {
			return fmt.Errorf("%s.%s: relationship needs at least one target type", d.Type, info.Name)
		}
		seen[info.Name] = true
	}

	return nil
}
