package checker

import (
	"fmt"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// CheckResourceFields validates a resource body for creation
func (c *Checker) CheckResourceFields(decl *schema.Declaration, attrs map[string]any, rels map[string]resource.Linkage, ptr apierror.Pointer) *apierror.ErrorSet {
	return c.checkFields(decl, attrs, rels, ptr, true)
}

// CheckResourceFieldsForExisting validates a resource body for an update.
// Unchangeable fields are rejected and required fields may be absent.
func (c *Checker) CheckResourceFieldsForExisting(decl *schema.Declaration, attrs map[string]any, rels map[string]resource.Linkage, ptr apierror.Pointer) *apierror.ErrorSet {
	return c.checkFields(decl, attrs, rels, ptr, false)
}

// checkFields walks the declaration in order, so errors are reported in
// declaration order followed by unknown fields in lexical order.
func (c *Checker) checkFields(decl *schema.Declaration, attrs map[string]any, rels map[string]resource.Linkage, ptr apierror.Pointer, isNew bool) *apierror.ErrorSet {
	errs := apierror.NewErrorSet()

	for _, attr := range decl.Attributes {
		p := ptr.Append("attributes", attr.Name)
		value, present := attrs[attr.Name]
		if !present {
			if isNew && !attr.Optional && attr.Mode != schema.Readonly {
				errs.Add(apierror.Field(p, fmt.Sprintf("attribute %q is required", attr.Name)))
			}
			continue
		}
		if err := checkMode(attr.Name, attr.Mode, isNew, p); err != nil {
			errs.Add(err)
			continue
		}

		collector := schema.NewCollector()
		if !attr.Schema.Is(value, collector) {
			for _, issue := range collector.Issues() {
				errs.Add(apierror.Field(p.Append(issue.Path...), issue.Message))
			}
		}
	}

	for _, rel := range decl.Relationships {
		info := rel.Info()
		p := ptr.Append("relationships", info.Name)
		value, present := rels[info.Name]
		if !present {
			if isNew && !info.Optional && info.Mode != schema.Readonly {
				errs.Add(apierror.Field(p, fmt.Sprintf("relationship %q is required", info.Name)))
			}
			continue
		}
		if err := checkMode(info.Name, info.Mode, isNew, p); err != nil {
			errs.Add(err)
			continue
		}
		errs.Append(c.CheckRelationshipValue(rel, value, p))
	}

	for _, name := range resource.SortedKeys(attrs) {
		if _, ok := decl.Attribute(name); !ok {
			errs.Add(apierror.FieldNotExist(ptr.Append("attributes", name), name))
		}
	}
	for _, name := range resource.SortedKeys(rels) {
		if _, ok := decl.Relationship(name); !ok {
			errs.Add(apierror.FieldNotExist(ptr.Append("relationships", name), name))
		}
	}

	return errs
}

func checkMode(name string, mode schema.Mode, isNew bool, p apierror.Pointer) *apierror.Error {
	switch {
	case mode == schema.Readonly:
		return apierror.Field(p, fmt.Sprintf("field %q is readonly", name))
	case mode == schema.Unchangeable && !isNew:
		return apierror.Field(p, fmt.Sprintf("field %q cannot be changed", name))
	}
	return nil
}

// CheckRelationshipValue validates the shape of a relationship value and the
// types of the identifiers it holds. ptr points at the relationship object.
func (c *Checker) CheckRelationshipValue(rel schema.Relationship, value resource.Linkage, ptr apierror.Pointer) *apierror.ErrorSet {
	errs := apierror.NewErrorSet()
	info := rel.Info()
	data := ptr.Append("data")

	switch rel.(type) {
	case schema.ToMany:
		many, ok := value.(resource.ToMany)
		if !ok {
			return errs.Add(apierror.Field(data, fmt.Sprintf("relationship %q expects a list of identifiers", info.Name)))
		}
		for i, id := range many.Items {
			errs.Add(c.checkIdentifier(info, id, data.Append(i)))
		}

	case schema.NullableToOne:
		one, ok := value.(resource.ToOne)
		if !ok {
			return errs.Add(apierror.Field(data, fmt.Sprintf("relationship %q expects a single identifier or null", info.Name)))
		}
		if one.Ref != nil {
			errs.Add(c.checkIdentifier(info, *one.Ref, data))
		}

	case schema.ToOne:
		one, ok := value.(resource.ToOne)
		if !ok {
			return errs.Add(apierror.Field(data, fmt.Sprintf("relationship %q expects a single identifier", info.Name)))
		}
		if one.Ref == nil {
			return errs.Add(apierror.Field(data, fmt.Sprintf("relationship %q cannot be null", info.Name)))
		}
		errs.Add(c.checkIdentifier(info, *one.Ref, data))
	}

	return errs
}

func (c *Checker) checkIdentifier(info schema.RelationshipInfo, id resource.Identifier, p apierror.Pointer) *apierror.Error {
	if !info.Allows(id.Type) {
		return apierror.Field(p.Append("type"), fmt.Sprintf("type %q is not allowed in relationship %q", id.Type, info.Name))
	}
	if _, ok := c.declarations[id.Type]; !ok {
		return apierror.InvalidResourceType(apierror.PointerSource(p.Append("type")), id.Type)
	}
	if id.ID == "" {
		if id.Lid != "" {
			return apierror.Field(p.Append("lid"), fmt.Sprintf("local id %q can only be used inside operations", id.Lid))
		}
		return apierror.Field(p.Append("id"), "identifier requires an id")
	}
	return nil
}

// RelationshipMethod is a relationship mutation kind
type RelationshipMethod string

const (
	RelationshipAdd    RelationshipMethod = "add-relationships"
	RelationshipUpdate RelationshipMethod = "update-relationship"
	RelationshipRemove RelationshipMethod = "remove-relationships"
)

// CheckRelationshipChange validates a relationship mutation. The relationship
// must exist and be editable, and add and remove need a to-many relationship.
// ptr points at the relationship document holding the new data.
func (c *Checker) CheckRelationshipChange(decl *schema.Declaration, name string, method RelationshipMethod, value resource.Linkage, ptr apierror.Pointer) *apierror.ErrorSet {
	errs := apierror.NewErrorSet()

	rel, ok := decl.Relationship(name)
	if !ok {
		return errs.Add(apierror.FieldNotExist(ptr, name))
	}

	switch {
	case rel.Info().Mode == schema.Readonly:
		return errs.Add(apierror.Field(ptr, fmt.Sprintf("relationship %q is readonly", name)))
	case rel.Info().Mode == schema.Unchangeable:
		return errs.Add(apierror.Field(ptr, fmt.Sprintf("relationship %q cannot be changed", name)))
	case method != RelationshipUpdate && !schema.IsMultiple(rel):
		return errs.Add(apierror.Field(ptr, fmt.Sprintf("%s requires a to-many relationship, %q is to-one", method, name)))
	}

	return errs.Append(c.CheckRelationshipValue(rel, value, ptr))
}
