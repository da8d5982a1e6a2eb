// Package checker validates queries and incoming resource bodies against the
// registered resource declarations. It has no side effects.
package checker

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// Method is a manager method subject to capability checks
type Method string

const (
	MethodGet    Method = "get"
	MethodList   Method = "list"
	MethodAdd    Method = "add"
	MethodUpdate Method = "update"
	MethodRemove Method = "remove"
)

// Checker holds the declarations of every registered resource type.
// Register is not safe for concurrent use; checks are, once registration is done.
type Checker struct {
	declarations map[string]*schema.Declaration
	types        []string
	pages        query.PageProvider
}

// New creates a checker validating page values with the given provider
func New(pages query.PageProvider) *Checker {
	if pages == nil {
		pages = query.NewNumberPages()
	}
	return &Checker{
		declarations: make(map[string]*schema.Declaration),
		pages:        pages,
	}
}

// Register adds a resource declaration
func (c *Checker) Register(decl *schema.Declaration) error {
	if err := decl.Validate(); err != nil {
		return err
	}
	if _, exists := c.declarations[decl.Type]; exists {
		return fmt.Errorf("resource type %q is already registered", decl.Type)
	}
	c.declarations[decl.Type] = decl
	c.types = append(c.types, decl.Type)
	return nil
}

// Declaration returns the declaration of a registered type
func (c *Checker) Declaration(resourceType string) (*schema.Declaration, bool) {
	decl, ok := c.declarations[resourceType]
	return decl, ok
}

// Types returns the registered types in registration order
func (c *Checker) Types() []string {
	return c.types
}

// Allows returns true if the declaration permits the method
func Allows(decl *schema.Declaration, method Method) bool {
	switch method {
	case MethodGet:
		return true
	case MethodList:
		return decl.Listable != nil
	case MethodAdd:
		return decl.Addable
	case MethodUpdate:
		return decl.Updatable
	case MethodRemove:
		return decl.Removable
	default:
		return false
	}
}

// CheckQuery validates a query for a method. All applicable problems are
// reported, except an unknown resource type which stops the check.
// src is the query location for request-level calls and an operation pointer
// inside batches.
func (c *Checker) CheckQuery(method Method, q *query.Query, src apierror.Source, checkMethod bool) *apierror.ErrorSet {
	errs := apierror.NewErrorSet()

	// 1. Resource type
	decl, ok := c.declarations[q.Ref.Type]
	if !ok {
		return errs.Add(apierror.InvalidResourceType(src, q.Ref.Type))
	}

	// 2. Capability
	if checkMethod && !Allows(decl, method) {
		if src.IsPointer() {
			errs.Add(apierror.MethodNotAllowedForType(src.Pointer, string(method), decl.Type))
		} else {
			errs.Add(apierror.MethodNotAllowed(string(method)))
		}
	}

	if q.Ref.Relationship != "" {
		if _, ok := decl.Relationship(q.Ref.Relationship); !ok {
			if src.IsPointer() {
				errs.Add(apierror.FieldNotExist(src.At("relationship").Pointer, q.Ref.Relationship))
			} else {
				errs.Add(apierror.NotFound(src, fmt.Sprintf("relationship %q does not exist on type %q", q.Ref.Relationship, decl.Type)))
			}
		}
	}

	if q.Params == nil {
		return errs
	}
	p := q.Params

	// 3. Sparse fieldsets
	for _, t := range resource.SortedKeys(p.Fields) {
		target, ok := c.declarations[t]
		if !ok {
			errs.Add(apierror.InvalidQueryParameter(apierror.ParamFields, fmt.Sprintf("resource type %q does not exist", t)))
			continue
		}
		for _, field := range p.Fields[t] {
			if !target.HasField(field) {
				errs.Add(apierror.InvalidQueryParameter(apierror.ParamFields, fmt.Sprintf("field %q does not exist on type %q", field, t)))
			}
		}
	}

	// 4. Sort
	if len(p.Sort) > 0 {
		if decl.Listable == nil {
			errs.Add(apierror.InvalidQueryParameter(apierror.ParamSort, fmt.Sprintf("resources of type %q cannot be sorted", decl.Type)))
		} else {
			for _, s := range p.Sort {
				declared, ok := decl.Listable.SortField(s.Field)
				switch {
				case !ok:
					errs.Add(apierror.InvalidQueryParameter(apierror.ParamSort, fmt.Sprintf("cannot sort by %q", s.Field)))
				case s.Asc && declared.Direction == schema.SortDescOnly:
					errs.Add(apierror.InvalidQueryParameter(apierror.ParamSort, fmt.Sprintf("%q can only be sorted in descending order", s.Field)))
				case !s.Asc && declared.Direction == schema.SortAscOnly:
					errs.Add(apierror.InvalidQueryParameter(apierror.ParamSort, fmt.Sprintf("%q can only be sorted in ascending order", s.Field)))
				}
			}
		}
	}

	// 5. Filter
	if len(p.Filter) > 0 {
		if decl.Listable == nil {
			errs.Add(apierror.InvalidQueryParameter(apierror.ParamFilter, fmt.Sprintf("resources of type %q cannot be filtered", decl.Type)))
		} else {
			for _, name := range resource.SortedKeys(p.Filter) {
				declared, ok := decl.Listable.FilterField(name)
				if !ok {
					errs.Add(apierror.InvalidQueryParameter(apierror.ParamFilter, fmt.Sprintf("cannot filter by %q", name)))
					continue
				}
				if len(p.Filter[name]) > 1 && !declared.Multiple {
					errs.Add(apierror.InvalidQueryParameter(apierror.ParamFilter, fmt.Sprintf("filter %q accepts a single value", name)))
				}
			}
		}
	}

	// 6. Include
	for _, path := range p.Include {
		if err := c.checkIncludePath(decl.Type, path); err != nil {
			errs.Add(err)
		}
	}

	// 7. Page
	if p.Page != nil {
		collector := schema.NewCollector()
		if !c.pages.Schema().Is(p.Page, collector) {
			for _, issue := range collector.Issues() {
				errs.Add(apierror.InvalidQueryParameter(apierror.ParamPage, formatIssue("page", issue)))
			}
		}
	}

	return errs
}

// checkIncludePath walks an include path. At each step the candidate types are
// the union of the targets of the named relationship across all current
// candidates.
func (c *Checker) checkIncludePath(resourceType string, path []string) *apierror.Error {
	candidates := []string{resourceType}

	for i, name := range path {
		var next []string
		seen := make(map[string]bool)
		declared := false

		for _, t := range candidates {
			rel, ok := c.declarations[t].Relationship(name)
			if !ok {
				continue
			}
			declared = true
			for _, target := range c.expand(rel.Info().Types) {
				if !seen[target] {
					seen[target] = true
					next = append(next, target)
				}
			}
		}

		dotted := strings.Join(path[:i+1], ".")
		if !declared {
			return apierror.InvalidQueryParameter(apierror.ParamInclude, fmt.Sprintf("relationship %q does not exist (include %q)", name, dotted))
		}
		if len(next) == 0 {
			return apierror.InvalidQueryParameter(apierror.ParamInclude, fmt.Sprintf("include %q leads to no registered resource type", dotted))
		}
		candidates = next
	}

	return nil
}

// expand resolves AnyType and drops unregistered types
func (c *Checker) expand(types []string) []string {
	var out []string
	for _, t := range types {
		if t == schema.AnyType {
			return append([]string(nil), c.types...)
		}
		if _, ok := c.declarations[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// TargetTypes returns the registered types a relationship may point at
func (c *Checker) TargetTypes(rel schema.Relationship) []string {
	return c.expand(rel.Info().Types)
}

func formatIssue(prefix string, issue schema.Issue) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, seg := range issue.Path {
		fmt.Fprintf(&b, "[%v]", seg)
	}
	b.WriteString(" ")
	b.WriteString(issue.Message)
	return b.String()
}
