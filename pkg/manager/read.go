package manager

import (
	"context"
	"fmt"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/checker"
	"github.com/conduit-lang/resourcekit/pkg/events"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// GetValue is the value of a successful Get.
// Resource is nil when the resource does not exist.
type GetValue struct {
	Resource *resource.Resource
	Included []*resource.Resource
}

// ListValue is the value of a successful List
type ListValue struct {
	Resources resource.DataList[*resource.Resource]
	Included  []*resource.Resource
}

// RelationshipValue is the value of a successful Relationship.
// Related holds the target resources when the query selects the related view.
type RelationshipValue struct {
	Value    resource.Linkage
	Related  []*resource.Resource
	Included []*resource.Resource
}

// Get fetches one resource and its includes
func (m *Manager) Get(ctx context.Context, q *query.Query) (*Response[GetValue], error) {
	return run(m, "get", q.Ref, func(store *events.Store) (GetValue, error) {
		value, err := m.get(ctx, q)
		if err != nil {
			return value, err
		}
		store.Add(events.Get, events.GetPayload{Query: q, Resource: value.Resource, Included: value.Included})
		return value, nil
	})
}

func (m *Manager) get(ctx context.Context, q *query.Query) (GetValue, error) {
	if q.Ref.Kind() != query.RefSingle {
		return GetValue{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "get requires a resource id"))
	}
	if err := m.checker.CheckQuery(checker.MethodGet, q, apierror.QuerySource(), false).Err(); err != nil {
		return GetValue{}, err
	}

	keeper := m.keepers[q.Ref.Type]
	status, err := m.statusOf(ctx, keeper, q.Ref.ID)
	if err != nil {
		return GetValue{}, err
	}
	switch status.Code {
	case resource.StatusNotFound:
		return GetValue{Included: []*resource.Resource{}}, nil
	case resource.StatusForbidden:
		return GetValue{}, apierror.NewErrorSet(apierror.Forbidden(apierror.QuerySource(), forbiddenDetail(q.Ref.Type, q.Ref.ID, status)))
	}

	params := q.P()
	fetched, err := m.fetch(ctx, q.Ref.Type, []string{q.Ref.ID}, params, includeHeads(params))
	if err != nil {
		return GetValue{}, err
	}
	if len(fetched) == 0 {
		return GetValue{Included: []*resource.Resource{}}, nil
	}

	included, err := m.resolveIncludes(ctx, fetched, nil, params)
	if err != nil {
		return GetValue{}, err
	}

	return GetValue{Resource: selectFields(fetched[0], params), Included: included}, nil
}

// List lists resources of a type with filter, sort, page and includes
func (m *Manager) List(ctx context.Context, q *query.Query) (*Response[ListValue], error) {
	return run(m, "list", q.Ref, func(store *events.Store) (ListValue, error) {
		value, err := m.list(ctx, q)
		if err != nil {
			return value, err
		}
		store.Add(events.List, events.ListPayload{Query: q, Resources: value.Resources, Included: value.Included})
		return value, nil
	})
}

func (m *Manager) list(ctx context.Context, q *query.Query) (ListValue, error) {
	if q.Ref.Kind() != query.RefList {
		return ListValue{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "list does not take a resource id"))
	}
	if err := m.checker.CheckQuery(checker.MethodList, q, apierror.QuerySource(), true).Err(); err != nil {
		return ListValue{}, err
	}

	keeper := m.keepers[q.Ref.Type]
	decl := keeper.Declaration()
	params := q.P()

	// Run every raw filter value through its transformer
	filter := make(map[string]any, len(params.Filter))
	errs := apierror.NewErrorSet()
	for _, name := range resource.SortedKeys(params.Filter) {
		field, _ := decl.Listable.FilterField(name)
		value, err := field.Apply(params.Filter[name])
		if err != nil {
			errs.Add(apierror.InvalidQueryParameter(apierror.ParamFilter, fmt.Sprintf("filter %q: %v", name, err)))
			continue
		}
		filter[name] = value
	}
	if err := errs.Err(); err != nil {
		return ListValue{}, err
	}

	list, err := keeper.(resource.Lister).List(ctx, resource.ListOptions{
		Filter: filter,
		Page:   params.Page,
		Sort:   params.Sort,
	})
	if err != nil {
		return ListValue{}, fmt.Errorf("list %s: %w", q.Ref.Type, err)
	}

	_, rels := loadPlan(decl, params, includeHeads(params))
	if err := m.loadRelationships(ctx, keeper, list.Items, rels, params.Page); err != nil {
		return ListValue{}, err
	}

	included, err := m.resolveIncludes(ctx, list.Items, nil, params)
	if err != nil {
		return ListValue{}, err
	}

	selected := make([]*resource.Resource, len(list.Items))
	for i, r := range list.Items {
		selected[i] = selectFields(r, params)
	}
	list.Items = selected

	return ListValue{Resources: list, Included: included}, nil
}

// Relationship fetches one relationship of a resource. With a related ref the
// target resources are returned as well.
func (m *Manager) Relationship(ctx context.Context, q *query.Query) (*Response[RelationshipValue], error) {
	return run(m, "relationship", q.Ref, func(store *events.Store) (RelationshipValue, error) {
		value, err := m.relationship(ctx, q)
		if err != nil {
			return value, err
		}
		store.Add(events.Relationship, events.RelationshipPayload{Query: q, Value: value.Value, Included: value.Included})
		return value, nil
	})
}

func (m *Manager) relationship(ctx context.Context, q *query.Query) (RelationshipValue, error) {
	if q.Ref.Kind() != query.RefRelationship {
		return RelationshipValue{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "relationship requires a resource id and a relationship name"))
	}
	if err := m.checker.CheckQuery(checker.MethodGet, q, apierror.QuerySource(), false).Err(); err != nil {
		return RelationshipValue{}, err
	}

	keeper := m.keepers[q.Ref.Type]
	if err := m.requireExist(ctx, keeper, q.Ref.ID, apierror.QuerySource()); err != nil {
		return RelationshipValue{}, err
	}

	params := q.P()
	rel, _ := keeper.Declaration().Relationship(q.Ref.Relationship)
	linkage, err := m.loadRelationship(ctx, keeper, rel, q.Ref.ID, params.Page)
	if err != nil {
		return RelationshipValue{}, err
	}

	// The linkage is merged into a resource so includes can start from it
	synthetic := &resource.Resource{
		Type:          q.Ref.Type,
		ID:            q.Ref.ID,
		Attributes:    map[string]any{},
		Relationships: map[string]resource.Linkage{q.Ref.Relationship: linkage},
	}

	value := RelationshipValue{Value: linkage}
	if q.Ref.Related {
		related, err := m.fetchTargets(ctx, linkage.Identifiers(), params, nil, apierror.QuerySource())
		if err != nil {
			return RelationshipValue{}, err
		}
		value.Related = make([]*resource.Resource, len(related))
		for i, r := range related {
			value.Related[i] = selectFields(r, params)
		}
	}

	value.Included, err = m.resolveIncludes(ctx, []*resource.Resource{synthetic}, value.Related, params)
	if err != nil {
		return RelationshipValue{}, err
	}
	return value, nil
}

// includeSet collects included resources in first-discovery order
type includeSet struct {
	seen  map[string]bool
	items []*resource.Resource
}

func newIncludeSet(exclude ...[]*resource.Resource) *includeSet {
	set := &includeSet{seen: make(map[string]bool)}
	for _, list := range exclude {
		for _, r := range list {
			set.seen[r.Identifier().Key()] = true
		}
	}
	return set
}

func (s *includeSet) add(r *resource.Resource) {
	key := r.Identifier().Key()
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.items = append(s.items, r)
}

// resolveIncludes resolves every include path from the main resources. Main
// and primary resources never appear in the result.
func (m *Manager) resolveIncludes(ctx context.Context, mains, primary []*resource.Resource, params *query.Params) ([]*resource.Resource, error) {
	set := newIncludeSet(mains, primary)
	for _, path := range params.Include {
		if err := m.listIncludes(ctx, path, mains, params, set); err != nil {
			return nil, err
		}
	}

	out := make([]*resource.Resource, len(set.items))
	for i, r := range set.items {
		out[i] = selectFields(r, params)
	}
	return out, nil
}

// listIncludes resolves one include path, recursing on its tail with the
// resources fetched for its head.
func (m *Manager) listIncludes(ctx context.Context, path []string, mains []*resource.Resource, params *query.Params, set *includeSet) error {
	if len(path) == 0 || len(mains) == 0 {
		return nil
	}
	name, rest := path[0], path[1:]

	var ids []resource.Identifier
	declared := false
	for _, r := range mains {
		decl := m.keepers[r.Type].Declaration()
		if _, ok := decl.Relationship(name); !ok {
			continue
		}
		declared = true
		if linkage := r.Relationships[name]; linkage != nil {
			ids = append(ids, linkage.Identifiers()...)
		}
	}
	if !declared {
		return apierror.NewErrorSet(apierror.InvalidQueryParameter(apierror.ParamInclude, fmt.Sprintf("relationship %q does not exist on type %q", name, mains[0].Type)))
	}

	var needed []string
	if len(rest) > 0 {
		needed = rest[:1]
	}
	fetched, err := m.fetchTargets(ctx, ids, params, needed, apierror.ParameterSource(apierror.ParamInclude))
	if err != nil {
		return err
	}
	for _, r := range fetched {
		set.add(r)
	}

	return m.listIncludes(ctx, rest, fetched, params, set)
}

// fetchTargets fetches the resources behind a list of identifiers, one type
// group at a time in discovery order. Every id of a group is status checked
// before the group is fetched; forbidden and missing ids fail the whole call.
func (m *Manager) fetchTargets(ctx context.Context, ids []resource.Identifier, params *query.Params, needed []string, src apierror.Source) ([]*resource.Resource, error) {
	types, groups := resource.GroupByType(ids)

	var out []*resource.Resource
	for _, t := range types {
		keeper, ok := m.keepers[t]
		if !ok {
			return nil, fmt.Errorf("no keeper for resource type %q", t)
		}
		statuses, err := keeper.Status(ctx, groups[t])
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", t, err)
		}

		errs := apierror.NewErrorSet()
		for _, id := range groups[t] {
			status := statusFor(statuses, id)
			switch status.Code {
			case resource.StatusForbidden:
				errs.Add(apierror.Forbidden(src, forbiddenDetail(t, id, status)))
			case resource.StatusNotFound:
				errs.Add(apierror.NotFound(src, fmt.Sprintf("resource %s/%s does not exist", t, id)))
			}
		}
		if err := errs.Err(); err != nil {
			return nil, err
		}

		fetched, err := m.fetch(ctx, t, groups[t], params, needed)
		if err != nil {
			return nil, err
		}
		out = append(out, fetched...)
	}
	return out, nil
}

// fetch loads resources of one type with the attributes selected by params and
// the relationships that are selected or needed to continue an include path.
// Results follow the order of ids; ids the keeper does not return are skipped.
func (m *Manager) fetch(ctx context.Context, resourceType string, ids []string, params *query.Params, needed []string) ([]*resource.Resource, error) {
	keeper := m.keepers[resourceType]
	attrs, rels := loadPlan(keeper.Declaration(), params, needed)

	var page any
	if params != nil {
		page = params.Page
	}
	resources, err := keeper.Get(ctx, ids, resource.GetOptions{Fields: attrs, Page: page})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", resourceType, err)
	}
	resources = orderByIDs(resources, ids)

	if err := m.loadRelationships(ctx, keeper, resources, rels, page); err != nil {
		return nil, err
	}
	return resources, nil
}

// fetchOne loads every field of one resource, or nil if it is gone
func (m *Manager) fetchOne(ctx context.Context, resourceType, id string) (*resource.Resource, error) {
	fetched, err := m.fetch(ctx, resourceType, []string{id}, nil, nil)
	if err != nil || len(fetched) == 0 {
		return nil, err
	}
	return fetched[0], nil
}

// loadRelationships fills the named relationships of the resources
func (m *Manager) loadRelationships(ctx context.Context, keeper resource.Keeper, resources []*resource.Resource, names []string, page any) error {
	if len(resources) == 0 || len(names) == 0 {
		return nil
	}

	ids := make([]string, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
		if r.Relationships == nil {
			r.Relationships = make(map[string]resource.Linkage)
		}
	}

	decl := keeper.Declaration()
	for _, name := range names {
		rel, _ := decl.Relationship(name)
		values, err := keeper.Relationships()[name].Get(ctx, ids, page)
		if err != nil {
			return fmt.Errorf("get %s.%s: %w", decl.Type, name, err)
		}
		for _, r := range resources {
			value, ok := values[r.ID]
			if !ok || value == nil {
				value = emptyLinkage(rel)
			}
			r.Relationships[name] = value
		}
	}
	return nil
}

// loadRelationship fetches one relationship value of one resource
func (m *Manager) loadRelationship(ctx context.Context, keeper resource.Keeper, rel schema.Relationship, id string, page any) (resource.Linkage, error) {
	name := rel.Info().Name
	values, err := keeper.Relationships()[name].Get(ctx, []string{id}, page)
	if err != nil {
		return nil, fmt.Errorf("get %s.%s: %w", keeper.Declaration().Type, name, err)
	}
	if value, ok := values[id]; ok && value != nil {
		return value, nil
	}
	return emptyLinkage(rel), nil
}

// loadPlan decides which attributes and relationships to load. Without a
// fieldset everything is loaded and attrs is nil.
func loadPlan(decl *schema.Declaration, params *query.Params, needed []string) (attrs, rels []string) {
	fields, selected := params.FieldsFor(decl.Type)
	if !selected {
		for _, r := range decl.Relationships {
			rels = append(rels, r.Info().Name)
		}
		return nil, rels
	}

	wanted := make(map[string]bool, len(fields)+len(needed))
	for _, f := range fields {
		wanted[f] = true
	}
	for _, n := range needed {
		wanted[n] = true
	}

	attrs = []string{}
	for _, a := range decl.Attributes {
		if wanted[a.Name] {
			attrs = append(attrs, a.Name)
		}
	}
	for _, r := range decl.Relationships {
		if wanted[r.Info().Name] {
			rels = append(rels, r.Info().Name)
		}
	}
	return attrs, rels
}

// includeHeads returns the first segment of every include path
func includeHeads(params *query.Params) []string {
	heads := make([]string, 0, len(params.Include))
	for _, path := range params.Include {
		if len(path) > 0 {
			heads = append(heads, path[0])
		}
	}
	return heads
}

// selectFields applies the fieldset of the resource's type
func selectFields(r *resource.Resource, params *query.Params) *resource.Resource {
	fields, ok := params.FieldsFor(r.Type)
	if !ok {
		return r.Select(nil)
	}
	return r.Select(fields)
}

func orderByIDs(resources []*resource.Resource, ids []string) []*resource.Resource {
	byID := make(map[string]*resource.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	out := make([]*resource.Resource, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func emptyLinkage(rel schema.Relationship) resource.Linkage {
	if schema.IsMultiple(rel) {
		return resource.Many()
	}
	return resource.Null()
}

// statusOf returns the status of one id
func (m *Manager) statusOf(ctx context.Context, keeper resource.Keeper, id string) (resource.Status, error) {
	statuses, err := keeper.Status(ctx, []string{id})
	if err != nil {
		return resource.Status{}, fmt.Errorf("status %s/%s: %w", keeper.Declaration().Type, id, err)
	}
	return statusFor(statuses, id), nil
}

// requireExist fails unless the resource exists and is accessible
func (m *Manager) requireExist(ctx context.Context, keeper resource.Keeper, id string, src apierror.Source) error {
	status, err := m.statusOf(ctx, keeper, id)
	if err != nil {
		return err
	}
	resourceType := keeper.Declaration().Type
	switch status.Code {
	case resource.StatusNotFound:
		return apierror.NewErrorSet(apierror.NotFound(src, fmt.Sprintf("resource %s/%s does not exist", resourceType, id)))
	case resource.StatusForbidden:
		return apierror.NewErrorSet(apierror.Forbidden(src, forbiddenDetail(resourceType, id, status)))
	}
	return nil
}

// statusFor treats ids missing from a status map as not found
func statusFor(statuses map[string]resource.Status, id string) resource.Status {
	if status, ok := statuses[id]; ok {
		return status
	}
	return resource.NotFound()
}

func forbiddenDetail(resourceType, id string, status resource.Status) string {
	if status.Reason != "" {
		return fmt.Sprintf("access to resource %s/%s is forbidden: %s", resourceType, id, status.Reason)
	}
	return fmt.Sprintf("access to resource %s/%s is forbidden", resourceType, id)
}
