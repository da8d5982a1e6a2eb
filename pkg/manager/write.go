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

// RelationshipResult is the value of a relationship mutation: the resource id
// and the relationship state after the change.
type RelationshipResult struct {
	ID    string
	Value resource.Linkage
}

// Add creates a resource. ptr points at the resource object in the request
// document and prefixes the pointers of field errors.
func (m *Manager) Add(ctx context.Context, q *query.Query, r *resource.NewResource, ptr apierror.Pointer) (*Response[*resource.Resource], error) {
	return run(m, "add", q.Ref, func(store *events.Store) (*resource.Resource, error) {
		return m.add(ctx, q, r, requestLocation(ptr), store)
	})
}

func (m *Manager) add(ctx context.Context, q *query.Query, r *resource.NewResource, loc location, store *events.Store) (*resource.Resource, error) {
	if q.Ref.Kind() != query.RefList {
		return nil, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "add does not take a resource id"))
	}
	if r.Type != q.Ref.Type {
		return nil, apierror.NewErrorSet(apierror.InvalidResourceType(apierror.PointerSource(loc.body.Append("type")), r.Type))
	}
	if err := m.checker.CheckQuery(checker.MethodAdd, q, loc.src, true).Err(); err != nil {
		return nil, err
	}

	keeper := m.keepers[q.Ref.Type]
	decl := keeper.Declaration()

	if err := m.checker.CheckResourceFields(decl, r.Attributes, r.Relationships, loc.body).Err(); err != nil {
		return nil, err
	}
	errs, err := m.checkRelationshipTargets(ctx, decl, r.Relationships, loc.body)
	if err != nil {
		return nil, err
	}
	if r.ID != "" {
		status, err := m.statusOf(ctx, keeper, r.ID)
		if err != nil {
			return nil, err
		}
		if status.Code != resource.StatusNotFound {
			errs.Add(apierror.Conflict(loc.body.Append("id"), r.Type, r.ID))
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	id, err := keeper.(resource.Adder).Add(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", r.Type, err)
	}

	created, err := m.fetchOne(ctx, r.Type, id)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("added resource %s/%s cannot be fetched", r.Type, id)
	}

	store.Add(events.Add, events.AddPayload{Ref: query.Ref{Type: r.Type, ID: id}, Resource: created})
	store.Add(events.Change, events.ChangePayload{Type: r.Type, ID: id, New: created})
	return created, nil
}

// Update changes the fields present in r
func (m *Manager) Update(ctx context.Context, q *query.Query, r *resource.EditableResource, ptr apierror.Pointer) (*Response[*resource.Resource], error) {
	return run(m, "update", q.Ref, func(store *events.Store) (*resource.Resource, error) {
		return m.update(ctx, q, r, requestLocation(ptr), store)
	})
}

func (m *Manager) update(ctx context.Context, q *query.Query, r *resource.EditableResource, loc location, store *events.Store) (*resource.Resource, error) {
	if q.Ref.Kind() != query.RefSingle {
		return nil, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "update requires a resource id"))
	}

	errs := apierror.NewErrorSet()
	if r.ID != q.Ref.ID {
		errs.Add(apierror.InvalidResourceID(loc.body.Append("id"), q.Ref.ID, r.ID))
	}
	if r.Type != q.Ref.Type {
		errs.Add(apierror.InvalidResourceType(apierror.PointerSource(loc.body.Append("type")), r.Type))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if err := m.checker.CheckQuery(checker.MethodUpdate, q, loc.src, true).Err(); err != nil {
		return nil, err
	}

	keeper := m.keepers[q.Ref.Type]
	decl := keeper.Declaration()

	if err := m.checker.CheckResourceFieldsForExisting(decl, r.Attributes, r.Relationships, loc.body).Err(); err != nil {
		return nil, err
	}
	if err := m.requireExist(ctx, keeper, r.ID, loc.src); err != nil {
		return nil, err
	}
	errs, err := m.checkRelationshipTargets(ctx, decl, r.Relationships, loc.body)
	if err != nil {
		return nil, err
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	old, err := m.fetchOne(ctx, r.Type, r.ID)
	if err != nil {
		return nil, err
	}
	if err := keeper.(resource.Updater).Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", r.Type, r.ID, err)
	}
	updated, err := m.fetchOne(ctx, r.Type, r.ID)
	if err != nil {
		return nil, err
	}

	store.Add(events.Update, events.UpdatePayload{Ref: q.Ref, Old: old, New: updated})
	store.Add(events.Change, events.ChangePayload{Type: r.Type, ID: r.ID, Old: old, New: updated})
	return updated, nil
}

// Remove deletes a resource and returns its id
func (m *Manager) Remove(ctx context.Context, q *query.Query, ptr apierror.Pointer) (*Response[string], error) {
	return run(m, "remove", q.Ref, func(store *events.Store) (string, error) {
		return m.remove(ctx, q, requestLocation(ptr), store)
	})
}

func (m *Manager) remove(ctx context.Context, q *query.Query, loc location, store *events.Store) (string, error) {
	if q.Ref.Kind() != query.RefSingle {
		return "", apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "remove requires a resource id"))
	}
	if err := m.checker.CheckQuery(checker.MethodRemove, q, loc.src, true).Err(); err != nil {
		return "", err
	}

	keeper := m.keepers[q.Ref.Type]
	if err := m.requireExist(ctx, keeper, q.Ref.ID, loc.src); err != nil {
		return "", err
	}

	old, err := m.fetchOne(ctx, q.Ref.Type, q.Ref.ID)
	if err != nil {
		return "", err
	}
	if err := keeper.(resource.Remover).Remove(ctx, q.Ref.ID); err != nil {
		return "", fmt.Errorf("remove %s/%s: %w", q.Ref.Type, q.Ref.ID, err)
	}

	store.Add(events.Remove, events.RemovePayload{Ref: q.Ref, Old: old})
	store.Add(events.Change, events.ChangePayload{Type: q.Ref.Type, ID: q.Ref.ID, Old: old})
	return q.Ref.ID, nil
}

// AddRelationships links more resources to a to-many relationship.
// ptr points at the relationship document.
func (m *Manager) AddRelationships(ctx context.Context, q *query.Query, value resource.ToMany, ptr apierror.Pointer) (*Response[RelationshipResult], error) {
	return run(m, "add-relationships", q.Ref, func(store *events.Store) (RelationshipResult, error) {
		return m.mutateRelationship(ctx, checker.RelationshipAdd, q, value, requestLocation(ptr), store)
	})
}

// UpdateRelationship replaces the value of a relationship
func (m *Manager) UpdateRelationship(ctx context.Context, q *query.Query, value resource.Linkage, ptr apierror.Pointer) (*Response[RelationshipResult], error) {
	return run(m, "update-relationship", q.Ref, func(store *events.Store) (RelationshipResult, error) {
		return m.mutateRelationship(ctx, checker.RelationshipUpdate, q, value, requestLocation(ptr), store)
	})
}

// RemoveRelationships unlinks resources from a to-many relationship.
// Targets that do not exist are ignored.
func (m *Manager) RemoveRelationships(ctx context.Context, q *query.Query, value resource.ToMany, ptr apierror.Pointer) (*Response[RelationshipResult], error) {
	return run(m, "remove-relationships", q.Ref, func(store *events.Store) (RelationshipResult, error) {
		return m.mutateRelationship(ctx, checker.RelationshipRemove, q, value, requestLocation(ptr), store)
	})
}

// mutationEvents maps relationship mutations to their event names
var mutationEvents = map[checker.RelationshipMethod]events.Name{
	checker.RelationshipAdd:    events.AddRelationship,
	checker.RelationshipUpdate: events.UpdateRelationship,
	checker.RelationshipRemove: events.RemoveRelationship,
}

func (m *Manager) mutateRelationship(ctx context.Context, method checker.RelationshipMethod, q *query.Query, value resource.Linkage, loc location, store *events.Store) (RelationshipResult, error) {
	if q.Ref.Kind() != query.RefRelationship {
		return RelationshipResult{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, fmt.Sprintf("%s requires a resource id and a relationship name", method)))
	}
	if err := m.checker.CheckQuery(checker.MethodGet, q, loc.src, false).Err(); err != nil {
		return RelationshipResult{}, err
	}

	keeper := m.keepers[q.Ref.Type]
	decl := keeper.Declaration()
	name := q.Ref.Relationship

	if err := m.checker.CheckRelationshipChange(decl, name, method, value, loc.body).Err(); err != nil {
		return RelationshipResult{}, err
	}
	if err := m.requireExist(ctx, keeper, q.Ref.ID, loc.src); err != nil {
		return RelationshipResult{}, err
	}
	errs, err := m.checkTargets(ctx, value, loc.body.Append("data"), method == checker.RelationshipRemove)
	if err != nil {
		return RelationshipResult{}, err
	}
	if err := errs.Err(); err != nil {
		return RelationshipResult{}, err
	}

	old, err := m.fetchOne(ctx, q.Ref.Type, q.Ref.ID)
	if err != nil {
		return RelationshipResult{}, err
	}

	rk := keeper.Relationships()[name]
	switch method {
	case checker.RelationshipAdd:
		err = rk.(resource.RelationshipAdder).Add(ctx, q.Ref.ID, value.Identifiers())
	case checker.RelationshipUpdate:
		err = rk.(resource.RelationshipUpdater).Update(ctx, q.Ref.ID, value)
	case checker.RelationshipRemove:
		err = rk.(resource.RelationshipRemover).Remove(ctx, q.Ref.ID, value.Identifiers())
	}
	if err != nil {
		return RelationshipResult{}, fmt.Errorf("%s %s/%s.%s: %w", method, q.Ref.Type, q.Ref.ID, name, err)
	}

	updated, err := m.fetchOne(ctx, q.Ref.Type, q.Ref.ID)
	if err != nil {
		return RelationshipResult{}, err
	}
	var current resource.Linkage
	if updated != nil {
		current = updated.Relationships[name]
	}

	store.Add(mutationEvents[method], events.RelationshipChangePayload{Ref: q.Ref, Input: value, Value: current})
	store.Add(events.Change, events.ChangePayload{Type: q.Ref.Type, ID: q.Ref.ID, Old: old, New: updated})
	return RelationshipResult{ID: q.Ref.ID, Value: current}, nil
}

// checkRelationshipTargets status checks every identifier of a resource body's
// relationships, in declaration order. ptr points at the resource object.
func (m *Manager) checkRelationshipTargets(ctx context.Context, decl *schema.Declaration, rels map[string]resource.Linkage, ptr apierror.Pointer) (*apierror.ErrorSet, error) {
	errs := apierror.NewErrorSet()
	for _, rel := range decl.Relationships {
		name := rel.Info().Name
		value, ok := rels[name]
		if !ok {
			continue
		}
		set, err := m.checkTargets(ctx, value, ptr.Append("relationships", name, "data"), false)
		if err != nil {
			return nil, err
		}
		errs.Append(set)
	}
	return errs, nil
}

// checkTargets reports forbidden and (unless ignored) missing identifiers of a
// linkage, in the order they appear. data points at the linkage data member.
func (m *Manager) checkTargets(ctx context.Context, value resource.Linkage, data apierror.Pointer, ignoreNotFound bool) (*apierror.ErrorSet, error) {
	errs := apierror.NewErrorSet()
	ids := value.Identifiers()
	if len(ids) == 0 {
		return errs, nil
	}

	types, groups := resource.GroupByType(ids)
	statuses := make(map[string]resource.Status, len(ids))
	for _, t := range types {
		keeper, ok := m.keepers[t]
		if !ok {
			return nil, fmt.Errorf("no keeper for resource type %q", t)
		}
		byID, err := keeper.Status(ctx, groups[t])
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", t, err)
		}
		for _, id := range groups[t] {
			statuses[resource.Identifier{Type: t, ID: id}.Key()] = statusFor(byID, id)
		}
	}

	_, many := value.(resource.ToMany)
	for i, id := range ids {
		p := data
		if many {
			p = data.Append(i)
		}
		status := statuses[id.Key()]
		switch {
		case status.Code == resource.StatusForbidden:
			errs.Add(apierror.Forbidden(apierror.PointerSource(p), forbiddenDetail(id.Type, id.ID, status)))
		case status.Code == resource.StatusNotFound && !ignoreNotFound:
			errs.Add(apierror.NotFound(apierror.PointerSource(p), fmt.Sprintf("resource %s/%s does not exist", id.Type, id.ID)))
		}
	}
	return errs, nil
}
