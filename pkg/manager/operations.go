package manager

import (
	"context"
	"fmt"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/checker"
	"github.com/conduit-lang/resourcekit/pkg/events"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// OpKind is the kind of one step of an operations batch
type OpKind string

const (
	OpAdd                 OpKind = "add"
	OpUpdate              OpKind = "update"
	OpRemove              OpKind = "remove"
	OpAddRelationships    OpKind = "add-relationships"
	OpUpdateRelationships OpKind = "update-relationships"
	OpRemoveRelationships OpKind = "remove-relationships"
)

// OperationRef addresses the target of a step by id or by a lid declared
// by an earlier add step.
type OperationRef struct {
	Type         string
	ID           string
	Lid          string
	Relationship string
}

// Operation is one step of an operations batch.
// Add steps carry Add, update steps carry Update, relationship steps carry Linkage.
type Operation struct {
	Op      OpKind
	Ref     OperationRef
	Add     *resource.NewResource
	Update  *resource.EditableResource
	Linkage resource.Linkage
}

// OperationsResult holds one result per completed step: a *resource.Resource
// for add and update, the removed id for remove, and a RelationshipResult for
// relationship steps. On failure Completed tells how many steps were applied.
type OperationsResult struct {
	Results   []any
	Completed int
}

// Operations runs a batch of steps sequentially. Local ids are validated before
// any step runs. The first failing step stops the batch; steps already applied
// are not rolled back. ptr points at the operations array.
func (m *Manager) Operations(ctx context.Context, ops []Operation, ptr apierror.Pointer) (*Response[OperationsResult], error) {
	return run(m, "operations", query.Ref{}, func(store *events.Store) (OperationsResult, error) {
		return m.operations(ctx, ops, ptr, store)
	})
}

func (m *Manager) operations(ctx context.Context, ops []Operation, ptr apierror.Pointer, store *events.Store) (OperationsResult, error) {
	result := OperationsResult{Results: []any{}}

	if err := validateOperations(ops, ptr).Err(); err != nil {
		return result, err
	}

	lids := make(map[string]string)
	for i, op := range ops {
		loc := operationLocation(ptr.Append(i))
		op = op.resolve(lids)

		value, err := m.operation(ctx, op, loc, store)
		if err != nil {
			return result, err
		}
		if op.Op == OpAdd && op.Add.Lid != "" {
			lids[op.Add.Lid] = value.(*resource.Resource).ID
		}

		result.Results = append(result.Results, value)
		result.Completed++
	}

	store.Add(events.Operations, events.OperationsPayload{Results: result.Results})
	return result, nil
}

// operation dispatches one resolved step to the single-resource method
func (m *Manager) operation(ctx context.Context, op Operation, loc location, store *events.Store) (any, error) {
	switch op.Op {
	case OpAdd:
		q := query.MakeDefaultQuery(query.Ref{Type: op.refType()})
		return m.add(ctx, q, op.Add, loc, store)

	case OpUpdate:
		q := query.MakeDefaultQuery(query.Ref{Type: op.refType(), ID: op.refID()})
		return m.update(ctx, q, op.Update, loc, store)

	case OpRemove:
		q := query.MakeDefaultQuery(query.Ref{Type: op.Ref.Type, ID: op.Ref.ID})
		return m.remove(ctx, q, loc, store)

	case OpAddRelationships, OpUpdateRelationships, OpRemoveRelationships:
		q := query.MakeDefaultQuery(query.Ref{Type: op.Ref.Type, ID: op.Ref.ID, Relationship: op.Ref.Relationship})
		return m.mutateRelationship(ctx, relationshipMethods[op.Op], q, op.Linkage, loc, store)
	}

	return nil, fmt.Errorf("unknown operation %q", op.Op)
}

var relationshipMethods = map[OpKind]checker.RelationshipMethod{
	OpAddRelationships:    checker.RelationshipAdd,
	OpUpdateRelationships: checker.RelationshipUpdate,
	OpRemoveRelationships: checker.RelationshipRemove,
}

// refType falls back to the body type when the ref omits it
func (op Operation) refType() string {
	if op.Ref.Type != "" {
		return op.Ref.Type
	}
	switch {
	case op.Add != nil:
		return op.Add.Type
	case op.Update != nil:
		return op.Update.Type
	}
	return ""
}

// refID falls back to the body id when the ref omits it
func (op Operation) refID() string {
	if op.Ref.ID != "" || op.Update == nil {
		return op.Ref.ID
	}
	return op.Update.ID
}

// lidDeclaration records the type a lid was declared for
type lidDeclaration struct {
	resourceType string
}

// validateOperations checks the structure of a batch before anything runs.
// Every lid must be declared by an earlier add step, once, for the type it is
// used with. The check never touches storage.
func validateOperations(ops []Operation, ptr apierror.Pointer) *apierror.ErrorSet {
	errs := apierror.NewErrorSet()
	declared := make(map[string]lidDeclaration)

	for i, op := range ops {
		p := ptr.Append(i)

		if err := checkShape(op, p); err != nil {
			return errs.Add(err)
		}

		for _, ref := range op.lidRefs(p) {
			decl, ok := declared[ref.lid]
			if !ok || (ref.resourceType != "" && decl.resourceType != ref.resourceType) {
				return errs.Add(apierror.InvalidResourceLid(ref.pointer, ref.lid))
			}
		}

		if op.Op == OpAdd && op.Add.Lid != "" {
			if _, exists := declared[op.Add.Lid]; exists {
				return errs.Add(apierror.InvalidResourceLid(p.Append("data", "lid"), op.Add.Lid))
			}
			declared[op.Add.Lid] = lidDeclaration{resourceType: op.refType()}
		}
	}

	return errs
}

// checkShape verifies a step carries what its kind needs
func checkShape(op Operation, p apierror.Pointer) *apierror.Error {
	switch op.Op {
	case OpAdd:
		if op.Add == nil {
			return apierror.Field(p.Append("data"), "add requires a resource")
		}
	case OpUpdate:
		if op.Update == nil {
			return apierror.Field(p.Append("data"), "update requires a resource")
		}
		if op.refID() == "" && op.Ref.Lid == "" && op.Update.Lid == "" {
			return apierror.Field(p.Append("ref", "id"), "update requires an id or a lid")
		}
	case OpRemove:
		if op.Ref.ID == "" && op.Ref.Lid == "" {
			return apierror.Field(p.Append("ref", "id"), "remove requires an id or a lid")
		}
	case OpAddRelationships, OpUpdateRelationships, OpRemoveRelationships:
		if op.Ref.Relationship == "" {
			return apierror.Field(p.Append("ref", "relationship"), fmt.Sprintf("%s requires a relationship", op.Op))
		}
		if op.Ref.ID == "" && op.Ref.Lid == "" {
			return apierror.Field(p.Append("ref", "id"), fmt.Sprintf("%s requires an id or a lid", op.Op))
		}
		if op.Linkage == nil {
			return apierror.Field(p.Append("data"), fmt.Sprintf("%s requires data", op.Op))
		}
	default:
		return apierror.Field(p.Append("op"), fmt.Sprintf("unknown operation %q", op.Op))
	}
	return nil
}

// lidRef is one use of a lid inside a step
type lidRef struct {
	lid          string
	resourceType string
	pointer      apierror.Pointer
}

// lidRefs lists every lid a step refers to, excluding the lid an add declares
func (op Operation) lidRefs(p apierror.Pointer) []lidRef {
	var refs []lidRef
	if op.Ref.Lid != "" {
		refs = append(refs, lidRef{lid: op.Ref.Lid, resourceType: op.Ref.Type, pointer: p.Append("ref", "lid")})
	}

	data := p.Append("data")
	switch {
	case op.Add != nil && op.Op == OpAdd:
		refs = append(refs, relationshipLidRefs(op.Add.Relationships, data)...)
	case op.Update != nil && op.Op == OpUpdate:
		if op.Update.Lid != "" {
			refs = append(refs, lidRef{lid: op.Update.Lid, resourceType: op.Update.Type, pointer: data.Append("lid")})
		}
		refs = append(refs, relationshipLidRefs(op.Update.Relationships, data)...)
	case op.Linkage != nil:
		refs = append(refs, linkageLidRefs(op.Linkage, data)...)
	}
	return refs
}

func relationshipLidRefs(rels map[string]resource.Linkage, data apierror.Pointer) []lidRef {
	var refs []lidRef
	for _, name := range resource.SortedKeys(rels) {
		refs = append(refs, linkageLidRefs(rels[name], data.Append("relationships", name, "data"))...)
	}
	return refs
}

func linkageLidRefs(value resource.Linkage, data apierror.Pointer) []lidRef {
	if value == nil {
		return nil
	}
	_, many := value.(resource.ToMany)
	var refs []lidRef
	for i, id := range value.Identifiers() {
		if id.Lid == "" || id.ID != "" {
			continue
		}
		p := data
		if many {
			p = data.Append(i)
		}
		refs = append(refs, lidRef{lid: id.Lid, resourceType: id.Type, pointer: p.Append("lid")})
	}
	return refs
}

// resolve returns a copy of the step with every known lid replaced by its id.
// The caller's step is left untouched.
func (op Operation) resolve(lids map[string]string) Operation {
	out := op

	if out.Ref.ID == "" && out.Ref.Lid != "" {
		out.Ref.ID = lids[out.Ref.Lid]
	}

	if op.Add != nil {
		add := *op.Add
		add.Relationships = resolveRelationships(op.Add.Relationships, lids)
		out.Add = &add
	}

	if op.Update != nil {
		update := *op.Update
		if update.ID == "" && update.Lid != "" {
			update.ID = lids[update.Lid]
		}
		if update.ID == "" {
			update.ID = out.Ref.ID
		}
		update.Relationships = resolveRelationships(op.Update.Relationships, lids)
		out.Update = &update
	}

	if op.Linkage != nil {
		out.Linkage = resolveLinkage(op.Linkage, lids)
	}

	return out
}

func resolveRelationships(rels map[string]resource.Linkage, lids map[string]string) map[string]resource.Linkage {
	if rels == nil {
		return nil
	}
	out := make(map[string]resource.Linkage, len(rels))
	for name, value := range rels {
		out[name] = resolveLinkage(value, lids)
	}
	return out
}

func resolveLinkage(value resource.Linkage, lids map[string]string) resource.Linkage {
	resolveID := func(id resource.Identifier) resource.Identifier {
		if id.ID == "" && id.Lid != "" {
			id.ID = lids[id.Lid]
		}
		return id
	}

	switch v := value.(type) {
	case resource.ToOne:
		if v.Ref == nil {
			return v
		}
		id := resolveID(*v.Ref)
		return resource.ToOne{Ref: &id}
	case resource.ToMany:
		items := make([]resource.Identifier, len(v.Items))
		for i, id := range v.Items {
			items[i] = resolveID(id)
		}
		out := v
		out.Items = items
		return out
	}
	return value
}
