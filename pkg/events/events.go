// Package events describes what the resource manager did during a call.
// Every manager call fills a Store with ordered events; the caller decides
// whether to dispatch them to the Bus subscribers by calling Store.Emit.
package events

import (
	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// Name identifies an event kind
type Name string

const (
	Get                Name = "get"
	List               Name = "list"
	Relationship       Name = "relationship"
	Add                Name = "add"
	Update             Name = "update"
	Remove             Name = "remove"
	Change             Name = "change"
	AddRelationship    Name = "add-relationship"
	UpdateRelationship Name = "update-relationship"
	RemoveRelationship Name = "remove-relationship"
	Operations         Name = "operations"
	Error              Name = "error"
)

// Names lists every event name in a stable order
var Names = []Name{
	Get, List, Relationship, Add, Update, Remove, Change,
	AddRelationship, UpdateRelationship, RemoveRelationship, Operations, Error,
}

// Event is one record of the event log
type Event struct {
	Name    Name
	Payload any
}

// GetPayload is carried by Get events
type GetPayload struct {
	Query    *query.Query
	Resource *resource.Resource
	Included []*resource.Resource
}

// ListPayload is carried by List events
type ListPayload struct {
	Query     *query.Query
	Resources resource.DataList[*resource.Resource]
	Included  []*resource.Resource
}

// RelationshipPayload is carried by Relationship events
type RelationshipPayload struct {
	Query    *query.Query
	Value    resource.Linkage
	Included []*resource.Resource
}

// AddPayload is carried by Add events
type AddPayload struct {
	Ref      query.Ref
	Resource *resource.Resource
}

// UpdatePayload is carried by Update events
type UpdatePayload struct {
	Ref query.Ref
	Old *resource.Resource
	New *resource.Resource
}

// RemovePayload is carried by Remove events
type RemovePayload struct {
	Ref query.Ref
	Old *resource.Resource
}

// ChangePayload is carried by Change events. Old is nil for additions and
// New is nil for removals.
type ChangePayload struct {
	Type string
	ID   string
	Old  *resource.Resource
	New  *resource.Resource
}

// RelationshipChangePayload is carried by the three relationship mutation events
type RelationshipChangePayload struct {
	Ref query.Ref
	// Input is the linkage sent by the client
	Input resource.Linkage
	// Value is the relationship state after the mutation
	Value resource.Linkage
}

// OperationsPayload is carried by Operations events
type OperationsPayload struct {
	Results []any
}

// ErrorPayload is carried by Error events
type ErrorPayload struct {
	Ref    query.Ref
	Errors *apierror.ErrorSet
}
