package resource

import (
	"context"

	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// GetOptions narrows a keeper fetch
type GetOptions struct {
	// Fields lists the attributes to load; nil loads all of them
	Fields []string
	// Page is the opaque page value of the request
	Page any
}

// ListOptions narrows a keeper list
type ListOptions struct {
	// Filter holds transformed filter values keyed by filter field
	Filter map[string]any
	Page   any
	Sort   []query.Sort
}

// Keeper is the storage adapter for one resource type.
// Get returns attributes only; relationship values are fetched through the
// keepers returned by Relationships.
type Keeper interface {
	Declaration() *schema.Declaration
	Status(ctx context.Context, ids []string) (map[string]Status, error)
	Get(ctx context.Context, ids []string, opts GetOptions) ([]*Resource, error)
	Relationships() map[string]RelationshipKeeper
}

// Lister is implemented by keepers of listable types
type Lister interface {
	List(ctx context.Context, opts ListOptions) (DataList[*Resource], error)
}

// Adder is implemented by keepers of addable types
type Adder interface {
	// Add stores the resource and returns its id
	Add(ctx context.Context, r *NewResource) (string, error)
}

// Updater is implemented by keepers of updatable types
type Updater interface {
	Update(ctx context.Context, r *EditableResource) error
}

// Remover is implemented by keepers of removable types.
// Remove deletes the resource whose id equals id.
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// RelationshipKeeper fetches one relationship for a batch of resources.
// The returned map holds a ToOne or ToMany per requested id, matching the
// relationship declaration.
type RelationshipKeeper interface {
	Get(ctx context.Context, ids []string, page any) (map[string]Linkage, error)
}

// RelationshipAdder links more resources to a to-many relationship
type RelationshipAdder interface {
	Add(ctx context.Context, id string, targets []Identifier) error
}

// RelationshipUpdater replaces the value of a relationship
type RelationshipUpdater interface {
	Update(ctx context.Context, id string, value Linkage) error
}

// RelationshipRemover unlinks resources from a to-many relationship.
// Targets that are not linked are ignored.
type RelationshipRemover interface {
	Remove(ctx context.Context, id string, targets []Identifier) error
}
