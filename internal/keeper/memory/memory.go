// Package memory provides an in-memory resource keeper. It backs the demo
// server, the declarative seed files and the tests of the HTTP layer.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// Policy decides whether the caller may access a stored resource
type Policy func(ctx context.Context, id string, attrs map[string]any) resource.Status

// FilterFunc matches a stored resource against a transformed filter value
type FilterFunc func(value any, r *resource.Resource) bool

// Options configures a Keeper
type Options struct {
	// Policy defaults to allowing every stored resource
	Policy Policy
	// NewID generates ids for added resources; defaults to random UUIDs
	NewID func() string
	// Filters overrides the matching of individual filter fields
	Filters map[string]FilterFunc
	Logger  *zap.Logger
}

// record is one stored resource
type record struct {
	attrs map[string]any
	rels  map[string][]resource.Identifier
}

// Keeper stores the resources of one type in memory
type Keeper struct {
	mu      sync.RWMutex
	decl    *schema.Declaration
	records map[string]*record
	order   []string

	policy  Policy
	newID   func() string
	filters map[string]FilterFunc
	logger  *zap.Logger

	relationships map[string]resource.RelationshipKeeper
}

// New creates an empty keeper for the declared type
func New(decl *schema.Declaration, opts Options) *Keeper {
	k := &Keeper{
		decl:    decl,
		records: make(map[string]*record),
		policy:  opts.Policy,
		newID:   opts.NewID,
		filters: opts.Filters,
		logger:  opts.Logger,
	}
	if k.newID == nil {
		k.newID = uuid.NewString
	}
	if k.logger == nil {
		k.logger = zap.NewNop()
	}

	k.relationships = make(map[string]resource.RelationshipKeeper, len(decl.Relationships))
	for _, rel := range decl.Relationships {
		k.relationships[rel.Info().Name] = &relationshipKeeper{
			keeper:   k,
			name:     rel.Info().Name,
			multiple: schema.IsMultiple(rel),
		}
	}
	return k
}

// Declaration returns the declaration of the stored type
func (k *Keeper) Declaration() *schema.Declaration {
	return k.decl
}

// Seed stores a resource with a known id, bypassing validation
func (k *Keeper) Seed(id string, attrs map[string]any, rels map[string]resource.Linkage) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if id == "" {
		return fmt.Errorf("%s: seed requires an id", k.decl.Type)
	}
	if _, exists := k.records[id]; exists {
		return fmt.Errorf("%s/%s: %w", k.decl.Type, id, ErrDuplicateID)
	}
	for name := range rels {
		if _, ok := k.decl.Relationship(name); !ok {
			return fmt.Errorf("%s/%s: unknown relationship %q", k.decl.Type, id, name)
		}
	}
	k.insert(id, attrs, rels)
	return nil
}

// Len returns the number of stored resources
func (k *Keeper) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.records)
}

func (k *Keeper) insert(id string, attrs map[string]any, rels map[string]resource.Linkage) {
	rec := &record{
		attrs: copyAttributes(attrs),
		rels:  make(map[string][]resource.Identifier, len(rels)),
	}
	for name, value := range rels {
		rec.rels[name] = stripLids(value.Identifiers())
	}
	k.records[id] = rec
	k.order = append(k.order, id)
}

// Status reports the status of every requested id
func (k *Keeper) Status(ctx context.Context, ids []string) (map[string]resource.Status, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]resource.Status, len(ids))
	for _, id := range ids {
		rec, ok := k.records[id]
		switch {
		case !ok:
			out[id] = resource.NotFound()
		case k.policy != nil:
			out[id] = k.policy(ctx, id, copyAttributes(rec.attrs))
		default:
			out[id] = resource.Exist()
		}
	}
	return out, nil
}

// Get returns the attributes of the stored resources among ids
func (k *Keeper) Get(_ context.Context, ids []string, opts resource.GetOptions) ([]*resource.Resource, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]*resource.Resource, 0, len(ids))
	for _, id := range ids {
		rec, ok := k.records[id]
		if !ok {
			continue
		}
		out = append(out, k.toResource(id, rec, opts.Fields))
	}
	return out, nil
}

func (k *Keeper) toResource(id string, rec *record, fields []string) *resource.Resource {
	r := &resource.Resource{
		Type:       k.decl.Type,
		ID:         id,
		Attributes: rec.attrs,
	}
	return r.Select(fields)
}

// Relationships returns one relationship keeper per declared relationship
func (k *Keeper) Relationships() map[string]resource.RelationshipKeeper {
	return k.relationships
}

// List filters, sorts and pages the stored resources
func (k *Keeper) List(_ context.Context, opts resource.ListOptions) (resource.DataList[*resource.Resource], error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var matched []*resource.Resource
	for _, id := range k.order {
		rec, ok := k.records[id]
		if !ok {
			continue
		}
		r := k.toResource(id, rec, nil)
		r.Relationships = k.linkages(id)
		if k.matches(r, opts.Filter) {
			matched = append(matched, r)
		}
	}

	if len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i], matched[j], opts.Sort)
		})
	}

	total := len(matched)
	list := resource.DataList[*resource.Resource]{Total: &total}

	page, ok := opts.Page.(query.Page)
	if !ok {
		list.Items = stripRelationships(matched)
		return list, nil
	}

	offset, limit := page.Offset(), page.Size
	list.Offset, list.Limit = &offset, &limit
	list.Items = stripRelationships(window(matched, offset, limit))
	return list, nil
}

// matches applies every filter; unknown filter values compare by equality
func (k *Keeper) matches(r *resource.Resource, filter map[string]any) bool {
	for name, value := range filter {
		if fn, ok := k.filters[name]; ok {
			if !fn(value, r) {
				return false
			}
			continue
		}
		if !matchField(r, name, value) {
			return false
		}
	}
	return true
}

func matchField(r *resource.Resource, name string, value any) bool {
	var candidates []string
	switch v := value.(type) {
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			candidates = append(candidates, fmt.Sprint(item))
		}
	case nil:
		return true
	default:
		candidates = []string{fmt.Sprint(v)}
	}

	if linkage, ok := r.Relationships[name]; ok {
		for _, id := range linkage.Identifiers() {
			for _, c := range candidates {
				if id.ID == c {
					return true
				}
			}
		}
		return false
	}

	attr, ok := r.Attributes[name]
	if !ok {
		return false
	}
	for _, c := range candidates {
		if fmt.Sprint(attr) == c {
			return true
		}
	}
	return false
}

// Add stores a new resource. A client id is used as is.
func (k *Keeper) Add(_ context.Context, r *resource.NewResource) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := r.ID
	if id == "" {
		id = k.newID()
	}
	if _, exists := k.records[id]; exists {
		return "", fmt.Errorf("%s/%s: %w", k.decl.Type, id, ErrDuplicateID)
	}
	k.insert(id, r.Attributes, r.Relationships)

	k.logger.Debug("resource added", zap.String("type", k.decl.Type), zap.String("id", id))
	return id, nil
}

// Update merges the given fields into the stored resource
func (k *Keeper) Update(_ context.Context, r *resource.EditableResource) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, ok := k.records[r.ID]
	if !ok {
		return fmt.Errorf("%s/%s: %w", k.decl.Type, r.ID, ErrNotFound)
	}

	attrs := copyAttributes(rec.attrs)
	for name, value := range r.Attributes {
		attrs[name] = value
	}
	rec.attrs = attrs
	for name, value := range r.Relationships {
		rec.rels[name] = stripLids(value.Identifiers())
	}

	k.logger.Debug("resource updated", zap.String("type", k.decl.Type), zap.String("id", r.ID))
	return nil
}

// Remove deletes the resource whose id equals id
func (k *Keeper) Remove(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.records[id]; !ok {
		return fmt.Errorf("%s/%s: %w", k.decl.Type, id, ErrNotFound)
	}
	delete(k.records, id)

	order := k.order[:0]
	for _, existing := range k.order {
		if existing != id {
			order = append(order, existing)
		}
	}
	k.order = order

	k.logger.Debug("resource removed", zap.String("type", k.decl.Type), zap.String("id", id))
	return nil
}

// linkages returns every relationship value of a stored resource.
// Callers hold the read lock.
func (k *Keeper) linkages(id string) map[string]resource.Linkage {
	rec := k.records[id]
	out := make(map[string]resource.Linkage, len(k.relationships))
	for name, rk := range k.relationships {
		out[name] = rk.(*relationshipKeeper).value(rec, nil)
	}
	return out
}

func copyAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for name, value := range attrs {
		out[name] = value
	}
	return out
}

func stripLids(ids []resource.Identifier) []resource.Identifier {
	out := make([]resource.Identifier, len(ids))
	for i, id := range ids {
		out[i] = resource.Identifier{Type: id.Type, ID: id.ID}
	}
	return out
}

func stripRelationships(resources []*resource.Resource) []*resource.Resource {
	for _, r := range resources {
		r.Relationships = nil
	}
	return resources
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
