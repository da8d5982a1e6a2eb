package memory

import (
	"context"
	"fmt"

	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// relationshipKeeper serves one relationship of the resources stored by keeper
type relationshipKeeper struct {
	keeper   *Keeper
	name     string
	multiple bool
}

// Get returns the relationship value of every stored id. To-many values are
// paged by page[relationships][<name>] when the request carries it.
func (r *relationshipKeeper) Get(_ context.Context, ids []string, page any) (map[string]resource.Linkage, error) {
	r.keeper.mu.RLock()
	defer r.keeper.mu.RUnlock()

	var rel *query.Page
	if p, ok := page.(query.Page); ok {
		if relPage, ok := p.Relationships[r.name]; ok {
			rel = &relPage
		}
	}

	out := make(map[string]resource.Linkage, len(ids))
	for _, id := range ids {
		rec, ok := r.keeper.records[id]
		if !ok {
			continue
		}
		out[id] = r.value(rec, rel)
	}
	return out, nil
}

func (r *relationshipKeeper) value(rec *record, page *query.Page) resource.Linkage {
	ids := rec.rels[r.name]
	if !r.multiple {
		if len(ids) == 0 {
			return resource.Null()
		}
		ref := ids[0]
		return resource.ToOne{Ref: &ref}
	}

	items := append([]resource.Identifier{}, ids...)
	if page == nil {
		return resource.Many(items...)
	}

	total, offset, limit := len(items), page.Offset(), page.Size
	linkage := resource.Many(window(items, offset, limit)...)
	linkage.Total, linkage.Offset, linkage.Limit = &total, &offset, &limit
	return linkage
}

// Add links targets that are not linked yet, keeping existing order
func (r *relationshipKeeper) Add(_ context.Context, id string, targets []resource.Identifier) error {
	r.keeper.mu.Lock()
	defer r.keeper.mu.Unlock()

	rec, ok := r.keeper.records[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", r.keeper.decl.Type, id, ErrNotFound)
	}
	for _, target := range stripLids(targets) {
		if !contains(rec.rels[r.name], target) {
			rec.rels[r.name] = append(rec.rels[r.name], target)
		}
	}
	return nil
}

// Update replaces the relationship value
func (r *relationshipKeeper) Update(_ context.Context, id string, value resource.Linkage) error {
	r.keeper.mu.Lock()
	defer r.keeper.mu.Unlock()

	rec, ok := r.keeper.records[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", r.keeper.decl.Type, id, ErrNotFound)
	}
	rec.rels[r.name] = stripLids(value.Identifiers())
	return nil
}

// Remove unlinks targets; targets that are not linked are ignored
func (r *relationshipKeeper) Remove(_ context.Context, id string, targets []resource.Identifier) error {
	r.keeper.mu.Lock()
	defer r.keeper.mu.Unlock()

	rec, ok := r.keeper.records[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", r.keeper.decl.Type, id, ErrNotFound)
	}
	kept := make([]resource.Identifier, 0, len(rec.rels[r.name]))
	for _, linked := range rec.rels[r.name] {
		if !contains(targets, linked) {
			kept = append(kept, linked)
		}
	}
	rec.rels[r.name] = kept
	return nil
}

func contains(ids []resource.Identifier, id resource.Identifier) bool {
	for _, existing := range ids {
		if existing.Type == id.Type && existing.ID == id.ID {
			return true
		}
	}
	return false
}
