package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// callLog records every storage call made through fake keepers
type callLog struct {
	calls []string
}

func (l *callLog) record(format string, args ...any) {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) count(prefix string) int {
	n := 0
	for _, c := range l.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeKeeper struct {
	decl      *schema.Declaration
	log       *callLog
	rows      map[string]map[string]any
	order     []string
	rels      map[string]*fakeRelationship
	forbidden map[string]string
	nextID    int
}

func newFakeKeeper(decl *schema.Declaration, log *callLog) *fakeKeeper {
	k := &fakeKeeper{
		decl:      decl,
		log:       log,
		rows:      make(map[string]map[string]any),
		rels:      make(map[string]*fakeRelationship),
		forbidden: make(map[string]string),
	}
	for _, rel := range decl.Relationships {
		k.rels[rel.Info().Name] = &fakeRelationship{
			owner:    k,
			name:     rel.Info().Name,
			multiple: schema.IsMultiple(rel),
			values:   make(map[string][]resource.Identifier),
		}
	}
	return k
}

func (k *fakeKeeper) seed(id string, attrs map[string]any, rels map[string]resource.Linkage) {
	k.rows[id] = attrs
	k.order = append(k.order, id)
	for name, value := range rels {
		k.rels[name].values[id] = value.Identifiers()
	}
}

func (k *fakeKeeper) Declaration() *schema.Declaration { return k.decl }

func (k *fakeKeeper) Status(_ context.Context, ids []string) (map[string]resource.Status, error) {
	k.log.record("%s.status %s", k.decl.Type, strings.Join(ids, ","))
	out := make(map[string]resource.Status, len(ids))
	for _, id := range ids {
		reason, forbidden := k.forbidden[id]
		switch {
		case k.rows[id] == nil:
			out[id] = resource.NotFound()
		case forbidden:
			out[id] = resource.Forbidden(reason)
		default:
			out[id] = resource.Exist()
		}
	}
	return out, nil
}

func (k *fakeKeeper) Get(_ context.Context, ids []string, opts resource.GetOptions) ([]*resource.Resource, error) {
	k.log.record("%s.get %s", k.decl.Type, strings.Join(ids, ","))
	var out []*resource.Resource
	for _, id := range ids {
		row, ok := k.rows[id]
		if !ok {
			continue
		}
		out = append(out, k.toResource(id, row, opts.Fields))
	}
	return out, nil
}

func (k *fakeKeeper) toResource(id string, row map[string]any, fields []string) *resource.Resource {
	attrs := make(map[string]any)
	for name, v := range row {
		attrs[name] = v
	}
	r := &resource.Resource{Type: k.decl.Type, ID: id, Attributes: attrs}
	return r.Select(fields)
}

func (k *fakeKeeper) Relationships() map[string]resource.RelationshipKeeper {
	out := make(map[string]resource.RelationshipKeeper, len(k.rels))
	for name, rel := range k.rels {
		out[name] = rel
	}
	return out
}

func (k *fakeKeeper) List(_ context.Context, opts resource.ListOptions) (resource.DataList[*resource.Resource], error) {
	k.log.record("%s.list", k.decl.Type)
	var items []*resource.Resource
	for _, id := range k.order {
		row := k.rows[id]
		if row == nil {
			continue
		}
		if title, ok := opts.Filter["title"]; ok && row["title"] != title {
			continue
		}
		items = append(items, k.toResource(id, row, nil))
	}
	total := len(items)
	return resource.DataList[*resource.Resource]{Items: items, Total: &total}, nil
}

func (k *fakeKeeper) Add(_ context.Context, r *resource.NewResource) (string, error) {
	k.log.record("%s.add", k.decl.Type)
	id := r.ID
	if id == "" {
		k.nextID++
		id = fmt.Sprintf("%s-%d", k.decl.Type, k.nextID)
	}
	k.seed(id, r.Attributes, r.Relationships)
	return id, nil
}

func (k *fakeKeeper) Update(_ context.Context, r *resource.EditableResource) error {
	k.log.record("%s.update %s", k.decl.Type, r.ID)
	for name, v := range r.Attributes {
		k.rows[r.ID][name] = v
	}
	for name, value := range r.Relationships {
		k.rels[name].values[r.ID] = value.Identifiers()
	}
	return nil
}

func (k *fakeKeeper) Remove(_ context.Context, id string) error {
	k.log.record("%s.remove %s", k.decl.Type, id)
	delete(k.rows, id)
	return nil
}

type fakeRelationship struct {
	owner    *fakeKeeper
	name     string
	multiple bool
	values   map[string][]resource.Identifier
}

func (r *fakeRelationship) Get(_ context.Context, ids []string, _ any) (map[string]resource.Linkage, error) {
	r.owner.log.record("%s.%s.get %s", r.owner.decl.Type, r.name, strings.Join(ids, ","))
	out := make(map[string]resource.Linkage, len(ids))
	for _, id := range ids {
		values := r.values[id]
		if r.multiple {
			out[id] = resource.Many(append([]resource.Identifier(nil), values...)...)
			continue
		}
		if len(values) == 0 {
			out[id] = resource.Null()
			continue
		}
		ref := values[0]
		out[id] = resource.ToOne{Ref: &ref}
	}
	return out, nil
}

func (r *fakeRelationship) Add(_ context.Context, id string, targets []resource.Identifier) error {
	r.owner.log.record("%s.%s.add %s", r.owner.decl.Type, r.name, id)
	for _, t := range targets {
		if !containsIdentifier(r.values[id], t) {
			r.values[id] = append(r.values[id], t)
		}
	}
	return nil
}

func (r *fakeRelationship) Update(_ context.Context, id string, value resource.Linkage) error {
	r.owner.log.record("%s.%s.update %s", r.owner.decl.Type, r.name, id)
	r.values[id] = value.Identifiers()
	return nil
}

func (r *fakeRelationship) Remove(_ context.Context, id string, targets []resource.Identifier) error {
	r.owner.log.record("%s.%s.remove %s", r.owner.decl.Type, r.name, id)
	var kept []resource.Identifier
	for _, v := range r.values[id] {
		if !containsIdentifier(targets, v) {
			kept = append(kept, v)
		}
	}
	r.values[id] = kept
	return nil
}

func containsIdentifier(ids []resource.Identifier, id resource.Identifier) bool {
	for _, v := range ids {
		if v.Type == id.Type && v.ID == id.ID {
			return true
		}
	}
	return false
}
