// Package declare loads resource declarations and seed data from a YAML file.
//
//	resources:
//	  - type: notes
//	    add: true
//	    update: true
//	    attributes:
//	      - name: title
//	        type: string
//	      - name: rating
//	        type: nullable<int>
//	        optional: true
//	    relationships:
//	      - name: tags
//	        kind: to-many
//	        types: [tags]
//	        optional: true
//	    list:
//	      filter:
//	        - name: rating
//	          type: int
//	      sort:
//	        - name: title
//	    seed:
//	      - id: "1"
//	        attributes: {title: Hello}
//	        relationships:
//	          tags: [{type: tags, id: go}]
package declare

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// Relationship kinds
const (
	KindToOne         = "to-one"
	KindNullableToOne = "nullable-to-one"
	KindToMany        = "to-many"
)

// File is a parsed resources file
type File struct {
	Resources []Resource `yaml:"resources"`
}

// Resource declares one resource type
type Resource struct {
	Type string `yaml:"type"`
	// Table overrides the table name used by SQL storage
	Table         string         `yaml:"table"`
	Attributes    []Attribute    `yaml:"attributes"`
	Relationships []Relationship `yaml:"relationships"`
	Add           bool           `yaml:"add"`
	Update        bool           `yaml:"update"`
	Remove        bool           `yaml:"remove"`
	List          *Listing       `yaml:"list"`
	// Forbidden maps ids to the reason they may not be accessed
	Forbidden map[string]string `yaml:"forbidden"`
	Seed      []Seed            `yaml:"seed"`
}

// Attribute declares one attribute
type Attribute struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Mode     string `yaml:"mode"`
	Optional bool   `yaml:"optional"`
}

// Relationship declares one relationship
type Relationship struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Types    []string `yaml:"types"`
	Mode     string   `yaml:"mode"`
	Optional bool     `yaml:"optional"`
}

// Listing declares list capabilities
type Listing struct {
	Filter []Filter `yaml:"filter"`
	Sort   []Sort   `yaml:"sort"`
}

// Filter declares a filter field. Type converts the raw values to int,
// number or bool before they reach the keeper.
type Filter struct {
	Name     string `yaml:"name"`
	Multiple bool   `yaml:"multiple"`
	Type     string `yaml:"type"`
}

// Sort declares a sort field; Direction is both, asc or desc
type Sort struct {
	Name      string `yaml:"name"`
	Direction string `yaml:"direction"`
}

// Seed is one initial resource
type Seed struct {
	ID            string               `yaml:"id"`
	Attributes    map[string]any       `yaml:"attributes"`
	Relationships map[string]yaml.Node `yaml:"relationships"`
}

// identifier is a resource identifier inside seed relationships
type identifier struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`
}

// Load reads and parses a resources file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resources file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses a resources document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse resources: %w", err)
	}
	if len(f.Resources) == 0 {
		return nil, fmt.Errorf("no resources declared")
	}
	return &f, nil
}

// Declarations builds the declaration of every resource, in file order
func (f *File) Declarations() ([]*schema.Declaration, error) {
	decls := make([]*schema.Declaration, 0, len(f.Resources))
	for _, r := range f.Resources {
		decl, err := r.Declaration()
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// Declaration builds the schema declaration of r
func (r Resource) Declaration() (*schema.Declaration, error) {
	decl := &schema.Declaration{
		Type:      r.Type,
		Addable:   r.Add,
		Updatable: r.Update,
		Removable: r.Remove,
	}

	for _, a := range r.Attributes {
		s, err := schema.Parse(a.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.Type, a.Name, err)
		}
		mode, err := schema.ParseMode(a.Mode)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.Type, a.Name, err)
		}
		decl.Attributes = append(decl.Attributes, schema.Attribute{
			Name:     a.Name,
			Mode:     mode,
			Optional: a.Optional,
			Schema:   s,
		})
	}

	for _, rel := range r.Relationships {
		built, err := rel.build()
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.Type, rel.Name, err)
		}
		decl.Relationships = append(decl.Relationships, built)
	}

	if r.List != nil {
		listing, err := r.List.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Type, err)
		}
		decl.Listable = listing
	}

	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return decl, nil
}

func (rel Relationship) build() (schema.Relationship, error) {
	mode, err := schema.ParseMode(rel.Mode)
	if err != nil {
		return nil, err
	}
	info := schema.RelationshipInfo{
		Name:     rel.Name,
		Mode:     mode,
		Optional: rel.Optional,
		Types:    rel.Types,
	}

	switch rel.Kind {
	case KindToOne:
		return schema.ToOne{RelationshipInfo: info}, nil
	case "", KindNullableToOne:
		return schema.NullableToOne{RelationshipInfo: info}, nil
	case KindToMany:
		return schema.ToMany{RelationshipInfo: info}, nil
	default:
		return nil, fmt.Errorf("unknown relationship kind %q", rel.Kind)
	}
}

func (l *Listing) build() (*schema.Listing, error) {
	listing := &schema.Listing{}
	for _, f := range l.Filter {
		transform, err := transformer(f.Type, f.Multiple)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Name, err)
		}
		listing.Filter = append(listing.Filter, schema.FilterField{Name: f.Name, Multiple: f.Multiple, Transform: transform})
	}
	for _, s := range l.Sort {
		dir, err := parseDirection(s.Direction)
		if err != nil {
			return nil, fmt.Errorf("sort %s: %w", s.Name, err)
		}
		listing.Sort = append(listing.Sort, schema.SortField{Name: s.Name, Direction: dir})
	}
	return listing, nil
}

func parseDirection(s string) (schema.SortDirection, error) {
	switch s {
	case "", "both":
		return schema.SortBoth, nil
	case "asc":
		return schema.SortAscOnly, nil
	case "desc":
		return schema.SortDescOnly, nil
	default:
		return 0, fmt.Errorf("unknown sort direction %q", s)
	}
}

// transformer returns the filter transformer for a value type; string filters
// use the default transformer.
func transformer(valueType string, multiple bool) (schema.Transformer, error) {
	var convert func(string) (any, error)
	switch valueType {
	case "", "string":
		return nil, nil
	case "int":
		convert = func(s string) (any, error) { return strconv.Atoi(s) }
	case "number":
		convert = func(s string) (any, error) { return strconv.ParseFloat(s, 64) }
	case "bool":
		convert = func(s string) (any, error) { return strconv.ParseBool(s) }
	default:
		return nil, fmt.Errorf("unsupported filter type %q", valueType)
	}

	return func(values []string) (any, error) {
		out := make([]any, 0, len(values))
		for _, v := range values {
			converted, err := convert(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a valid %s", v, valueType)
			}
			out = append(out, converted)
		}
		if multiple {
			return out, nil
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out[0], nil
	}, nil
}

// Linkages converts the seed's relationships: a list becomes a to-many
// linkage, a mapping a to-one linkage and null an empty to-one linkage.
func (s Seed) Linkages() (map[string]resource.Linkage, error) {
	if len(s.Relationships) == 0 {
		return nil, nil
	}
	out := make(map[string]resource.Linkage, len(s.Relationships))
	for name, node := range s.Relationships {
		switch {
		case node.Tag == "!!null":
			out[name] = resource.Null()
		case node.Kind == yaml.SequenceNode:
			var ids []identifier
			if err := node.Decode(&ids); err != nil {
				return nil, fmt.Errorf("seed %s relationship %s: %w", s.ID, name, err)
			}
			items := make([]resource.Identifier, len(ids))
			for i, id := range ids {
				items[i] = resource.Identifier{Type: id.Type, ID: id.ID}
			}
			out[name] = resource.Many(items...)
		case node.Kind == yaml.MappingNode:
			var id identifier
			if err := node.Decode(&id); err != nil {
				return nil, fmt.Errorf("seed %s relationship %s: %w", s.ID, name, err)
			}
			out[name] = resource.One(id.Type, id.ID)
		default:
			return nil, fmt.Errorf("seed %s relationship %s: expected a list, a mapping or null", s.ID, name)
		}
	}
	return out, nil
}
