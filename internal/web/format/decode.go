package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// OperationsMember is the top-level member holding an operations batch
const OperationsMember = "atomic:operations"

type resourceInput struct {
	Type          string                       `json:"type"`
	ID            string                       `json:"id"`
	Lid           string                       `json:"lid"`
	Attributes    map[string]any               `json:"attributes"`
	Relationships map[string]relationshipInput `json:"relationships"`
}

type relationshipInput struct {
	Data json.RawMessage `json:"data"`
}

type dataDocument struct {
	Data json.RawMessage `json:"data"`
}

type refInput struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Lid          string `json:"lid"`
	Relationship string `json:"relationship"`
}

type operationInput struct {
	Op   string          `json:"op"`
	Ref  *refInput       `json:"ref"`
	Href string          `json:"href"`
	Data json.RawMessage `json:"data"`
}

type operationsDocument struct {
	Operations []operationInput `json:"atomic:operations"`
}

// DataPointer points at the primary data of a request document
var DataPointer = apierror.NewPointer("data")

// DecodeNewResource decodes the body of an add request
func DecodeNewResource(body []byte) (*resource.NewResource, error) {
	raw, err := decodeData(body)
	if err != nil {
		return nil, err
	}
	in, errs := decodeResource(raw, DataPointer)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return &resource.NewResource{
		Type:          in.Type,
		ID:            in.ID,
		Lid:           in.Lid,
		Attributes:    in.Attributes,
		Relationships: in.linkages,
	}, nil
}

// DecodeEditableResource decodes the body of an update request
func DecodeEditableResource(body []byte) (*resource.EditableResource, error) {
	raw, err := decodeData(body)
	if err != nil {
		return nil, err
	}
	in, errs := decodeResource(raw, DataPointer)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return &resource.EditableResource{
		Type:          in.Type,
		ID:            in.ID,
		Lid:           in.Lid,
		Attributes:    in.Attributes,
		Relationships: in.linkages,
	}, nil
}

// DecodeLinkage decodes the body of a relationship request
func DecodeLinkage(body []byte) (resource.Linkage, error) {
	raw, err := decodeData(body)
	if err != nil {
		return nil, err
	}
	linkage, e := decodeLinkage(raw, DataPointer)
	if e != nil {
		return nil, apierror.NewErrorSet(e)
	}
	return linkage, nil
}

// DecodeToMany decodes the body of a to-many relationship request
func DecodeToMany(body []byte) (resource.ToMany, error) {
	linkage, err := DecodeLinkage(body)
	if err != nil {
		return resource.ToMany{}, err
	}
	many, ok := linkage.(resource.ToMany)
	if !ok {
		return resource.ToMany{}, apierror.NewErrorSet(apierror.Field(DataPointer, "data must be a list of resource identifiers"))
	}
	return many, nil
}

// DecodeOperations decodes an operations batch. Errors point into the
// "atomic:operations" member.
func DecodeOperations(body []byte) ([]manager.Operation, error) {
	var doc operationsDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, malformed(err)
	}
	if doc.Operations == nil {
		return nil, apierror.NewErrorSet(apierror.Field(apierror.NewPointer(OperationsMember), "operations are required"))
	}

	errs := apierror.NewErrorSet()
	ops := make([]manager.Operation, 0, len(doc.Operations))
	for i, in := range doc.Operations {
		op, e := decodeOperation(in, apierror.NewPointer(OperationsMember, i))
		errs.Append(e)
		ops = append(ops, op)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func decodeOperation(in operationInput, p apierror.Pointer) (manager.Operation, *apierror.ErrorSet) {
	errs := apierror.NewErrorSet()
	var op manager.Operation

	if in.Href != "" {
		return op, errs.Add(apierror.Field(p.Append("href"), "href is not supported, use ref"))
	}
	if in.Ref != nil {
		op.Ref = manager.OperationRef{Type: in.Ref.Type, ID: in.Ref.ID, Lid: in.Ref.Lid, Relationship: in.Ref.Relationship}
	}
	onRelationship := in.Ref != nil && in.Ref.Relationship != ""
	data := p.Append("data")

	switch {
	case onRelationship:
		kinds := map[string]manager.OpKind{
			"add":    manager.OpAddRelationships,
			"update": manager.OpUpdateRelationships,
			"remove": manager.OpRemoveRelationships,
		}
		kind, ok := kinds[in.Op]
		if !ok {
			return op, errs.Add(apierror.Field(p.Append("op"), fmt.Sprintf("unknown operation %q", in.Op)))
		}
		op.Op = kind
		linkage, e := decodeLinkage(in.Data, data)
		if e != nil {
			return op, errs.Add(e)
		}
		op.Linkage = linkage

	case in.Op == "add":
		op.Op = manager.OpAdd
		r, set := decodeResource(in.Data, data)
		if set.HasErrors() {
			return op, set
		}
		op.Add = &resource.NewResource{Type: r.Type, ID: r.ID, Lid: r.Lid, Attributes: r.Attributes, Relationships: r.linkages}
		if op.Ref.Type == "" {
			op.Ref.Type = r.Type
		}

	case in.Op == "update":
		op.Op = manager.OpUpdate
		r, set := decodeResource(in.Data, data)
		if set.HasErrors() {
			return op, set
		}
		op.Update = &resource.EditableResource{Type: r.Type, ID: r.ID, Lid: r.Lid, Attributes: r.Attributes, Relationships: r.linkages}
		if in.Ref == nil {
			op.Ref = manager.OperationRef{Type: r.Type, ID: r.ID, Lid: r.Lid}
		}

	case in.Op == "remove":
		op.Op = manager.OpRemove
		if in.Ref == nil {
			return op, errs.Add(apierror.Field(p.Append("ref"), "remove requires a ref"))
		}

	default:
		return op, errs.Add(apierror.Field(p.Append("op"), fmt.Sprintf("unknown operation %q", in.Op)))
	}

	return op, errs
}

// decoded is a resource object with its relationships converted to linkage
type decoded struct {
	resourceInput
	linkages map[string]resource.Linkage
}

func decodeData(body []byte) (json.RawMessage, error) {
	var doc dataDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, malformed(err)
	}
	if len(doc.Data) == 0 {
		return nil, apierror.NewErrorSet(apierror.Field(DataPointer, "data is required"))
	}
	return doc.Data, nil
}

func decodeResource(raw json.RawMessage, p apierror.Pointer) (decoded, *apierror.ErrorSet) {
	errs := apierror.NewErrorSet()
	var out decoded

	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out, errs.Add(apierror.Field(p, "a resource object is required"))
	}
	if err := json.Unmarshal(raw, &out.resourceInput); err != nil {
		return out, errs.Add(apierror.Field(p, fmt.Sprintf("invalid resource object: %v", err)))
	}
	if out.Type == "" {
		errs.Add(apierror.Field(p.Append("type"), "type is required"))
	}

	if out.Relationships != nil {
		out.linkages = make(map[string]resource.Linkage, len(out.Relationships))
		for _, name := range resource.SortedKeys(out.Relationships) {
			linkage, e := decodeLinkage(out.Relationships[name].Data, p.Append("relationships", name, "data"))
			if e != nil {
				errs.Add(e)
				continue
			}
			out.linkages[name] = linkage
		}
	}
	return out, errs
}

// decodeLinkage decodes null, an identifier object or a list of them.
// p points at the data member.
func decodeLinkage(raw json.RawMessage, p apierror.Pointer) (resource.Linkage, *apierror.Error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return nil, apierror.Field(p, "data is required")
	case bytes.Equal(trimmed, []byte("null")):
		return resource.Null(), nil
	case trimmed[0] == '[':
		var ids []Identifier
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return nil, apierror.Field(p, fmt.Sprintf("invalid resource identifiers: %v", err))
		}
		items := make([]resource.Identifier, len(ids))
		for i, id := range ids {
			if id.Type == "" {
				return nil, apierror.Field(p.Append(i, "type"), "type is required")
			}
			items[i] = resource.Identifier{Type: id.Type, ID: id.ID, Lid: id.Lid}
		}
		return resource.Many(items...), nil
	default:
		var id Identifier
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return nil, apierror.Field(p, fmt.Sprintf("invalid resource identifier: %v", err))
		}
		if id.Type == "" {
			return nil, apierror.Field(p.Append("type"), "type is required")
		}
		return resource.ToOne{Ref: &resource.Identifier{Type: id.Type, ID: id.ID, Lid: id.Lid}}, nil
	}
}

func malformed(err error) error {
	return apierror.NewErrorSet(apierror.Field(apierror.NewPointer(), fmt.Sprintf("malformed JSON document: %v", err)))
}
