package handler

import (
	"net/http"

	"github.com/conduit-lang/resourcekit/internal/web/format"
	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	resp, err := h.manager.Get(r.Context(), q)
	respond(h, w, r, resp, err, func(v manager.GetValue) (int, any) {
		if v.Resource == nil {
			set := apierror.NewErrorSet(apierror.NotFound(apierror.QuerySource(), "resource "+q.Ref.Type+"/"+q.Ref.ID+" does not exist"))
			return set.Status(), format.Errors(set)
		}
		return http.StatusOK, h.formatter.Get(q, v)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	resp, err := h.manager.List(r.Context(), q)
	respond(h, w, r, resp, err, func(v manager.ListValue) (int, any) {
		return http.StatusOK, h.formatter.List(q, v)
	})
}

func (h *Handler) relationship(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	resp, err := h.manager.Relationship(r.Context(), q)
	respond(h, w, r, resp, err, func(v manager.RelationshipValue) (int, any) {
		return http.StatusOK, h.formatter.Relationship(q, v)
	})
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	body, ok := h.body(w, r)
	if !ok {
		return
	}
	in, err := format.DecodeNewResource(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.manager.Add(r.Context(), q, in, format.DataPointer)
	respond(h, w, r, resp, err, func(v *resource.Resource) (int, any) {
		w.Header().Set("Location", h.conv.MakePath(query.Ref{Type: v.Type, ID: v.ID}))
		return http.StatusCreated, h.formatter.Mutation(v)
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	body, ok := h.body(w, r)
	if !ok {
		return
	}
	in, err := format.DecodeEditableResource(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.manager.Update(r.Context(), q, in, format.DataPointer)
	respond(h, w, r, resp, err, func(v *resource.Resource) (int, any) {
		return http.StatusOK, h.formatter.Mutation(v)
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	resp, err := h.manager.Remove(r.Context(), q, format.DataPointer)
	respond(h, w, r, resp, err, func(string) (int, any) {
		return http.StatusNoContent, nil
	})
}

func (h *Handler) addRelationships(w http.ResponseWriter, r *http.Request) {
	q, value, ok := h.toManyRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.manager.AddRelationships(r.Context(), q, value, apierror.NewPointer())
	respond(h, w, r, resp, err, h.renderRelationship)
}

func (h *Handler) updateRelationship(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	body, ok := h.body(w, r)
	if !ok {
		return
	}
	value, err := format.DecodeLinkage(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.manager.UpdateRelationship(r.Context(), q, value, apierror.NewPointer())
	respond(h, w, r, resp, err, h.renderRelationship)
}

func (h *Handler) removeRelationships(w http.ResponseWriter, r *http.Request) {
	q, value, ok := h.toManyRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.manager.RemoveRelationships(r.Context(), q, value, apierror.NewPointer())
	respond(h, w, r, resp, err, h.renderRelationship)
}

func (h *Handler) toManyRequest(w http.ResponseWriter, r *http.Request) (*query.Query, resource.ToMany, bool) {
	q, ok := h.parse(w, r)
	if !ok {
		return nil, resource.ToMany{}, false
	}
	body, ok := h.body(w, r)
	if !ok {
		return nil, resource.ToMany{}, false
	}
	value, err := format.DecodeToMany(body)
	if err != nil {
		h.fail(w, r, err)
		return nil, resource.ToMany{}, false
	}
	return q, value, true
}

func (h *Handler) renderRelationship(v manager.RelationshipResult) (int, any) {
	return http.StatusOK, h.formatter.RelationshipMutation(v)
}

func (h *Handler) operations(w http.ResponseWriter, r *http.Request) {
	body, ok := h.body(w, r)
	if !ok {
		return
	}
	ops, err := format.DecodeOperations(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.manager.Operations(r.Context(), ops, apierror.NewPointer(format.OperationsMember))
	if err == nil && !resp.Result.OK() {
		h.send(w, r, resp.Events, resp.Result.Err.Status(), format.OperationsErrors(resp.Result.Value, resp.Result.Err))
		return
	}
	respond(h, w, r, resp, err, func(v manager.OperationsResult) (int, any) {
		return http.StatusOK, h.formatter.Operations(v)
	})
}
