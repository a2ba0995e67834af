package api

import (
	"net/http"
	"strings"

	"github.com/user/chorus/internal/registry"
)

const (
	eventConstructSaved   = "construct.saved"
	eventConstructDeleted = "construct.deleted"
)

type constructEvent struct {
	ID string `json:"id"`
}

func (h *handler) listConstructs(w http.ResponseWriter, _ *http.Request) {
	if h.constructs == nil {
		jsonResponse(w, http.StatusOK, []*registry.Construct{})
		return
	}
	jsonResponse(w, http.StatusOK, h.constructs.List())
}

func (h *handler) getConstruct(w http.ResponseWriter, r *http.Request) {
	if h.constructs == nil {
		jsonError(w, http.StatusServiceUnavailable, "construct registry unavailable")
		return
	}
	construct := h.constructs.Get(r.PathValue("id"))
	if construct == nil {
		jsonError(w, http.StatusNotFound, "construct not found")
		return
	}
	jsonResponse(w, http.StatusOK, construct)
}

func (h *handler) putConstruct(w http.ResponseWriter, r *http.Request) {
	if h.constructs == nil {
		jsonError(w, http.StatusServiceUnavailable, "construct registry unavailable")
		return
	}
	id := strings.ToLower(strings.TrimSpace(r.PathValue("id")))
	var construct registry.Construct
	if err := decodeJSON(r, &construct); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if construct.ID == "" {
		construct.ID = id
	}
	if construct.ID != id {
		jsonError(w, http.StatusBadRequest, "body id does not match path")
		return
	}
	if err := h.constructs.Save(&construct); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.hub != nil {
		h.hub.BroadcastEvent(eventConstructSaved, constructEvent{ID: id})
	}
	jsonResponse(w, http.StatusOK, h.constructs.Get(id))
}

func (h *handler) deleteConstruct(w http.ResponseWriter, r *http.Request) {
	if h.constructs == nil {
		jsonError(w, http.StatusServiceUnavailable, "construct registry unavailable")
		return
	}
	id := strings.ToLower(strings.TrimSpace(r.PathValue("id")))
	if h.constructs.Get(id) == nil {
		jsonError(w, http.StatusNotFound, "construct not found")
		return
	}
	if err := h.constructs.Delete(id); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.hub != nil {
		h.hub.BroadcastEvent(eventConstructDeleted, constructEvent{ID: id})
	}
	noContent(w)
}
