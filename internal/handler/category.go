package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mossline/filterhub/internal/auth"
	"github.com/mossline/filterhub/internal/store"
	"github.com/mossline/filterhub/internal/websocket"
)

type CategoryHandler struct {
	categories *store.CategoryStore
	hub        *websocket.Hub
	logger     *slog.Logger
}

func NewCategoryHandler(categories *store.CategoryStore, hub *websocket.Hub, logger *slog.Logger) *CategoryHandler {
	return &CategoryHandler{
		categories: categories,
		hub:        hub,
		logger:     logger.With("component", "categories"),
	}
}

// Hierarchy returns the user's full tree: categories, their filters, and
// their subcategories with filters, everything in display order.
func (h *CategoryHandler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.categories.Hierarchy(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID *int64 `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	userID := auth.UserID(r.Context())
	created, err := h.categories.Create(userID, req.Name, req.ParentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if created.Category != nil {
		h.hub.Send(userID, websocket.NewMessage("category", "created", created.Category.ID, nil))
	} else {
		h.hub.Send(userID, websocket.NewMessage("subcategory", "created", created.SubCategory.ID, nil))
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *CategoryHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Name          string `json:"name"`
		IsSubcategory bool   `json:"is_subcategory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.categories.Rename(userID, id, req.IsSubcategory, req.Name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	entity := "category"
	if req.IsSubcategory {
		entity = "subcategory"
	}
	h.hub.Send(userID, websocket.NewMessage(entity, "renamed", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a category or subcategory. Its filters are relocated to
// the enclosing bucket, not deleted.
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	isSub := r.URL.Query().Get("subcategory") == "true"

	userID := auth.UserID(r.Context())
	if err := h.categories.Delete(userID, id, isSub); err != nil {
		writeError(w, h.logger, err)
		return
	}

	entity := "category"
	if isSub {
		entity = "subcategory"
	}
	h.hub.Send(userID, websocket.NewMessage(entity, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
