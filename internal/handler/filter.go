package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mossline/filterhub/internal/auth"
	"github.com/mossline/filterhub/internal/model"
	"github.com/mossline/filterhub/internal/store"
	"github.com/mossline/filterhub/internal/websocket"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type FilterHandler struct {
	filters *store.FilterStore
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewFilterHandler(filters *store.FilterStore, hub *websocket.Hub, logger *slog.Logger) *FilterHandler {
	return &FilterHandler{
		filters: filters,
		hub:     hub,
		logger:  logger.With("component", "filters"),
	}
}

func (h *FilterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	f, err := h.filters.GetByID(id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if f == nil || (!f.IsPublic && f.AuthorID != auth.UserID(r.Context())) {
		// Private filters of other users look like they do not exist.
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "filter not found"})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *FilterHandler) ListUncategorized(w http.ResponseWriter, r *http.Request) {
	filters, err := h.filters.ListUncategorized(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filters == nil {
		filters = []model.Filter{}
	}
	writeJSON(w, http.StatusOK, filters)
}

func (h *FilterHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	filters, total, err := h.filters.ListPublic(search, offset, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filters == nil {
		filters = []model.Filter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filters": filters,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}

func (h *FilterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req store.CreateFilterInput
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
	f, err := h.filters.Create(userID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "created", f.ID, nil))
	writeJSON(w, http.StatusCreated, f)
}

func (h *FilterHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req store.CreateFilterInput
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
	f, err := h.filters.Update(userID, id, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "updated", f.ID, nil))
	writeJSON(w, http.StatusOK, f)
}

func (h *FilterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.filters.Delete(userID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *FilterHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	f, err := h.filters.IncrementExport(auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// MoveToCategory places the filter at the end of the given category.
func (h *FilterHandler) MoveToCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		CategoryID int64 `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	userID := auth.UserID(r.Context())
	f, err := h.filters.MoveToCategory(userID, id, req.CategoryID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "moved", f.ID, nil))
	writeJSON(w, http.StatusOK, f)
}

// MoveToSubcategory places the filter at the end of the given subcategory.
func (h *FilterHandler) MoveToSubcategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		SubCategoryID int64 `json:"sub_category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	userID := auth.UserID(r.Context())
	f, err := h.filters.MoveToSubcategory(userID, id, req.SubCategoryID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "moved", f.ID, nil))
	writeJSON(w, http.StatusOK, f)
}

// MoveToUncategorized removes the filter from any category.
func (h *FilterHandler) MoveToUncategorized(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	userID := auth.UserID(r.Context())
	f, err := h.filters.MoveToUncategorized(userID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "moved", f.ID, nil))
	writeJSON(w, http.StatusOK, f)
}

// ClearCategory lifts the filter one level: out of its subcategory into the
// parent category, or out of a category entirely.
func (h *FilterHandler) ClearCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	userID := auth.UserID(r.Context())
	f, err := h.filters.ClearCategory(userID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("filter", "moved", f.ID, nil))
	writeJSON(w, http.StatusOK, f)
}
