package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mossline/filterhub/internal/auth"
	"github.com/mossline/filterhub/internal/push"
	"github.com/mossline/filterhub/internal/store"
	"github.com/mossline/filterhub/internal/websocket"
)

type ShareHandler struct {
	shares   *store.ShareStore
	filters  *store.FilterStore
	hub      *websocket.Hub
	notifier *push.Notifier
	logger   *slog.Logger
}

func NewShareHandler(shares *store.ShareStore, filters *store.FilterStore, hub *websocket.Hub, notifier *push.Notifier, logger *slog.Logger) *ShareHandler {
	return &ShareHandler{
		shares:   shares,
		filters:  filters,
		hub:      hub,
		notifier: notifier,
		logger:   logger.With("component", "share"),
	}
}

// Token returns the caller's share token, minting it on first access.
func (h *ShareHandler) Token(w http.ResponseWriter, r *http.Request) {
	token, err := h.shares.GetOrCreateToken(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// RevokeToken retires the current token and mints a replacement. Existing
// grants follow the new token.
func (h *ShareHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.shares.RevokeAndReissue(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// ValidateToken lets a sender check a token string before sharing with it.
func (h *ShareHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := h.shares.ValidateToken(token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ShareFilter grants one of the caller's filters to the holder of the
// given token.
func (h *ShareHandler) ShareFilter(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	senderID := auth.UserID(r.Context())
	grant, err := h.shares.ShareFilter(senderID, id, req.Token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.notifyRecipient(req.Token, grant.FilterID, 0)
	writeJSON(w, http.StatusCreated, grant)
}

// ShareCategory bulk-shares a bucket of the caller's filters.
func (h *ShareHandler) ShareCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		store.ShareCategorySelector
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	senderID := auth.UserID(r.Context())
	result, err := h.shares.ShareCategory(senderID, req.ShareCategorySelector, req.Token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.notifyRecipient(req.Token, 0, result.SharedCount)
	writeJSON(w, http.StatusOK, result)
}

// ListReceived returns the caller's inbox of filters shared with them.
func (h *ShareHandler) ListReceived(w http.ResponseWriter, r *http.Request) {
	received, err := h.shares.ListReceived(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if received == nil {
		received = []store.ReceivedFilter{}
	}
	writeJSON(w, http.StatusOK, received)
}

// DeleteReceived drops a grant from the caller's inbox.
func (h *ShareHandler) DeleteReceived(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.shares.DeleteSharedFilter(userID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.hub.Send(userID, websocket.NewMessage("share", "removed", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// notifyRecipient pushes and hub-notifies the owner of recipientToken.
// filterID is set for single shares, count for bulk shares. Best effort:
// failures are logged, the share already succeeded.
func (h *ShareHandler) notifyRecipient(recipientToken string, filterID int64, count int) {
	recipient, err := h.shares.RecipientByToken(recipientToken)
	if err != nil || recipient == nil {
		if err != nil {
			h.logger.Error("resolve recipient", "error", err)
		}
		return
	}

	h.hub.Send(recipient.UserID, websocket.NewMessage("share", "received", filterID, nil))

	if h.notifier == nil {
		return
	}
	if filterID != 0 {
		name := "A filter"
		if f, err := h.filters.GetByID(filterID); err == nil && f != nil {
			name = f.Name
		}
		h.notifier.NotifyFilterShared(recipient.UserID, name)
		return
	}
	h.notifier.NotifyCategoryShared(recipient.UserID, count)
}
