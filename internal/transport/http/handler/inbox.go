package handler

import (
	"net/http"
	"strconv"

	"github.com/clinic-notify/internal/application/notification"
	"github.com/go-chi/chi/v5"
)

// InboxHandler serves a recipient's in-app notifications.
type InboxHandler struct {
	svc notification.Service
}

func NewInboxHandler(svc notification.Service) *InboxHandler { return &InboxHandler{svc: svc} }

func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	unread := false
	if v := r.URL.Query().Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "unread must be a boolean")
			return
		}
		unread = b
	}
	items, err := h.svc.Inbox(r.Context(), chi.URLParam(r, "recipientId"), unread)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "recipientId"), chi.URLParam(r, "notificationId"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
