package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/application/stats"
	"github.com/clinic-notify/internal/domain"
	"github.com/go-chi/chi/v5"
)

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	svc   notification.Service
	stats stats.Service
}

func NewNotificationHandler(svc notification.Service, stats stats.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc, stats: stats}
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNotificationRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.svc.Enqueue(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.NotificationFilter{
		Status:      domain.Status(q.Get("status")),
		Priority:    domain.Priority(q.Get("priority")),
		Channel:     domain.Channel(q.Get("channel")),
		CampaignID:  q.Get("campaign_id"),
		RecipientID: q.Get("recipient_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}
	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.Cancel)
}

func (h *NotificationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.Retry)
}

func (h *NotificationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.Resend)
}

// Events lists the delivery events recorded for a notification.
func (h *NotificationHandler) Events(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "id")
	if _, err := h.svc.Get(r.Context(), notificationID); err != nil {
		httpError(w, err)
		return
	}
	events, err := h.stats.Events(r.Context(), notificationID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(events))
}

type notificationOp func(ctx context.Context, notificationID string) (*domain.Notification, error)

func (h *NotificationHandler) mutate(w http.ResponseWriter, r *http.Request, op notificationOp) {
	n, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
