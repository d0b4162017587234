package handler

import (
	"net/http"
	"time"

	"github.com/clinic-notify/internal/application/event"
	"github.com/clinic-notify/internal/domain"
)

// EventHandler accepts delivery events reported by providers and clients.
type EventHandler struct {
	svc event.Service
}

func NewEventHandler(svc event.Service) *EventHandler { return &EventHandler{svc: svc} }

type deliveryEventRequest struct {
	NotificationID string           `json:"notificationId"`
	Channel        domain.Channel   `json:"channel"`
	Kind           domain.EventKind `json:"kind"`
	Timestamp      *time.Time       `json:"timestamp"`
	Error          string           `json:"error"`
}

// Ingest answers 202 for a new event and 200 for a duplicate.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req deliveryEventRequest
	if !decode(w, r, &req) {
		return
	}
	ev := domain.DeliveryEvent{
		NotificationID: req.NotificationID,
		Channel:        req.Channel,
		Kind:           req.Kind,
		Error:          req.Error,
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}
	res, err := h.svc.Ingest(r.Context(), ev)
	if err != nil {
		httpError(w, err)
		return
	}
	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
