package handler

import (
	"net/http"

	"github.com/clinic-notify/internal/application/stats"
	"github.com/clinic-notify/internal/domain"
	"github.com/go-chi/chi/v5"
)

// StatsHandler serves the aggregated delivery counters.
type StatsHandler struct {
	svc stats.Service
}

func NewStatsHandler(svc stats.Service) *StatsHandler { return &StatsHandler{svc: svc} }

func (h *StatsHandler) Template(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Scope(r.Context(), domain.TemplateScope(chi.URLParam(r, "id")))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *StatsHandler) Channels(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Channels(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}
