package handler

import (
	"context"
	"net/http"

	"github.com/clinic-notify/internal/application/campaign"
	"github.com/clinic-notify/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CampaignHandler handles campaign definition and lifecycle endpoints.
type CampaignHandler struct {
	svc campaign.Service
}

func NewCampaignHandler(svc campaign.Service) *CampaignHandler { return &CampaignHandler{svc: svc} }

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCampaignRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.svc.Create(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.svc.List(r.Context(), domain.CampaignFilter{
		Status: domain.CampaignStatus(q.Get("status")),
		Type:   domain.CampaignType(q.Get("type")),
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Get)
}

func (h *CampaignHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCampaignRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "campaign deleted"})
}

func (h *CampaignHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Schedule)
}

func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Pause)
}

func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Resume)
}

func (h *CampaignHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Stop)
}

func (h *CampaignHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *CampaignHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*domain.Campaign, error)) {
	c, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
