package handler

import (
	"net/http"
	"strconv"

	"github.com/clinic-notify/internal/application/template"
	"github.com/clinic-notify/internal/domain"
	"github.com/go-chi/chi/v5"
)

// TemplateHandler handles template authoring endpoints.
type TemplateHandler struct {
	svc template.Service
}

func NewTemplateHandler(svc template.Service) *TemplateHandler { return &TemplateHandler{svc: svc} }

type previewRequest struct {
	Channel   domain.Channel    `json:"channel"`
	Variables map[string]string `json:"variables"`
}

func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.TemplateFilter{
		Type:    domain.TemplateType(q.Get("type")),
		Channel: domain.Channel(q.Get("channel")),
		Search:  q.Get("q"),
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "active must be a boolean")
			return
		}
		f.Active = &active
	}
	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "template deleted"})
}

func (h *TemplateHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TemplateHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Preview(r.Context(), chi.URLParam(r, "id"), req.Channel, req.Variables)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
