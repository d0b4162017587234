package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clinic-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCampaignCreate_HappyPath(t *testing.T) {
	svc := &mockCampaignSvc{}
	svc.On("Create", mock.Anything, mock.MatchedBy(func(req domain.CreateCampaignRequest) bool {
		return req.Name == "flu shots"
	})).Return(&domain.Campaign{CampaignID: "c1", Name: "flu shots", Status: domain.CampaignDraft}, nil)
	h := NewCampaignHandler(svc)
	body, _ := json.Marshal(domain.CreateCampaignRequest{Name: "flu shots"})
	r := httptest.NewRequest(http.MethodPost, "/v1/campaigns", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Create(rr, r)

	assert.Equal(t, http.StatusCreated, rr.Code)
	var resp domain.Campaign
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, domain.CampaignDraft, resp.Status)
	svc.AssertExpectations(t)
}

func TestCampaignList_Filter(t *testing.T) {
	svc := &mockCampaignSvc{}
	svc.On("List", mock.Anything, domain.CampaignFilter{Status: domain.CampaignRunning}).
		Return([]domain.Campaign{{CampaignID: "c1"}}, nil)
	h := NewCampaignHandler(svc)
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/v1/campaigns?status=RUNNING", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestCampaignUpdate_NotEditable(t *testing.T) {
	svc := &mockCampaignSvc{}
	svc.On("Update", mock.Anything, "c1", mock.Anything).Return(nil, domain.ErrConflict)
	h := NewCampaignHandler(svc)
	name := "renamed"
	body, _ := json.Marshal(domain.UpdateCampaignRequest{Name: &name})
	r := withChiID(httptest.NewRequest(http.MethodPut, "/v1/campaigns/c1", bytes.NewReader(body)), "c1")
	rr := httptest.NewRecorder()
	h.Update(rr, r)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCampaignTransitions(t *testing.T) {
	cases := []struct {
		name   string
		method string
		status domain.CampaignStatus
		call   func(h *CampaignHandler) http.HandlerFunc
	}{
		{"schedule", "Schedule", domain.CampaignSched, func(h *CampaignHandler) http.HandlerFunc { return h.Schedule }},
		{"start", "Start", domain.CampaignRunning, func(h *CampaignHandler) http.HandlerFunc { return h.Start }},
		{"pause", "Pause", domain.CampaignPaused, func(h *CampaignHandler) http.HandlerFunc { return h.Pause }},
		{"resume", "Resume", domain.CampaignRunning, func(h *CampaignHandler) http.HandlerFunc { return h.Resume }},
		{"stop", "Stop", domain.CampaignCancelled, func(h *CampaignHandler) http.HandlerFunc { return h.Stop }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockCampaignSvc{}
			svc.On(tc.method, mock.Anything, "c1").Return(&domain.Campaign{CampaignID: "c1", Status: tc.status}, nil)
			h := NewCampaignHandler(svc)
			r := withChiID(httptest.NewRequest(http.MethodPost, "/v1/campaigns/c1/"+tc.name, nil), "c1")
			rr := httptest.NewRecorder()
			tc.call(h)(rr, r)

			assert.Equal(t, http.StatusOK, rr.Code)
			var resp domain.Campaign
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tc.status, resp.Status)
			svc.AssertExpectations(t)
		})
	}
}

func TestCampaignStart_EmptyAudience(t *testing.T) {
	svc := &mockCampaignSvc{}
	svc.On("Start", mock.Anything, "c1").Return(nil, domain.ErrBadRequest)
	h := NewCampaignHandler(svc)
	rr := httptest.NewRecorder()
	h.Start(rr, withChiID(httptest.NewRequest(http.MethodPost, "/v1/campaigns/c1/start", nil), "c1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCampaignStats(t *testing.T) {
	svc := &mockCampaignSvc{}
	st := &domain.CampaignStats{CampaignID: "c1", TotalRecipients: 3}
	st.Totals.Add(domain.EventSent, 3)
	svc.On("Stats", mock.Anything, "c1").Return(st, nil)
	h := NewCampaignHandler(svc)
	rr := httptest.NewRecorder()
	h.Stats(rr, withChiID(httptest.NewRequest(http.MethodGet, "/v1/campaigns/c1/stats", nil), "c1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp domain.CampaignStats
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(3), resp.Totals.Get(domain.EventSent))
}

func TestCampaignDelete_NotFound(t *testing.T) {
	svc := &mockCampaignSvc{}
	svc.On("Delete", mock.Anything, "c9").Return(domain.ErrNotFound)
	h := NewCampaignHandler(svc)
	rr := httptest.NewRecorder()
	h.Delete(rr, withChiID(httptest.NewRequest(http.MethodDelete, "/v1/campaigns/c9", nil), "c9"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatsTemplate(t *testing.T) {
	svc := &mockStatsSvc{}
	svc.On("Scope", mock.Anything, domain.TemplateScope("t1")).
		Return(&domain.ScopeStats{Scope: domain.TemplateScope("t1").String()}, nil)
	h := NewStatsHandler(svc)
	rr := httptest.NewRecorder()
	h.Template(rr, withChiID(httptest.NewRequest(http.MethodGet, "/v1/stats/templates/t1", nil), "t1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestStatsChannels(t *testing.T) {
	svc := &mockStatsSvc{}
	svc.On("Channels", mock.Anything).Return([]domain.ChannelStats{{Channel: domain.ChannelEmail}, {Channel: domain.ChannelSMS}}, nil)
	h := NewStatsHandler(svc)
	rr := httptest.NewRecorder()
	h.Channels(rr, httptest.NewRequest(http.MethodGet, "/v1/stats/channels", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp ListEnvelope[domain.ChannelStats]
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
}

func TestHealthPing(t *testing.T) {
	h := NewHealthHandler()
	rr := httptest.NewRecorder()
	h.Ping(rr, withChiParams(httptest.NewRequest(http.MethodGet, "/v1/health-check/ping", nil), "action", "ping"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.Ping(rr, withChiParams(httptest.NewRequest(http.MethodGet, "/v1/health-check/pong", nil), "action", "pong"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
