package handler

import (
	"context"
	"net/http"

	"github.com/clinic-notify/internal/application/event"
	"github.com/clinic-notify/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
)

// --- mocks ---

type mockTemplateSvc struct{ mock.Mock }

func (m *mockTemplateSvc) Create(ctx context.Context, req domain.CreateTemplateRequest) (*domain.TemplateResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.TemplateResult)
	return res, args.Error(1)
}

func (m *mockTemplateSvc) Update(ctx context.Context, templateID string, req domain.UpdateTemplateRequest) (*domain.TemplateResult, error) {
	args := m.Called(ctx, templateID, req)
	res, _ := args.Get(0).(*domain.TemplateResult)
	return res, args.Error(1)
}

func (m *mockTemplateSvc) Delete(ctx context.Context, templateID string) error {
	return m.Called(ctx, templateID).Error(0)
}

func (m *mockTemplateSvc) Duplicate(ctx context.Context, templateID string) (*domain.Template, error) {
	args := m.Called(ctx, templateID)
	t, _ := args.Get(0).(*domain.Template)
	return t, args.Error(1)
}

func (m *mockTemplateSvc) Get(ctx context.Context, templateID string) (*domain.Template, error) {
	args := m.Called(ctx, templateID)
	t, _ := args.Get(0).(*domain.Template)
	return t, args.Error(1)
}

func (m *mockTemplateSvc) List(ctx context.Context, f domain.TemplateFilter) ([]domain.Template, error) {
	args := m.Called(ctx, f)
	ts, _ := args.Get(0).([]domain.Template)
	return ts, args.Error(1)
}

func (m *mockTemplateSvc) MarkUsed(ctx context.Context, templateID string, n int) error {
	return m.Called(ctx, templateID, n).Error(0)
}

func (m *mockTemplateSvc) Preview(ctx context.Context, templateID string, ch domain.Channel, vars map[string]string) (*domain.RenderedContent, error) {
	args := m.Called(ctx, templateID, ch, vars)
	c, _ := args.Get(0).(*domain.RenderedContent)
	return c, args.Error(1)
}

type mockNotificationSvc struct{ mock.Mock }

func (m *mockNotificationSvc) one(args mock.Arguments) (*domain.Notification, error) {
	n, _ := args.Get(0).(*domain.Notification)
	return n, args.Error(1)
}

func (m *mockNotificationSvc) Enqueue(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	return m.one(m.Called(ctx, req))
}

func (m *mockNotificationSvc) EnqueueBatch(ctx context.Context, ns []*domain.Notification) error {
	return m.Called(ctx, ns).Error(0)
}

func (m *mockNotificationSvc) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return m.one(m.Called(ctx, notificationID))
}

func (m *mockNotificationSvc) List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	args := m.Called(ctx, f)
	ns, _ := args.Get(0).([]domain.Notification)
	return ns, args.Error(1)
}

func (m *mockNotificationSvc) Cancel(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return m.one(m.Called(ctx, notificationID))
}

func (m *mockNotificationSvc) Retry(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return m.one(m.Called(ctx, notificationID))
}

func (m *mockNotificationSvc) Resend(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return m.one(m.Called(ctx, notificationID))
}

func (m *mockNotificationSvc) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	args := m.Called(ctx, campaignID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationSvc) CountActive(ctx context.Context, campaignID string) (int, error) {
	args := m.Called(ctx, campaignID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationSvc) Requeue(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationSvc) Inbox(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.Notification, error) {
	args := m.Called(ctx, recipientID, unreadOnly)
	ns, _ := args.Get(0).([]domain.Notification)
	return ns, args.Error(1)
}

func (m *mockNotificationSvc) MarkRead(ctx context.Context, recipientID, notificationID string) (*domain.Notification, error) {
	return m.one(m.Called(ctx, recipientID, notificationID))
}

type mockCampaignSvc struct{ mock.Mock }

func (m *mockCampaignSvc) one(args mock.Arguments) (*domain.Campaign, error) {
	c, _ := args.Get(0).(*domain.Campaign)
	return c, args.Error(1)
}

func (m *mockCampaignSvc) Create(ctx context.Context, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, req))
}

func (m *mockCampaignSvc) Update(ctx context.Context, campaignID string, req domain.UpdateCampaignRequest) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID, req))
}

func (m *mockCampaignSvc) Delete(ctx context.Context, campaignID string) error {
	return m.Called(ctx, campaignID).Error(0)
}

func (m *mockCampaignSvc) Schedule(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID))
}

func (m *mockCampaignSvc) Start(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID))
}

func (m *mockCampaignSvc) Pause(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID))
}

func (m *mockCampaignSvc) Resume(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID))
}

func (m *mockCampaignSvc) Stop(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID))
}

func (m *mockCampaignSvc) Get(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return m.one(m.Called(ctx, campaignID))
}

func (m *mockCampaignSvc) List(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	args := m.Called(ctx, f)
	cs, _ := args.Get(0).([]domain.Campaign)
	return cs, args.Error(1)
}

func (m *mockCampaignSvc) Stats(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	args := m.Called(ctx, campaignID)
	st, _ := args.Get(0).(*domain.CampaignStats)
	return st, args.Error(1)
}

func (m *mockCampaignSvc) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockStatsSvc struct{ mock.Mock }

func (m *mockStatsSvc) Apply(ctx context.Context, ev domain.DeliveryEvent) (domain.RecordResult, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(domain.RecordResult), args.Error(1)
}

func (m *mockStatsSvc) Scope(ctx context.Context, scope domain.Scope) (*domain.ScopeStats, error) {
	args := m.Called(ctx, scope)
	st, _ := args.Get(0).(*domain.ScopeStats)
	return st, args.Error(1)
}

func (m *mockStatsSvc) Channels(ctx context.Context) ([]domain.ChannelStats, error) {
	args := m.Called(ctx)
	cs, _ := args.Get(0).([]domain.ChannelStats)
	return cs, args.Error(1)
}

func (m *mockStatsSvc) Events(ctx context.Context, notificationID string) ([]domain.DeliveryEvent, error) {
	args := m.Called(ctx, notificationID)
	evs, _ := args.Get(0).([]domain.DeliveryEvent)
	return evs, args.Error(1)
}

type mockEventSvc struct{ mock.Mock }

func (m *mockEventSvc) Ingest(ctx context.Context, ev domain.DeliveryEvent) (*event.Result, error) {
	args := m.Called(ctx, ev)
	res, _ := args.Get(0).(*event.Result)
	return res, args.Error(1)
}

func (m *mockEventSvc) Record(ctx context.Context, ev domain.DeliveryEvent) error {
	return m.Called(ctx, ev).Error(0)
}

// --- helpers ---

// withChiParams injects chi URL params into the request context.
func withChiParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withChiID(r *http.Request, id string) *http.Request {
	return withChiParams(r, "id", id)
}
