package memory

import (
	"context"
	"testing"
	"time"

	"github.com/clinic-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationRepo_VersionedSave(t *testing.T) {
	repo := NewNotificationRepo()
	ctx := context.Background()
	n := &domain.Notification{NotificationID: "n1", Status: domain.StatusPending, Version: 1}
	require.NoError(t, repo.Create(ctx, n))
	assert.ErrorIs(t, repo.Create(ctx, n), domain.ErrConflict)

	got, err := repo.Get(ctx, "n1")
	require.NoError(t, err)
	got.Status = domain.StatusQueued
	got.Version = 2
	require.NoError(t, repo.Save(ctx, got, 1))

	stale := *got
	stale.Version = 3
	assert.ErrorIs(t, repo.Save(ctx, &stale, 1), domain.ErrVersionConflict)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotificationRepo_GetReturnsCopy(t *testing.T) {
	repo := NewNotificationRepo()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.Notification{
		NotificationID: "n1",
		Deliveries:     []domain.ChannelDelivery{{Channel: domain.ChannelEmail, State: domain.DeliveryPending}},
	}))

	got, err := repo.Get(ctx, "n1")
	require.NoError(t, err)
	got.Deliveries[0].State = domain.DeliverySent

	again, err := repo.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, again.Deliveries[0].State)
}

func TestTemplateRepo_SaveKeepsUsage(t *testing.T) {
	repo := NewTemplateRepo()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.Template{TemplateID: "t1", Name: "a", Version: 1}))
	require.NoError(t, repo.AddUsage(ctx, "t1", 3, time.Now()))

	require.NoError(t, repo.Save(ctx, &domain.Template{TemplateID: "t1", Name: "b", Version: 2}, 1))
	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
	assert.Equal(t, int64(3), got.UsageCount)
	assert.NotNil(t, got.LastUsed)
}

func TestStatsRepo_Dedupe(t *testing.T) {
	repo := NewStatsRepo()
	ctx := context.Background()
	scopes := []domain.Scope{domain.GlobalScope()}
	email := domain.DeliveryEvent{NotificationID: "n1", Channel: domain.ChannelEmail, Kind: domain.EventSent}
	sms := domain.DeliveryEvent{NotificationID: "n1", Channel: domain.ChannelSMS, Kind: domain.EventSent}

	res, err := repo.Record(ctx, email, scopes)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResult{ChannelNew: true, TotalNew: true}, res)

	res, err = repo.Record(ctx, email, scopes)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResult{}, res)

	res, err = repo.Record(ctx, sms, scopes)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResult{ChannelNew: true}, res)

	rows, err := repo.Counters(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows[domain.AllChannelsKey].Sent)
	assert.Equal(t, int64(1), rows["EMAIL"].Sent)
	assert.Equal(t, int64(1), rows["SMS"].Sent)

	evs, err := repo.Events(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestDirectory_Resolve(t *testing.T) {
	now := time.Now()
	dir := NewDirectory([]Patient{
		{Recipient: domain.Recipient{ID: "p1"}, Age: 30, Gender: "F", Department: "cardiology", LastVisit: now.AddDate(0, 0, -10), Active: true, Tags: []string{"vip"}},
		{Recipient: domain.Recipient{ID: "p2"}, Age: 70, Gender: "M", Department: "cardiology", LastVisit: now.AddDate(0, 0, -100), Active: true},
		{Recipient: domain.Recipient{ID: "p3"}, Age: 40, Gender: "F", Department: "pediatrics", Active: false},
	})
	ctx := context.Background()

	all, err := dir.Resolve(ctx, domain.Audience{Type: domain.AudienceAll})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	maxAge := 50
	seg, err := dir.Resolve(ctx, domain.Audience{Type: domain.AudienceSegment, Filter: domain.AudienceFilter{
		AgeMax:          &maxAge,
		Departments:     []string{"Cardiology"},
		LastVisitWithin: 30,
		Tags:            []string{"vip"},
	}})
	require.NoError(t, err)
	require.Len(t, seg, 1)
	assert.Equal(t, "p1", seg[0].ID)
}

func TestSnapshotStore(t *testing.T) {
	s := NewSnapshotStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []domain.Recipient{{ID: "a"}}))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ID)
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
