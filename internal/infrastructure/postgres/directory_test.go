package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinic-notify/internal/domain"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "name", "email", "phone", "device_token"}

func newDirectory(t *testing.T) (*Directory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	d := NewDirectory(db)
	d.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	return d, mock
}

func TestResolve_AllActivePatients(t *testing.T) {
	d, mock := newDirectory(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectRecipients + " ORDER BY id")).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p1", "Ana", "ana@example.com", nil, nil).
			AddRow("p2", nil, nil, "+573001112233", "tok-2"))

	got, err := d.Resolve(context.Background(), domain.Audience{Type: domain.AudienceAll})
	require.NoError(t, err)
	assert.Equal(t, []domain.Recipient{
		{ID: "p1", Name: "Ana", Email: "ana@example.com"},
		{ID: "p2", Phone: "+573001112233", DeviceToken: "tok-2"},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_SegmentFilters(t *testing.T) {
	d, mock := newDirectory(t)
	minAge, maxAge := 60, 90
	filter := domain.AudienceFilter{
		AgeMin:          &minAge,
		AgeMax:          &maxAge,
		Gender:          "F",
		Departments:     []string{"Cardiology"},
		LastVisitWithin: 30,
		Tags:            []string{"Diabetic"},
	}
	want := selectRecipients +
		" AND age >= $1 AND age <= $2 AND lower(gender) = $3 AND lower(department) = ANY($4)" +
		" AND last_visit >= $5 AND (SELECT array_agg(lower(t)) FROM unnest(tags) t) @> $6 ORDER BY id"

	mock.ExpectQuery(regexp.QuoteMeta(want)).
		WithArgs(60, 90, "f", pq.Array([]string{"cardiology"}), time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), pq.Array([]string{"diabetic"})).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("p9", "Rosa", "rosa@example.com", nil, nil))

	got, err := d.Resolve(context.Background(), domain.Audience{Type: domain.AudienceSegment, Filter: filter})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p9", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_QueryError(t *testing.T) {
	d, mock := newDirectory(t)
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := d.Resolve(context.Background(), domain.Audience{Type: domain.AudienceAll})
	assert.ErrorIs(t, err, assert.AnError)
}
