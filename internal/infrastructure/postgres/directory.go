// Package postgres resolves campaign audiences against the clinic's patient
// directory table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clinic-notify/internal/domain"
	"github.com/lib/pq"
)

// Open connects to the directory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Directory reads recipients from the patients table. Only active patients
// are ever returned.
type Directory struct {
	db  *sql.DB
	now func() time.Time
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

const selectRecipients = `SELECT id, name, email, phone, device_token FROM patients WHERE active = true`

func (d *Directory) Resolve(ctx context.Context, a domain.Audience) ([]domain.Recipient, error) {
	query, args := selectRecipients, []interface{}{}
	if a.Type == domain.AudienceSegment {
		var where string
		where, args = d.segment(a.Filter)
		query += where
	}
	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	out := []domain.Recipient{}
	for rows.Next() {
		var (
			r                         domain.Recipient
			name, email, phone, token sql.NullString
		)
		if err := rows.Scan(&r.ID, &name, &email, &phone, &token); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		r.Name, r.Email, r.Phone, r.DeviceToken = name.String, email.String, phone.String, token.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}

// segment renders the filter as AND clauses with positional arguments.
// String comparisons are case-insensitive.
func (d *Directory) segment(f domain.AudienceFilter) (string, []interface{}) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&sb, " AND "+clause, len(args))
	}
	if f.AgeMin != nil {
		add("age >= $%d", *f.AgeMin)
	}
	if f.AgeMax != nil {
		add("age <= $%d", *f.AgeMax)
	}
	if f.Gender != "" {
		add("lower(gender) = $%d", strings.ToLower(f.Gender))
	}
	if len(f.Departments) > 0 {
		add("lower(department) = ANY($%d)", pq.Array(lower(f.Departments)))
	}
	if f.LastVisitWithin > 0 {
		add("last_visit >= $%d", d.now().UTC().AddDate(0, 0, -f.LastVisitWithin))
	}
	if len(f.Tags) > 0 {
		add("(SELECT array_agg(lower(t)) FROM unnest(tags) t) @> $%d", pq.Array(lower(f.Tags)))
	}
	return sb.String(), args
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
