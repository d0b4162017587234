package domain

import (
	"fmt"
	"time"
)

type CampaignType string

const (
	CampaignBroadcast CampaignType = "broadcast"
	CampaignTargeted  CampaignType = "targeted"
	CampaignTriggered CampaignType = "triggered"
	CampaignScheduled CampaignType = "scheduled"
)

func (t CampaignType) Valid() bool {
	switch t {
	case CampaignBroadcast, CampaignTargeted, CampaignTriggered, CampaignScheduled:
		return true
	}
	return false
}

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignSched     CampaignStatus = "SCHEDULED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignSched, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignCancelled:
		return true
	}
	return false
}

// Editable reports whether the definition may still be changed.
func (s CampaignStatus) Editable() bool {
	return s == CampaignDraft || s == CampaignSched
}

// Finished reports whether the campaign reached an end state.
func (s CampaignStatus) Finished() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

type AudienceType string

const (
	AudienceAll     AudienceType = "all"
	AudienceSegment AudienceType = "segment"
	AudienceCustom  AudienceType = "custom"
)

func (t AudienceType) Valid() bool {
	switch t {
	case AudienceAll, AudienceSegment, AudienceCustom:
		return true
	}
	return false
}

// AudienceFilter is the segment predicate evaluated against the patient directory.
type AudienceFilter struct {
	AgeMin          *int     `json:"age_min,omitempty" dynamodbav:"age_min,omitempty"`
	AgeMax          *int     `json:"age_max,omitempty" dynamodbav:"age_max,omitempty"`
	Gender          string   `json:"gender,omitempty" dynamodbav:"gender,omitempty"`
	Departments     []string `json:"departments,omitempty" dynamodbav:"departments,omitempty"`
	LastVisitWithin int      `json:"last_visit_within_days,omitempty" dynamodbav:"last_visit_within_days,omitempty"`
	Tags            []string `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
}

type Audience struct {
	Type            AudienceType   `json:"type" dynamodbav:"type"`
	Filter          AudienceFilter `json:"filter" dynamodbav:"filter"`
	Recipients      []Recipient    `json:"recipients,omitempty" dynamodbav:"recipients,omitempty"`
	TotalRecipients int            `json:"total_recipients" dynamodbav:"total_recipients"`
	SnapshotKey     string         `json:"snapshot_key,omitempty" dynamodbav:"snapshot_key,omitempty"`
}

type CampaignContent struct {
	TemplateID     string            `json:"template_id" dynamodbav:"template_id" validate:"required"`
	Variables      map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`
	TestMode       bool              `json:"test_mode" dynamodbav:"test_mode"`
	TestRecipients []Recipient       `json:"test_recipients,omitempty" dynamodbav:"test_recipients,omitempty"`
}

type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case "", FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

type Schedule struct {
	StartAt   *time.Time `json:"start_at,omitempty" dynamodbav:"start_at,omitempty"`
	EndAt     *time.Time `json:"end_at,omitempty" dynamodbav:"end_at,omitempty"`
	Frequency Frequency  `json:"frequency,omitempty" dynamodbav:"frequency,omitempty"`
	Timezone  string     `json:"timezone,omitempty" dynamodbav:"timezone,omitempty"`
	TimeOfDay string     `json:"time_of_day,omitempty" dynamodbav:"time_of_day,omitempty"` // HH:MM
}

// StartInstant resolves StartAt's calendar date at TimeOfDay in Timezone.
// Without TimeOfDay the StartAt instant is used as is.
func (s Schedule) StartInstant() (time.Time, error) {
	if s.StartAt == nil {
		return time.Time{}, fmt.Errorf("schedule has no start: %w", ErrBadRequest)
	}
	if s.TimeOfDay == "" {
		return *s.StartAt, nil
	}
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("timezone %q: %w", s.Timezone, ErrBadRequest)
		}
		loc = l
	}
	tod, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("time of day %q: %w", s.TimeOfDay, ErrBadRequest)
	}
	d := s.StartAt.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), tod.Hour(), tod.Minute(), 0, 0, loc), nil
}

// Next returns the occurrence after t for recurring schedules.
func (s Schedule) Next(t time.Time) (time.Time, bool) {
	switch s.Frequency {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1), true
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7), true
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0), true
	case FrequencyOnce, "":
	}
	return time.Time{}, false
}

type DeliveryPolicy struct {
	Channels              []Channel `json:"channels" dynamodbav:"channels" validate:"required,min=1,dive,channel"`
	Priority              Priority  `json:"priority" dynamodbav:"priority" validate:"omitempty,priority"`
	BatchSize             int       `json:"batch_size" dynamodbav:"batch_size" validate:"min=0,max=10000"`
	DelayBetweenBatchesMs int64     `json:"delay_between_batches_ms" dynamodbav:"delay_between_batches_ms" validate:"min=0"`
	MaxRetries            *int      `json:"max_retries,omitempty" dynamodbav:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
}

func (d DeliveryPolicy) Delay() time.Duration {
	return time.Duration(d.DelayBetweenBatchesMs) * time.Millisecond
}

// Progress records how far batch release got; a restarted runner resumes from it.
type Progress struct {
	TotalBatches       int        `json:"total_batches" dynamodbav:"total_batches"`
	ReleasedBatches    int        `json:"released_batches" dynamodbav:"released_batches"`
	ReleasedRecipients int        `json:"released_recipients" dynamodbav:"released_recipients"`
	StartedAt          *time.Time `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
}

// AllReleased reports whether every batch has been enqueued.
func (p Progress) AllReleased() bool {
	return p.ReleasedBatches >= p.TotalBatches
}

type Campaign struct {
	CampaignID  string          `json:"id" dynamodbav:"campaign_id"`
	Name        string          `json:"name" dynamodbav:"name"`
	Description string          `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Type        CampaignType    `json:"type" dynamodbav:"type"`
	Status      CampaignStatus  `json:"status" dynamodbav:"status"`
	Audience    Audience        `json:"audience" dynamodbav:"audience"`
	Content     CampaignContent `json:"content" dynamodbav:"content"`
	Schedule    Schedule        `json:"schedule" dynamodbav:"schedule"`
	Delivery    DeliveryPolicy  `json:"delivery" dynamodbav:"delivery"`
	Progress    Progress        `json:"progress" dynamodbav:"progress"`
	ParentID    string          `json:"parent_id,omitempty" dynamodbav:"parent_id,omitempty"`
	RunNumber   int             `json:"run_number" dynamodbav:"run_number"`
	Version     int64           `json:"version" dynamodbav:"version"`
	CreatedAt   time.Time       `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" dynamodbav:"updated_at"`
}

// Batches splits n recipients into batch sizes. size <= 0 means one batch.
func Batches(n, size int) []int {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size >= n {
		return []int{n}
	}
	out := make([]int, 0, (n+size-1)/size)
	for n > 0 {
		b := size
		if n < size {
			b = n
		}
		out = append(out, b)
		n -= b
	}
	return out
}

type CreateCampaignRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=1000"`
	Type        CampaignType    `json:"type" validate:"required"`
	Audience    Audience        `json:"audience"`
	Content     CampaignContent `json:"content"`
	Schedule    Schedule        `json:"schedule"`
	Delivery    DeliveryPolicy  `json:"delivery"`
}

type UpdateCampaignRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=1000"`
	Type        *CampaignType    `json:"type"`
	Audience    *Audience        `json:"audience"`
	Content     *CampaignContent `json:"content"`
	Schedule    *Schedule        `json:"schedule"`
	Delivery    *DeliveryPolicy  `json:"delivery"`
}

type CampaignFilter struct {
	Status CampaignStatus
	Type   CampaignType
}

// CampaignStats is the read-side view served by GET /campaigns/{id}/stats.
type CampaignStats struct {
	CampaignID      string         `json:"campaign_id"`
	Status          CampaignStatus `json:"status"`
	TotalRecipients int            `json:"total_recipients"`
	Progress        Progress       `json:"progress"`
	Totals          Counters       `json:"totals"`
	Rates           Rates          `json:"rates"`
	ByChannel       []ChannelStats `json:"by_channel"`
}
