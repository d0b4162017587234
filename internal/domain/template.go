package domain

import "time"

// TemplateType is the closed set of reasons the clinic sends a message for.
type TemplateType string

const (
	TypeAppointmentReminder     TemplateType = "appointment_reminder"
	TypeAppointmentConfirmation TemplateType = "appointment_confirmation"
	TypeAppointmentCancelled    TemplateType = "appointment_cancelled"
	TypePrescriptionReady       TemplateType = "prescription_ready"
	TypeTestResults             TemplateType = "test_results"
	TypePaymentDue              TemplateType = "payment_due"
	TypePaymentReceived         TemplateType = "payment_received"
	TypeSystemAlert             TemplateType = "system_alert"
	TypeMarketing               TemplateType = "marketing"
	TypeGeneral                 TemplateType = "general"
)

func (t TemplateType) Valid() bool {
	switch t {
	case TypeAppointmentReminder, TypeAppointmentConfirmation, TypeAppointmentCancelled,
		TypePrescriptionReady, TypeTestResults, TypePaymentDue, TypePaymentReceived,
		TypeSystemAlert, TypeMarketing, TypeGeneral:
		return true
	}
	return false
}

// VariableType drives the value check applied at render time.
type VariableType string

const (
	VarText   VariableType = "text"
	VarNumber VariableType = "number"
	VarDate   VariableType = "date"
	VarEmail  VariableType = "email"
	VarPhone  VariableType = "phone"
)

func (t VariableType) Valid() bool {
	switch t {
	case VarText, VarNumber, VarDate, VarEmail, VarPhone:
		return true
	}
	return false
}

// Variable declares one placeholder a template may reference.
type Variable struct {
	Name        string       `json:"name" dynamodbav:"name" validate:"required"`
	Type        VariableType `json:"type" dynamodbav:"type" validate:"required"`
	Required    bool         `json:"required" dynamodbav:"required"`
	Default     *string      `json:"default,omitempty" dynamodbav:"default,omitempty"`
	Description string       `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Sample      string       `json:"sample,omitempty" dynamodbav:"sample,omitempty"`
}

// TemplateContent holds the per-channel bodies. Text is the fallback for every channel.
type TemplateContent struct {
	Subject string `json:"subject,omitempty" dynamodbav:"subject,omitempty"`
	Text    string `json:"text" dynamodbav:"text"`
	HTML    string `json:"html,omitempty" dynamodbav:"html,omitempty"`
	SMS     string `json:"sms,omitempty" dynamodbav:"sms,omitempty"`
	Push    string `json:"push,omitempty" dynamodbav:"push,omitempty"`
}

// Bodies returns every non-empty string that may contain placeholders.
func (c TemplateContent) Bodies() []string {
	var out []string
	for _, s := range []string{c.Subject, c.Text, c.HTML, c.SMS, c.Push} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BodyFor returns the channel-specific body, falling back to Text.
func (c TemplateContent) BodyFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		if c.HTML != "" {
			return c.HTML
		}
	case ChannelSMS:
		if c.SMS != "" {
			return c.SMS
		}
	case ChannelPush:
		if c.Push != "" {
			return c.Push
		}
	case ChannelInApp:
	}
	return c.Text
}

type Template struct {
	TemplateID  string          `json:"id" dynamodbav:"template_id"`
	Name        string          `json:"name" dynamodbav:"name"`
	Description string          `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Type        TemplateType    `json:"type" dynamodbav:"type"`
	Content     TemplateContent `json:"content" dynamodbav:"content"`
	Variables   []Variable      `json:"variables" dynamodbav:"variables"`
	Channels    []Channel       `json:"channels" dynamodbav:"channels"`
	IsActive    bool            `json:"is_active" dynamodbav:"is_active"`
	IsDefault   bool            `json:"is_default" dynamodbav:"is_default"`
	UsageCount  int64           `json:"usage_count" dynamodbav:"usage_count"`
	LastUsed    *time.Time      `json:"last_used,omitempty" dynamodbav:"last_used,omitempty"`
	Version     int64           `json:"version" dynamodbav:"version"`
	CreatedAt   time.Time       `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" dynamodbav:"updated_at"`
}

// Variable looks a declaration up by name.
func (t *Template) Variable(name string) (Variable, bool) {
	for _, v := range t.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// HasChannel reports whether ch is in the template's channel set.
func (t *Template) HasChannel(ch Channel) bool {
	for _, c := range t.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// CreateTemplateRequest is the authoring payload for a new template.
type CreateTemplateRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=1000"`
	Type        TemplateType    `json:"type" validate:"required"`
	Content     TemplateContent `json:"content"`
	Variables   []Variable      `json:"variables" validate:"dive"`
	Channels    []Channel       `json:"channels" validate:"required,min=1,dive,channel"`
	IsActive    *bool           `json:"is_active"`
	IsDefault   bool            `json:"is_default"`
}

// UpdateTemplateRequest is a partial update; nil fields are left unchanged.
type UpdateTemplateRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=1000"`
	Type        *TemplateType    `json:"type"`
	Content     *TemplateContent `json:"content"`
	Variables   *[]Variable      `json:"variables"`
	Channels    *[]Channel       `json:"channels" validate:"omitempty,min=1,dive,channel"`
	IsActive    *bool            `json:"is_active"`
	IsDefault   *bool            `json:"is_default"`
}

// TemplateFilter narrows List results. Zero values match everything.
type TemplateFilter struct {
	Type    TemplateType
	Channel Channel
	Search  string
	Active  *bool
}

// TemplateResult pairs a saved template with authoring warnings such as
// declared-but-unused variables.
type TemplateResult struct {
	Template *Template `json:"template"`
	Warnings []string  `json:"warnings,omitempty"`
}

// RenderedContent is what a Sender receives for one channel.
type RenderedContent struct {
	Channel Channel `json:"channel" dynamodbav:"channel"`
	Title   string  `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Body    string  `json:"body" dynamodbav:"body"`
	HTML    string  `json:"html,omitempty" dynamodbav:"html,omitempty"`
}
