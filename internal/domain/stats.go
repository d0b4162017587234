package domain

// Counters are monotonically increasing per-kind event counts.
type Counters struct {
	Sent         int64 `json:"sent" dynamodbav:"sent"`
	Delivered    int64 `json:"delivered" dynamodbav:"delivered"`
	Failed       int64 `json:"failed" dynamodbav:"failed"`
	Opened       int64 `json:"opened" dynamodbav:"opened"`
	Clicked      int64 `json:"clicked" dynamodbav:"clicked"`
	Bounced      int64 `json:"bounced" dynamodbav:"bounced"`
	Unsubscribed int64 `json:"unsubscribed" dynamodbav:"unsubscribed"`
}

// Add increments the counter for kind by n.
func (c *Counters) Add(kind EventKind, n int64) {
	switch kind {
	case EventSent:
		c.Sent += n
	case EventDelivered:
		c.Delivered += n
	case EventFailed:
		c.Failed += n
	case EventOpened:
		c.Opened += n
	case EventClicked:
		c.Clicked += n
	case EventBounced:
		c.Bounced += n
	case EventUnsubscribed:
		c.Unsubscribed += n
	}
}

// Get returns the counter for kind.
func (c Counters) Get(kind EventKind) int64 {
	switch kind {
	case EventSent:
		return c.Sent
	case EventDelivered:
		return c.Delivered
	case EventFailed:
		return c.Failed
	case EventOpened:
		return c.Opened
	case EventClicked:
		return c.Clicked
	case EventBounced:
		return c.Bounced
	case EventUnsubscribed:
		return c.Unsubscribed
	}
	return 0
}

// Rates are derived from Counters on read and never stored.
type Rates struct {
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
}

// Rates computes the derived ratios; a zero denominator yields 0.
func (c Counters) Rates() Rates {
	return Rates{
		DeliveryRate: ratio(c.Delivered, c.Sent),
		OpenRate:     ratio(c.Opened, c.Delivered),
		ClickRate:    ratio(c.Clicked, c.Opened),
	}
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// ScopeKind names the dimension a counter row aggregates over.
type ScopeKind string

const (
	ScopeCampaign ScopeKind = "campaign"
	ScopeTemplate ScopeKind = "template"
	ScopeGlobal   ScopeKind = "global"
)

// Scope identifies one counter row owner, e.g. campaign:01H... or global.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(s.Kind) + ":" + s.ID
}

func CampaignScope(id string) Scope { return Scope{Kind: ScopeCampaign, ID: id} }
func TemplateScope(id string) Scope { return Scope{Kind: ScopeTemplate, ID: id} }
func GlobalScope() Scope            { return Scope{Kind: ScopeGlobal} }

// AllChannelsKey is the dimension value of notification-level totals rows.
const AllChannelsKey = "ALL"

// ChannelStats is one channel's counters and rates within a scope.
type ChannelStats struct {
	Channel  Channel  `json:"channel"`
	Counters Counters `json:"counters"`
	Rates    Rates    `json:"rates"`
}

// ScopeStats is the full read model for one scope.
type ScopeStats struct {
	Scope     string         `json:"scope"`
	Totals    Counters       `json:"totals"`
	Rates     Rates          `json:"rates"`
	ByChannel []ChannelStats `json:"by_channel"`
}

// RecordResult tells which dedupe layers accepted an event.
type RecordResult struct {
	ChannelNew bool
	TotalNew   bool
}
