package v1

import "time"

// MetricsBundle is the full set of counts and derived rates for a scope and window.
// Rates are percentages rounded to two decimals.
type MetricsBundle struct {
	SentCount        int64 `json:"sent_count"`
	DeliveredCount   int64 `json:"delivered_count"`
	OpenCount        int64 `json:"open_count"`
	UniqueOpenCount  int64 `json:"unique_open_count"`
	ClickCount       int64 `json:"click_count"`
	UniqueClickCount int64 `json:"unique_click_count"`
	BounceCount      int64 `json:"bounce_count"`
	UnsubscribeCount int64 `json:"unsubscribe_count"`
	ComplaintCount   int64 `json:"complaint_count"`

	OpenRate        float64 `json:"open_rate"`
	UniqueOpenRate  float64 `json:"unique_open_rate"`
	ClickRate       float64 `json:"click_rate"`
	UniqueClickRate float64 `json:"unique_click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
	ComplaintRate   float64 `json:"complaint_rate"`
	DeliveryRate    float64 `json:"delivery_rate"`
}

// Scope narrows a metrics query. Empty fields do not filter.
type Scope struct {
	AccountID  string   `json:"account_id,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

// IsZero reports whether the scope applies no filter beyond the owner.
func (s Scope) IsZero() bool {
	return s.AccountID == "" && s.MessageID == "" && len(s.MessageIDs) == 0
}

// Granularity is a snapshot / timeline period size.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// Granularities lists every supported period size.
var Granularities = []Granularity{GranularityDay, GranularityWeek, GranularityMonth, GranularityYear}

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth, GranularityYear:
		return true
	}
	return false
}

// SnapshotKey identifies one materialized period. MessageID is empty for
// account-level snapshots. PeriodStart must be normalized to the period boundary.
type SnapshotKey struct {
	OwnerID     string      `json:"owner_id"`
	AccountID   string      `json:"account_id"`
	MessageID   string      `json:"message_id,omitempty"`
	PeriodStart time.Time   `json:"period_start"`
	Granularity Granularity `json:"granularity"`
}

// Snapshot is a materialized MetricsBundle for one fully-elapsed period.
type Snapshot struct {
	Key        SnapshotKey   `json:"key"`
	Metrics    MetricsBundle `json:"metrics"`
	ComputedAt time.Time     `json:"computed_at"`
}
