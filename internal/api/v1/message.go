package v1

import "time"

// PlaceholderSubject marks a Message created before its metadata was known.
const PlaceholderSubject = "unavailable"

// MessageSummary is the per-message "last known totals" cache.
// It trails the event log and is never used as the source of truth.
type MessageSummary struct {
	SentCount        int64 `json:"sent_count"`
	DeliveredCount   int64 `json:"delivered_count"`
	OpenCount        int64 `json:"open_count"`
	UniqueOpenCount  int64 `json:"unique_open_count"`
	ClickCount       int64 `json:"click_count"`
	UniqueClickCount int64 `json:"unique_click_count"`
	BounceCount      int64 `json:"bounce_count"`
	UnsubscribeCount int64 `json:"unsubscribe_count"`
	ComplaintCount   int64 `json:"complaint_count"`
}

// Message is a sendable email instance tracked for engagement.
type Message struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	AccountID   string         `json:"account_id"`
	ExternalID  string         `json:"external_id"`
	NumericID   int64          `json:"numeric_id,omitempty"`
	Subject     string         `json:"subject"`
	FromName    string         `json:"from_name,omitempty"`
	FromEmail   string         `json:"from_email,omitempty"`
	Placeholder bool           `json:"placeholder"`
	Summary     MessageSummary `json:"summary"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MessageMetadata is what a provider can tell us about a message.
type MessageMetadata struct {
	ExternalID string `json:"external_id"`
	Subject    string `json:"subject"`
	FromName   string `json:"from_name,omitempty"`
	FromEmail  string `json:"from_email,omitempty"`
}
