package v1

import "time"

// Provider names an external email-marketing provider.
type Provider string

const (
	ProviderSparkPost Provider = "sparkpost"
	ProviderMailgun   Provider = "mailgun"
	ProviderSendGrid  Provider = "sendgrid"
	ProviderSES       Provider = "ses"
	ProviderGeneric   Provider = "generic"
)

// Providers lists every supported provider.
var Providers = []Provider{
	ProviderSparkPost,
	ProviderMailgun,
	ProviderSendGrid,
	ProviderSES,
	ProviderGeneric,
}

// AccountStatus is the connection state of an Account.
type AccountStatus string

const (
	AccountInactive AccountStatus = "inactive"
	AccountActive   AccountStatus = "active"
	AccountError    AccountStatus = "error"
)

// Account is an external provider connection owned by a user.
type Account struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"owner_id"`
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	BaseURL  string   `json:"base_url,omitempty"`

	// Credentials is opaque and never serialized.
	Credentials map[string]string `json:"-"`

	Status AccountStatus `json:"status"`

	// WebhookID is the pre-shared identifier carried in the webhook path.
	WebhookID string `json:"-"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	NumericID  int64      `json:"numeric_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
