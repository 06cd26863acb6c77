package normalize

import (
	"encoding/json"
	"strings"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// SendGrid decodes Event Webhook batches: a JSON array of flat event objects.
type SendGrid struct{}

type sendGridEvent struct {
	Event       string          `json:"event"`
	Email       string          `json:"email"`
	Timestamp   json.RawMessage `json:"timestamp"`
	SGEventID   string          `json:"sg_event_id"`
	SGMessageID string          `json:"sg_message_id"`
	URL         string          `json:"url"`
	Reason      string          `json:"reason"`
	Response    string          `json:"response"`
	Type        string          `json:"type"`
	CampaignID  string          `json:"campaign_id"`
	SingleSend  string          `json:"singlesend_id"`
	ContactID   string          `json:"contact_id"`
}

func (SendGrid) Provider() v1.Provider { return v1.ProviderSendGrid }

func (SendGrid) Split(payload []byte) ([]json.RawMessage, error) {
	return splitObjectOrArray(v1.ProviderSendGrid, payload)
}

func (SendGrid) Normalize(item json.RawMessage) (*Normalized, error) {
	var evt sendGridEvent
	if err := json.Unmarshal(item, &evt); err != nil {
		return nil, malformed(v1.ProviderSendGrid, err)
	}

	out := &Normalized{
		RawType:           evt.Event,
		ExternalID:        evt.SGEventID,
		MessageExternalID: firstNonEmpty(evt.CampaignID, evt.SingleSend, sendGridMessageID(evt.SGMessageID)),
		Timestamp:         parseFlexibleTime(evt.Timestamp),
		Contact:           v1.Contact{Email: evt.Email, ContactID: evt.ContactID},
		URL:               evt.URL,
		BounceReason:      firstNonEmpty(evt.Reason, evt.Response),
	}

	switch {
	case evt.Event == "dropped" || evt.Type == "blocked":
		out.BounceType = v1.BounceBlock
	case evt.Type == "bounce":
		out.BounceType = v1.BounceHard
	}
	return out, nil
}

// sendGridMessageID strips the per-recipient filter suffix:
// "14c5d75ce93.dfd.64b469.filter0001.16648.5515E0B88.0" -> "14c5d75ce93".
func sendGridMessageID(id string) string {
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}
