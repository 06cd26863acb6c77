package normalize

import (
	"encoding/json"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// Mailgun decodes signed webhook posts: {"signature":{...},"event-data":{...}}.
// An array of such objects is accepted as a batch.
type Mailgun struct{}

type mailgunPayload struct {
	EventData *mailgunEvent `json:"event-data"`
}

type mailgunEvent struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	Recipient string          `json:"recipient"`
	URL       string          `json:"url"`
	Severity  string          `json:"severity"`
	Reason    string          `json:"reason"`
	MessageID string          `json:"message-id"`
	Message   struct {
		Headers struct {
			MessageID string `json:"message-id"`
			Subject   string `json:"subject"`
			From      string `json:"from"`
		} `json:"headers"`
	} `json:"message"`
	DeliveryStatus struct {
		Description string `json:"description"`
		Message     string `json:"message"`
	} `json:"delivery-status"`
	UserVariables map[string]interface{} `json:"user-variables"`
}

func (Mailgun) Provider() v1.Provider { return v1.ProviderMailgun }

func (Mailgun) Split(payload []byte) ([]json.RawMessage, error) {
	return splitObjectOrArray(v1.ProviderMailgun, payload)
}

func (Mailgun) Normalize(item json.RawMessage) (*Normalized, error) {
	var p mailgunPayload
	if err := json.Unmarshal(item, &p); err != nil {
		return nil, malformed(v1.ProviderMailgun, err)
	}
	if p.EventData == nil {
		return nil, malformed(v1.ProviderMailgun, errMissing("event-data"))
	}
	evt := p.EventData

	messageID := firstNonEmpty(evt.Message.Headers.MessageID, evt.MessageID)
	campaignID, _ := evt.UserVariables["campaign_id"].(string)

	out := &Normalized{
		RawType:           evt.Event,
		ExternalID:        evt.ID,
		MessageExternalID: firstNonEmpty(campaignID, messageID),
		Timestamp:         parseFlexibleTime(evt.Timestamp),
		Contact:           v1.Contact{Email: evt.Recipient},
		URL:               evt.URL,
		BounceReason:      firstNonEmpty(evt.DeliveryStatus.Description, evt.DeliveryStatus.Message, evt.Reason),
	}
	if contactID, ok := evt.UserVariables["contact_id"].(string); ok {
		out.Contact.ContactID = contactID
	}

	switch {
	case evt.Event == "rejected":
		out.BounceType = v1.BounceBlock
	case evt.Severity == "permanent":
		out.BounceType = v1.BounceHard
	case evt.Severity == "temporary":
		out.BounceType = v1.BounceSoft
	}

	if evt.Message.Headers.Subject != "" {
		out.Metadata = &v1.MessageMetadata{
			ExternalID: out.MessageExternalID,
			Subject:    evt.Message.Headers.Subject,
			FromEmail:  evt.Message.Headers.From,
		}
	}
	return out, nil
}
