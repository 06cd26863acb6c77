package normalize

import (
	"encoding/json"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// Generic accepts events already close to the canonical shape, one object or an array.
//
//	{"id":"evt-1","event_type":"open","message_id":"welcome","timestamp":"2024-03-01T10:00:00Z",
//	 "email":"a@example.com","contact_id":"c-1","url":"","bounce_type":"","bounce_reason":""}
type Generic struct{}

type genericEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	MessageID    string          `json:"message_id"`
	Timestamp    json.RawMessage `json:"timestamp"`
	Email        string          `json:"email"`
	ContactID    string          `json:"contact_id"`
	URL          string          `json:"url"`
	BounceType   string          `json:"bounce_type"`
	BounceReason string          `json:"bounce_reason"`
	Subject      string          `json:"subject"`
	FromName     string          `json:"from_name"`
	FromEmail    string          `json:"from_email"`
}

func (Generic) Provider() v1.Provider { return v1.ProviderGeneric }

func (Generic) Split(payload []byte) ([]json.RawMessage, error) {
	return splitObjectOrArray(v1.ProviderGeneric, payload)
}

func (Generic) Normalize(item json.RawMessage) (*Normalized, error) {
	var evt genericEvent
	if err := json.Unmarshal(item, &evt); err != nil {
		return nil, malformed(v1.ProviderGeneric, err)
	}

	out := &Normalized{
		RawType:           evt.EventType,
		ExternalID:        evt.ID,
		MessageExternalID: evt.MessageID,
		Timestamp:         parseFlexibleTime(evt.Timestamp),
		Contact:           v1.Contact{Email: evt.Email, ContactID: evt.ContactID},
		URL:               evt.URL,
		BounceReason:      evt.BounceReason,
	}
	switch bt := v1.BounceType(evt.BounceType); bt {
	case v1.BounceHard, v1.BounceSoft, v1.BounceBlock, v1.BounceUndetermined:
		out.BounceType = bt
	}
	if evt.Subject != "" {
		out.Metadata = &v1.MessageMetadata{
			ExternalID: evt.MessageID,
			Subject:    evt.Subject,
			FromName:   evt.FromName,
			FromEmail:  evt.FromEmail,
		}
	}
	return out, nil
}
