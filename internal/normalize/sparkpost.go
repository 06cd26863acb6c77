package normalize

import (
	"encoding/json"
	"errors"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// SparkPost decodes msys webhook batches:
// [{"msys":{"message_event":{...}}}, {"msys":{"track_event":{...}}}]
type SparkPost struct{}

type sparkPostEnvelope struct {
	Msys map[string]json.RawMessage `json:"msys"`
}

type sparkPostEvent struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	MessageID    string `json:"message_id"`
	CampaignID   string `json:"campaign_id"`
	TemplateID   string `json:"template_id"`
	RcptTo       string `json:"rcpt_to"`
	RawRcptTo    string `json:"raw_rcpt_to"`
	Timestamp    string `json:"timestamp"`
	BounceClass  string `json:"bounce_class"`
	Reason       string `json:"reason"`
	RawReason    string `json:"raw_reason"`
	TargetLink   string `json:"target_link_url"`
	Subject      string `json:"subject"`
	FriendlyFrom string `json:"friendly_from"`
	RcptMeta     struct {
		ContactID string `json:"contact_id"`
	} `json:"rcpt_meta"`
}

// SparkPost bounce classes, grouped by how they affect deliverability.
var sparkPostBounceClasses = map[string]v1.BounceType{
	"10": v1.BounceHard, "25": v1.BounceHard, "30": v1.BounceHard, "90": v1.BounceHard,
	"20": v1.BounceSoft, "21": v1.BounceSoft, "22": v1.BounceSoft, "23": v1.BounceSoft,
	"24": v1.BounceSoft, "40": v1.BounceSoft, "60": v1.BounceSoft, "70": v1.BounceSoft,
	"100": v1.BounceSoft,
	"50": v1.BounceBlock, "51": v1.BounceBlock, "52": v1.BounceBlock, "53": v1.BounceBlock,
	"54": v1.BounceBlock,
}

func (SparkPost) Provider() v1.Provider { return v1.ProviderSparkPost }

// Split drops empty msys objects; SparkPost sends one when a webhook is tested.
func (SparkPost) Split(payload []byte) ([]json.RawMessage, error) {
	var batch []json.RawMessage
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, malformed(v1.ProviderSparkPost, err)
	}

	items := make([]json.RawMessage, 0, len(batch))
	for _, raw := range batch {
		var env sparkPostEnvelope
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Msys) == 0 {
			continue
		}
		items = append(items, raw)
	}
	return items, nil
}

func (SparkPost) Normalize(item json.RawMessage) (*Normalized, error) {
	var env sparkPostEnvelope
	if err := json.Unmarshal(item, &env); err != nil {
		return nil, malformed(v1.ProviderSparkPost, err)
	}

	var inner json.RawMessage
	for _, body := range env.Msys {
		inner = body
		break
	}
	if inner == nil {
		return nil, malformed(v1.ProviderSparkPost, errors.New("empty msys"))
	}

	var evt sparkPostEvent
	if err := json.Unmarshal(inner, &evt); err != nil {
		return nil, malformed(v1.ProviderSparkPost, err)
	}

	email := evt.RcptTo
	if email == "" {
		email = evt.RawRcptTo
	}

	out := &Normalized{
		RawType:           evt.Type,
		ExternalID:        evt.EventID,
		MessageExternalID: firstNonEmpty(evt.CampaignID, evt.TemplateID, evt.MessageID),
		Timestamp:         parseUnixString(evt.Timestamp),
		Contact:           v1.Contact{Email: email, ContactID: evt.RcptMeta.ContactID},
		URL:               evt.TargetLink,
		BounceType:        sparkPostBounceClasses[evt.BounceClass],
		BounceReason:      firstNonEmpty(evt.Reason, evt.RawReason),
	}
	if evt.Type == "policy_rejection" && out.BounceType == "" {
		out.BounceType = v1.BounceBlock
	}
	if evt.Subject != "" {
		out.Metadata = &v1.MessageMetadata{
			ExternalID: out.MessageExternalID,
			Subject:    evt.Subject,
			FromEmail:  evt.FriendlyFrom,
		}
	}
	return out, nil
}
