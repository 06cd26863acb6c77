package normalize

import (
	"encoding/json"
	"fmt"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// SES decodes event notifications delivered through SNS. Bare notifications
// (no SNS envelope) are accepted too. Bounces and complaints listing several
// recipients fan out into one item per recipient.
type SES struct{}

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID     string              `json:"messageId"`
		Timestamp     string              `json:"timestamp"`
		Destination   []string            `json:"destination"`
		Tags          map[string][]string `json:"tags"`
		CommonHeaders struct {
			Subject string   `json:"subject"`
			From    []string `json:"from"`
		} `json:"commonHeaders"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		BounceSubType     string `json:"bounceSubType"`
		Timestamp         string `json:"timestamp"`
		FeedbackID        string `json:"feedbackId"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		Timestamp            string `json:"timestamp"`
		FeedbackID           string `json:"feedbackId"`
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
	Delivery *struct {
		Timestamp string `json:"timestamp"`
	} `json:"delivery"`
	Open *struct {
		Timestamp string `json:"timestamp"`
	} `json:"open"`
	Click *struct {
		Timestamp string `json:"timestamp"`
		Link      string `json:"link"`
	} `json:"click"`
	Reject *struct {
		Reason string `json:"reason"`
	} `json:"reject"`
	Subscription *struct {
		Timestamp string `json:"timestamp"`
	} `json:"subscription"`
}

func (n sesNotification) kind() string {
	return firstNonEmpty(n.EventType, n.NotificationType)
}

func (n sesNotification) recipients() []string {
	switch {
	case n.Bounce != nil && len(n.Bounce.BouncedRecipients) > 0:
		out := make([]string, len(n.Bounce.BouncedRecipients))
		for i, r := range n.Bounce.BouncedRecipients {
			out[i] = r.EmailAddress
		}
		return out
	case n.Complaint != nil && len(n.Complaint.ComplainedRecipients) > 0:
		out := make([]string, len(n.Complaint.ComplainedRecipients))
		for i, r := range n.Complaint.ComplainedRecipients {
			out[i] = r.EmailAddress
		}
		return out
	case len(n.Mail.Destination) > 0:
		return n.Mail.Destination[:1]
	}
	return []string{""}
}

// sesItem is the per-recipient unit handed from Split to Normalize.
type sesItem struct {
	ExternalID   string          `json:"external_id"`
	Recipient    string          `json:"recipient"`
	Notification json.RawMessage `json:"notification"`
}

func (SES) Provider() v1.Provider { return v1.ProviderSES }

// Split unwraps SNS envelopes. Subscription handshakes carry no events.
func (SES) Split(payload []byte) ([]json.RawMessage, error) {
	raws, err := splitObjectOrArray(v1.ProviderSES, payload)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	for _, raw := range raws {
		var env snsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, malformed(v1.ProviderSES, err)
		}

		var (
			body  json.RawMessage
			snsID string
		)
		switch env.Type {
		case "SubscriptionConfirmation", "UnsubscribeConfirmation":
			continue
		case "Notification":
			body = json.RawMessage(env.Message)
			snsID = env.MessageID
		case "":
			body = raw
		default:
			return nil, malformed(v1.ProviderSES, fmt.Errorf("unknown SNS message type %q", env.Type))
		}

		var n sesNotification
		if err := json.Unmarshal(body, &n); err != nil {
			return nil, malformed(v1.ProviderSES, err)
		}

		recipients := n.recipients()
		for i, rcpt := range recipients {
			externalID := snsID
			if externalID != "" && len(recipients) > 1 {
				externalID = fmt.Sprintf("%s:%d", snsID, i)
			}
			item, err := json.Marshal(sesItem{ExternalID: externalID, Recipient: rcpt, Notification: body})
			if err != nil {
				return nil, malformed(v1.ProviderSES, err)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (SES) Normalize(item json.RawMessage) (*Normalized, error) {
	var it sesItem
	if err := json.Unmarshal(item, &it); err != nil {
		return nil, malformed(v1.ProviderSES, err)
	}
	var n sesNotification
	if err := json.Unmarshal(it.Notification, &n); err != nil {
		return nil, malformed(v1.ProviderSES, err)
	}

	campaignID := ""
	if tags := n.Mail.Tags["campaign_id"]; len(tags) > 0 {
		campaignID = tags[0]
	}

	out := &Normalized{
		RawType:           n.kind(),
		ExternalID:        it.ExternalID,
		MessageExternalID: firstNonEmpty(campaignID, n.Mail.MessageID),
		Contact:           v1.Contact{Email: it.Recipient},
	}

	eventTime := n.Mail.Timestamp
	switch {
	case n.Bounce != nil:
		eventTime = firstNonEmpty(n.Bounce.Timestamp, eventTime)
		switch n.Bounce.BounceType {
		case "Permanent":
			out.BounceType = v1.BounceHard
		case "Transient":
			out.BounceType = v1.BounceSoft
			if n.Bounce.BounceSubType == "ContentRejected" || n.Bounce.BounceSubType == "AttachmentRejected" {
				out.BounceType = v1.BounceBlock
			}
		}
		for _, r := range n.Bounce.BouncedRecipients {
			if r.EmailAddress == it.Recipient {
				out.BounceReason = r.DiagnosticCode
			}
		}
	case n.Complaint != nil:
		eventTime = firstNonEmpty(n.Complaint.Timestamp, eventTime)
	case n.Delivery != nil:
		eventTime = firstNonEmpty(n.Delivery.Timestamp, eventTime)
	case n.Open != nil:
		eventTime = firstNonEmpty(n.Open.Timestamp, eventTime)
	case n.Click != nil:
		eventTime = firstNonEmpty(n.Click.Timestamp, eventTime)
		out.URL = n.Click.Link
	case n.Reject != nil:
		out.BounceType = v1.BounceBlock
		out.BounceReason = n.Reject.Reason
	case n.Subscription != nil:
		eventTime = firstNonEmpty(n.Subscription.Timestamp, eventTime)
	}
	out.Timestamp = parseTimeString(eventTime)

	if subject := n.Mail.CommonHeaders.Subject; subject != "" {
		meta := &v1.MessageMetadata{ExternalID: out.MessageExternalID, Subject: subject}
		if len(n.Mail.CommonHeaders.From) > 0 {
			meta.FromEmail = n.Mail.CommonHeaders.From[0]
		}
		out.Metadata = meta
	}
	return out, nil
}
