package normalize

import (
	"testing"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizeAll(t *testing.T, r *Registry, provider v1.Provider, payload string) []*Normalized {
	t.Helper()
	items, err := r.Split(provider, []byte(payload))
	require.NoError(t, err)

	out := make([]*Normalized, 0, len(items))
	for _, item := range items {
		n, err := r.Normalize(provider, item)
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func TestSparkPost(t *testing.T) {
	payload := `[
		{"msys":{"message_event":{"type":"bounce","event_id":"92356927693813856","message_id":"0e0d94b7-9085-4e3c-ab30-e3f2cd9c273e",
			"campaign_id":"spring-sale","rcpt_to":"Recipient@Example.com","timestamp":"1454442600",
			"bounce_class":"10","reason":"550 5.1.1 user unknown"}}},
		{"msys":{"track_event":{"type":"click","event_id":"92356927693813857","message_id":"0e0d94b7",
			"campaign_id":"spring-sale","rcpt_to":"recipient@example.com","timestamp":"1454442700",
			"target_link_url":"https://example.com/sale","subject":"Spring sale","friendly_from":"shop@example.com"}}},
		{"msys":{}}
	]`

	events := normalizeAll(t, newTestRegistry(), v1.ProviderSparkPost, payload)
	require.Len(t, events, 2, "empty msys objects are dropped")

	bounce := events[0]
	assert.Equal(t, v1.EventBounce, bounce.Type)
	assert.Equal(t, "92356927693813856", bounce.ExternalID)
	assert.Equal(t, "spring-sale", bounce.MessageExternalID)
	assert.Equal(t, "recipient@example.com", bounce.Contact.Email)
	assert.Equal(t, time.Unix(1454442600, 0).UTC(), bounce.Timestamp)
	assert.Equal(t, v1.BounceHard, bounce.BounceType)
	assert.Equal(t, "550 5.1.1 user unknown", bounce.BounceReason)

	click := events[1]
	assert.Equal(t, v1.EventClick, click.Type)
	assert.Equal(t, "https://example.com/sale", click.URL)
	require.NotNil(t, click.Metadata)
	assert.Equal(t, "Spring sale", click.Metadata.Subject)
}

func TestSparkPost_BounceClasses(t *testing.T) {
	r := newTestRegistry()
	tests := map[string]v1.BounceType{
		"10": v1.BounceHard,
		"21": v1.BounceSoft,
		"51": v1.BounceBlock,
		"1":  v1.BounceUndetermined,
	}
	for class, want := range tests {
		payload := `[{"msys":{"message_event":{"type":"bounce","event_id":"e","message_id":"m","bounce_class":"` + class + `"}}}]`
		events := normalizeAll(t, r, v1.ProviderSparkPost, payload)
		require.Len(t, events, 1)
		assert.Equal(t, want, events[0].BounceType, class)
	}
}

func TestSparkPost_MalformedBatch(t *testing.T) {
	_, err := newTestRegistry().Split(v1.ProviderSparkPost, []byte(`{"msys":{}}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestMailgun(t *testing.T) {
	payload := `{
		"signature":{"timestamp":"1529006854","token":"a8ce0edb2dd8301dee6c2405235584e45aa91d1e9f979f3de0","signature":"d2271d12299f6592d9d44cd9d250f0704e4674c30d79d07c47a66f95ce71cf55"},
		"event-data":{"id":"CPgfbmQMTCKtHW6uIWtuVe","event":"failed","severity":"permanent","timestamp":1521472262.908181,
			"recipient":"alice@example.com",
			"message":{"headers":{"message-id":"20130503182626.18666.16540@sandbox.mailgun.org","subject":"Hi","from":"Bob <bob@example.com>"}},
			"delivery-status":{"description":"No such mailbox"},
			"user-variables":{"contact_id":"c-42"}}
	}`

	events := normalizeAll(t, newTestRegistry(), v1.ProviderMailgun, payload)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, v1.EventBounce, e.Type)
	assert.Equal(t, "CPgfbmQMTCKtHW6uIWtuVe", e.ExternalID)
	assert.Equal(t, "20130503182626.18666.16540@sandbox.mailgun.org", e.MessageExternalID)
	assert.Equal(t, v1.BounceHard, e.BounceType)
	assert.Equal(t, "No such mailbox", e.BounceReason)
	assert.Equal(t, "c-42", e.Contact.ContactID)
	assert.Equal(t, int64(1521472262), e.Timestamp.Unix())
	require.NotNil(t, e.Metadata)
	assert.Equal(t, "Hi", e.Metadata.Subject)
}

func TestMailgun_MissingEventData(t *testing.T) {
	r := newTestRegistry()
	items, err := r.Split(v1.ProviderMailgun, []byte(`{"signature":{}}`))
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = r.Normalize(v1.ProviderMailgun, items[0])
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestSendGrid(t *testing.T) {
	payload := `[
		{"email":"a@example.com","timestamp":1513299569,"event":"open","sg_event_id":"ev-1",
		 "sg_message_id":"14c5d75ce93.dfd.64b469.filter0001.16648.5515E0B88.0"},
		{"email":"b@example.com","timestamp":1513299570,"event":"bounce","type":"blocked","sg_event_id":"ev-2",
		 "sg_message_id":"14c5d75ce93.dfd.64b469.filter0001.16648.5515E0B88.1","reason":"blocked by policy"},
		{"email":"c@example.com","timestamp":1513299571,"event":"processed","sg_event_id":"ev-3",
		 "sg_message_id":"14c5d75ce93.x","campaign_id":"newsletter-12"}
	]`

	events := normalizeAll(t, newTestRegistry(), v1.ProviderSendGrid, payload)
	require.Len(t, events, 3)

	assert.Equal(t, v1.EventOpen, events[0].Type)
	assert.Equal(t, "14c5d75ce93", events[0].MessageExternalID)
	assert.Equal(t, "ev-1", events[0].ExternalID)

	assert.Equal(t, v1.EventBounce, events[1].Type)
	assert.Equal(t, v1.BounceBlock, events[1].BounceType)
	assert.Equal(t, "blocked by policy", events[1].BounceReason)

	assert.Equal(t, v1.EventSend, events[2].Type)
	assert.Equal(t, "newsletter-12", events[2].MessageExternalID)
}

func TestSES_Notification(t *testing.T) {
	payload := `{
		"Type":"Notification",
		"MessageId":"sns-1",
		"Message":"{\"eventType\":\"Bounce\",\"bounce\":{\"bounceType\":\"Permanent\",\"bounceSubType\":\"General\",\"timestamp\":\"2024-03-01T10:00:00.000Z\",\"bouncedRecipients\":[{\"emailAddress\":\"a@example.com\",\"diagnosticCode\":\"smtp; 550\"},{\"emailAddress\":\"b@example.com\"}]},\"mail\":{\"messageId\":\"ses-msg-1\",\"timestamp\":\"2024-03-01T09:59:00.000Z\",\"destination\":[\"a@example.com\",\"b@example.com\"],\"commonHeaders\":{\"subject\":\"Welcome\",\"from\":[\"shop@example.com\"]}}}"
	}`

	events := normalizeAll(t, newTestRegistry(), v1.ProviderSES, payload)
	require.Len(t, events, 2, "one event per bounced recipient")

	assert.Equal(t, v1.EventBounce, events[0].Type)
	assert.Equal(t, "sns-1:0", events[0].ExternalID)
	assert.Equal(t, "sns-1:1", events[1].ExternalID)
	assert.Equal(t, "ses-msg-1", events[0].MessageExternalID)
	assert.Equal(t, "a@example.com", events[0].Contact.Email)
	assert.Equal(t, "b@example.com", events[1].Contact.Email)
	assert.Equal(t, v1.BounceHard, events[0].BounceType)
	assert.Equal(t, "smtp; 550", events[0].BounceReason)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), events[0].Timestamp)
	require.NotNil(t, events[0].Metadata)
	assert.Equal(t, "Welcome", events[0].Metadata.Subject)
}

func TestSES_SubscriptionConfirmationYieldsNoItems(t *testing.T) {
	items, err := newTestRegistry().Split(v1.ProviderSES, []byte(`{
		"Type":"SubscriptionConfirmation","MessageId":"m","SubscribeURL":"https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription"
	}`))
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSES_BareClickNotification(t *testing.T) {
	payload := `{"eventType":"Click","click":{"timestamp":"2024-03-01T10:05:00Z","link":"https://example.com/a"},
		"mail":{"messageId":"ses-msg-2","destination":["c@example.com"],"tags":{"campaign_id":["promo-7"]}}}`

	events := normalizeAll(t, newTestRegistry(), v1.ProviderSES, payload)
	require.Len(t, events, 1)
	assert.Equal(t, v1.EventClick, events[0].Type)
	assert.Equal(t, "promo-7", events[0].MessageExternalID)
	assert.Equal(t, "https://example.com/a", events[0].URL)
	assert.Contains(t, events[0].ExternalID, "sha256:", "no SNS id derives one from the item")
}

func TestGeneric_TimestampFormats(t *testing.T) {
	r := newTestRegistry()
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, ts := range []string{`"2024-03-01T10:00:00Z"`, `1709287200`, `"1709287200"`, `1709287200.0`} {
		events := normalizeAll(t, r, v1.ProviderGeneric,
			`{"id":"1","event_type":"send","message_id":"m","timestamp":`+ts+`}`)
		require.Len(t, events, 1)
		assert.Equal(t, want, events[0].Timestamp, ts)
	}

	events := normalizeAll(t, r, v1.ProviderGeneric, `{"id":"1","event_type":"send","message_id":"m","timestamp":"yesterday"}`)
	assert.Equal(t, clock, events[0].Timestamp)
}
