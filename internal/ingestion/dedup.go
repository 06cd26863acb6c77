package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// identityParts lists, per event type, what besides contact, message and type
// makes two events the same interaction. Types absent from the table get no key.
var identityParts = map[v1.EventType]struct {
	url       bool
	timestamp bool
}{
	v1.EventDelivery:    {},
	v1.EventBounce:      {},
	v1.EventUnsubscribe: {},
	v1.EventComplaint:   {},
	v1.EventOpen:        {timestamp: true},
	v1.EventClick:       {url: true},
}

// IdentityKey derives the logical identity of an event, or "" when the event
// has none (sends, or no contact identity).
// Open timestamps are truncated to the second, so re-fires that straddle a
// second boundary get distinct keys; Classifier.IsRefire catches those.
func IdentityKey(evt *v1.Event) string {
	parts, ok := identityParts[evt.Type]
	if !ok {
		return ""
	}
	contact := evt.Contact.Key()
	if contact == "" {
		return ""
	}

	fields := []string{contact, evt.MessageID, string(evt.Type)}
	if parts.url {
		fields = append(fields, evt.URL)
	}
	if parts.timestamp {
		fields = append(fields, strconv.FormatInt(evt.Timestamp.Unix(), 10))
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
