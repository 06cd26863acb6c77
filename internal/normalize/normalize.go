// Package normalize maps provider webhook payloads onto the canonical event shape.
// One Normalizer per provider extracts fields; the Registry owns the
// provider-string to canonical-type tables and the shared defaults.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

var (
	// ErrUnrecognizedEventType is returned when a provider type maps to no canonical type.
	ErrUnrecognizedEventType = errors.New("unrecognized event type")

	// ErrMalformedPayload is returned when a batch or item cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnsupportedProvider is returned when no normalizer is registered for a provider.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Normalized is one provider item mapped onto canonical fields.
// Normalizers fill RawType and whatever the payload carries; the Registry
// resolves Type and fills ExternalID and Timestamp when they are absent.
type Normalized struct {
	RawType           string
	Type              v1.EventType
	ExternalID        string
	MessageExternalID string
	Timestamp         time.Time
	Contact           v1.Contact
	URL               string
	BounceType        v1.BounceType
	BounceReason      string

	// Metadata is set when the payload itself describes the message.
	Metadata *v1.MessageMetadata
}

// Normalizer decodes one provider's webhook format.
type Normalizer interface {
	Provider() v1.Provider

	// Split breaks a delivery into independently processed items.
	// A delivery with nothing to record (e.g. a subscription handshake) yields no items.
	Split(payload []byte) ([]json.RawMessage, error)

	Normalize(item json.RawMessage) (*Normalized, error)
}

type Option func(r *Registry)

// WithUnknownAsSend maps unrecognized provider types to send instead of rejecting them.
func WithUnknownAsSend(enabled bool) Option {
	return func(r *Registry) { r.unknownAsSend = enabled }
}

// WithClock overrides the timestamp fallback clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.nowFn = now }
}

// Registry selects the normalizer by provider and applies the type tables.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	normalizers   map[v1.Provider]Normalizer
	mappings      map[v1.Provider]map[string]v1.EventType
	unknownAsSend bool
	nowFn         func() time.Time
}

// NewRegistry returns a registry with every built-in normalizer and the default tables.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		normalizers: make(map[v1.Provider]Normalizer),
		mappings:    make(map[v1.Provider]map[string]v1.EventType),
		nowFn:       time.Now,
	}
	for _, n := range []Normalizer{SparkPost{}, Mailgun{}, SendGrid{}, SES{}, Generic{}} {
		r.normalizers[n.Provider()] = n
	}
	for provider, table := range DefaultMappings() {
		r.mappings[provider] = table
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplyOverrides merges override tables over the current ones.
func (r *Registry) ApplyOverrides(overrides []MappingOverride) error {
	for _, o := range overrides {
		if _, ok := r.normalizers[o.Provider]; !ok {
			return fmt.Errorf("mapping override %s: %w %q", o.Path, ErrUnsupportedProvider, o.Provider)
		}
		table := r.mappings[o.Provider]
		if table == nil {
			table = make(map[string]v1.EventType)
			r.mappings[o.Provider] = table
		}
		for raw, canonical := range o.Mappings {
			table[raw] = canonical
		}
	}
	return r.Validate()
}

// Validate fails when a provider lacks a normalizer or a table, or a table
// points at an unknown canonical type.
func (r *Registry) Validate() error {
	var problems []string
	for _, p := range v1.Providers {
		if _, ok := r.normalizers[p]; !ok {
			problems = append(problems, fmt.Sprintf("provider %q has no normalizer", p))
		}
		if len(r.mappings[p]) == 0 {
			problems = append(problems, fmt.Sprintf("provider %q has no type mappings", p))
		}
		for raw, canonical := range r.mappings[p] {
			if !canonical.Valid() {
				problems = append(problems, fmt.Sprintf("provider %q maps %q to unknown type %q", p, raw, canonical))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid event type mappings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MapType resolves a provider type string for a provider.
func (r *Registry) MapType(provider v1.Provider, raw string) (v1.EventType, error) {
	if et, ok := r.mappings[provider][raw]; ok {
		return et, nil
	}
	if r.unknownAsSend {
		return v1.EventSend, nil
	}
	return "", fmt.Errorf("%w: %s %q", ErrUnrecognizedEventType, provider, raw)
}

// Split breaks a delivery for provider into items.
func (r *Registry) Split(provider v1.Provider, payload []byte) ([]json.RawMessage, error) {
	n, ok := r.normalizers[provider]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProvider, provider)
	}
	return n.Split(payload)
}

// Normalize maps one item and fills the shared defaults.
func (r *Registry) Normalize(provider v1.Provider, item json.RawMessage) (*Normalized, error) {
	n, ok := r.normalizers[provider]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProvider, provider)
	}

	out, err := n.Normalize(item)
	if err != nil {
		return nil, err
	}

	out.Type, err = r.MapType(provider, out.RawType)
	if err != nil {
		return nil, err
	}

	if out.MessageExternalID == "" {
		return nil, fmt.Errorf("%w: item has no message id", ErrMalformedPayload)
	}
	if out.ExternalID == "" {
		out.ExternalID = DeriveExternalID(item)
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = r.nowFn()
	}
	out.Timestamp = out.Timestamp.UTC()
	out.Contact.Email = strings.ToLower(strings.TrimSpace(out.Contact.Email))
	out.Contact.ContactID = strings.TrimSpace(out.Contact.ContactID)

	if out.Type == v1.EventBounce {
		if out.BounceType == "" {
			out.BounceType = v1.BounceUndetermined
		}
	} else {
		out.BounceType = ""
		out.BounceReason = ""
	}
	if out.Type != v1.EventClick {
		out.URL = ""
	}
	return out, nil
}

// DeriveExternalID stands in for a missing provider event id.
// An identical redelivery hashes to the same id.
func DeriveExternalID(item []byte) string {
	sum := sha256.Sum256(item)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func malformed(provider v1.Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, provider, err)
}
