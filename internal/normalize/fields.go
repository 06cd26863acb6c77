package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// Provider timestamps come as unix seconds (int, float or string) or RFC 3339.
// Anything unparseable yields the zero time and the Registry falls back to now.

func unixSeconds(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func unixFloat(f float64) time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	secs, frac := math.Modf(f)
	return time.Unix(int64(secs), int64(frac*1e9)).UTC()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02 15:04:05",
}

func parseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseFlexibleTime accepts a JSON number (unix seconds) or string.
func parseFlexibleTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if secs, err := n.Int64(); err == nil {
			return unixSeconds(secs)
		}
		if f, err := n.Float64(); err == nil {
			return unixFloat(f)
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseUnixString(s)
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseUnixString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixSeconds(secs)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixFloat(f)
	}
	return parseTimeString(s)
}

// splitObjectOrArray accepts a single JSON object or an array of them.
func splitObjectOrArray(provider v1.Provider, payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, malformed(provider, errors.New("empty body"))
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, malformed(provider, err)
		}
		return items, nil
	}
	if !json.Valid(trimmed) {
		return nil, malformed(provider, errors.New("invalid JSON"))
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}

func errMissing(field string) error {
	return errors.New(field + " is missing")
}
