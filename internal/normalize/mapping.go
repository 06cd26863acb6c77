package normalize

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"gopkg.in/yaml.v3"
)

// DefaultMappings returns fresh copies of the built-in provider tables.
func DefaultMappings() map[v1.Provider]map[string]v1.EventType {
	return map[v1.Provider]map[string]v1.EventType{
		v1.ProviderSparkPost: {
			"injection":        v1.EventSend,
			"delivery":         v1.EventDelivery,
			"open":             v1.EventOpen,
			"initial_open":     v1.EventOpen,
			"amp_open":         v1.EventOpen,
			"amp_initial_open": v1.EventOpen,
			"click":            v1.EventClick,
			"amp_click":        v1.EventClick,
			"bounce":           v1.EventBounce,
			"out_of_band":      v1.EventBounce,
			"policy_rejection": v1.EventBounce,
			"spam_complaint":   v1.EventComplaint,
			"list_unsubscribe": v1.EventUnsubscribe,
			"link_unsubscribe": v1.EventUnsubscribe,
		},
		v1.ProviderMailgun: {
			"accepted":     v1.EventSend,
			"delivered":    v1.EventDelivery,
			"opened":       v1.EventOpen,
			"clicked":      v1.EventClick,
			"failed":       v1.EventBounce,
			"rejected":     v1.EventBounce,
			"unsubscribed": v1.EventUnsubscribe,
			"complained":   v1.EventComplaint,
		},
		v1.ProviderSendGrid: {
			"processed":         v1.EventSend,
			"delivered":         v1.EventDelivery,
			"open":              v1.EventOpen,
			"click":             v1.EventClick,
			"bounce":            v1.EventBounce,
			"dropped":           v1.EventBounce,
			"spamreport":        v1.EventComplaint,
			"unsubscribe":       v1.EventUnsubscribe,
			"group_unsubscribe": v1.EventUnsubscribe,
		},
		v1.ProviderSES: {
			"Send":         v1.EventSend,
			"Delivery":     v1.EventDelivery,
			"Open":         v1.EventOpen,
			"Click":        v1.EventClick,
			"Bounce":       v1.EventBounce,
			"Reject":       v1.EventBounce,
			"Complaint":    v1.EventComplaint,
			"Subscription": v1.EventUnsubscribe,
		},
		v1.ProviderGeneric: {
			"send":         v1.EventSend,
			"sent":         v1.EventSend,
			"delivery":     v1.EventDelivery,
			"delivered":    v1.EventDelivery,
			"open":         v1.EventOpen,
			"opened":       v1.EventOpen,
			"click":        v1.EventClick,
			"clicked":      v1.EventClick,
			"bounce":       v1.EventBounce,
			"bounced":      v1.EventBounce,
			"unsubscribe":  v1.EventUnsubscribe,
			"unsubscribed": v1.EventUnsubscribe,
			"complaint":    v1.EventComplaint,
			"complained":   v1.EventComplaint,
			"spam_report":  v1.EventComplaint,
		},
	}
}

// MappingOverride is one override file: extra or replacement type mappings for a provider.
type MappingOverride struct {
	Provider    v1.Provider
	Mappings    map[string]v1.EventType
	Path        string
	Fingerprint string // SHA-256 of the raw YAML file
}

// rawOverride is the on-disk YAML shape.
type rawOverride struct {
	Provider string            `yaml:"provider"`
	Mappings map[string]string `yaml:"mappings"`
}

// LoadMappingOverrides reads every *.yaml / *.yml file in dir.
// A missing directory means no overrides.
func LoadMappingOverrides(dir string) ([]MappingOverride, error) {
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mapping dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mapping path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading mapping dir: %w", err)
	}

	var out []MappingOverride
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading mapping file %s: %w", path, err)
		}

		var raw rawOverride
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing mapping file %s: %w", path, err)
		}
		if raw.Provider == "" && len(raw.Mappings) == 0 {
			continue // empty / comment-only file
		}
		if raw.Provider == "" {
			return nil, fmt.Errorf("mapping file %s: provider must not be empty", path)
		}

		mappings := make(map[string]v1.EventType, len(raw.Mappings))
		for from, to := range raw.Mappings {
			et := v1.EventType(to)
			if !et.Valid() {
				return nil, fmt.Errorf("mapping file %s: %q maps to unknown event type %q", path, from, to)
			}
			mappings[from] = et
		}

		out = append(out, MappingOverride{
			Provider:    v1.Provider(raw.Provider),
			Mappings:    mappings,
			Path:        path,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		})
	}
	return out, nil
}
