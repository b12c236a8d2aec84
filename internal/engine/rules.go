package engine

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Signal is a fixed contribution added when a rule's condition holds.
type Signal struct {
	Weight float64 `toml:"weight"`
	Reason string  `toml:"reason"`
}

// PermissionTier adds Weight when the dangerous-permission count is strictly
// above Above. Tiers are evaluated in order and only the first match applies.
type PermissionTier struct {
	Above  int     `toml:"above"`
	Weight float64 `toml:"weight"`
	Reason string  `toml:"reason"`
}

// ThresholdSignal adds Weight when a measured quantity is strictly above Above.
type ThresholdSignal struct {
	Above  int     `toml:"above"`
	Weight float64 `toml:"weight"`
	Reason string  `toml:"reason"`
}

// WeightedRule is a regular expression that contributes Weight when it matches.
type WeightedRule struct {
	Pattern string  `toml:"pattern"`
	Weight  float64 `toml:"weight"`
	Reason  string  `toml:"reason"`
}

// AppRules drives the app risk scorer.
type AppRules struct {
	DangerousPermissions []string         `toml:"dangerous_permissions"`
	SensitivePermissions []string         `toml:"sensitive_permissions"`
	PrivacyPermissions   []string         `toml:"privacy_permissions"`
	InternetPermission   string           `toml:"internet_permission"`
	SuspiciousKeywords   []string         `toml:"suspicious_keywords"`
	PermissionTiers      []PermissionTier `toml:"permission_tiers"`
	SuspiciousName       Signal           `toml:"suspicious_name"`
	NonSystemHigh        ThresholdSignal  `toml:"non_system_high"`
	InternetSensitive    Signal           `toml:"internet_sensitive"`
	// ExfiltrationAbove is the total permission count above which an
	// internet-capable malicious app is classified as data exfiltration.
	ExfiltrationAbove int `toml:"exfiltration_above"`
}

// URLRules drives the URL risk scorer. KeywordReason is a format string
// receiving the number of matched keywords.
type URLRules struct {
	SuspiciousTLDs   []string        `toml:"suspicious_tlds"`
	SuspiciousTLD    Signal          `toml:"suspicious_tld"`
	PhishingKeywords []string        `toml:"phishing_keywords"`
	KeywordWeight    float64         `toml:"keyword_weight"`
	KeywordReason    string          `toml:"keyword_reason"`
	Patterns         []WeightedRule  `toml:"patterns"`
	LongURL          ThresholdSignal `toml:"long_url"`
	SecurePrefix     string          `toml:"secure_prefix"`
	InsecureScheme   Signal          `toml:"insecure_scheme"`
	Subdomains       ThresholdSignal `toml:"subdomains"`
}

// RuleSet is the complete declarative configuration of the local scorers.
type RuleSet struct {
	App AppRules `toml:"app"`
	URL URLRules `toml:"url"`
}

// DefaultRuleSet returns the built-in rule tables.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		App: AppRules{
			DangerousPermissions: []string{
				"READ_CONTACTS", "READ_SMS", "SEND_SMS", "READ_CALL_LOG",
				"WRITE_CALL_LOG", "CAMERA", "RECORD_AUDIO", "ACCESS_FINE_LOCATION",
				"ACCESS_COARSE_LOCATION", "READ_PHONE_STATE", "CALL_PHONE",
				"READ_EXTERNAL_STORAGE", "WRITE_EXTERNAL_STORAGE", "WRITE_SETTINGS",
				"SYSTEM_ALERT_WINDOW", "REQUEST_INSTALL_PACKAGES", "BIND_DEVICE_ADMIN",
			},
			SensitivePermissions: []string{"READ_CONTACTS", "READ_SMS", "READ_CALL_LOG", "ACCESS_FINE_LOCATION"},
			PrivacyPermissions:   []string{"READ_SMS", "SEND_SMS", "READ_CALL_LOG"},
			InternetPermission:   "INTERNET",
			SuspiciousKeywords: []string{
				"hack", "crack", "mod", "cheat", "spy", "stealth", "hidden",
				"tracker", "monitor", "keylog", "root", "xposed", "lucky",
				"parallel", "clone", "fake", "vpn",
			},
			PermissionTiers: []PermissionTier{
				{Above: 8, Weight: 0.40, Reason: "excessive permissions"},
				{Above: 5, Weight: 0.25, Reason: "many permissions"},
				{Above: 3, Weight: 0.15, Reason: "several permissions"},
			},
			SuspiciousName:    Signal{Weight: 0.30, Reason: "suspicious name"},
			NonSystemHigh:     ThresholdSignal{Above: 6, Weight: 0.20, Reason: "non-system app with high permissions"},
			InternetSensitive: Signal{Weight: 0.15, Reason: "internet + sensitive data access"},
			ExfiltrationAbove: 10,
		},
		URL: URLRules{
			SuspiciousTLDs: []string{".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".work"},
			SuspiciousTLD:  Signal{Weight: 0.40, Reason: "Suspicious domain extension"},
			PhishingKeywords: []string{
				"verify", "account", "suspended", "confirm", "update", "secure",
				"login", "signin", "banking", "paypal", "amazon", "apple",
				"microsoft", "google", "facebook", "instagram", "whatsapp",
			},
			KeywordWeight: 0.20,
			KeywordReason: "Contains %d phishing keywords",
			Patterns: []WeightedRule{
				{Pattern: `\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`, Weight: 0.15, Reason: "IP address instead of domain"},
				{Pattern: `@`, Weight: 0.15, Reason: "Contains @ symbol"},
				{Pattern: `-{2,}`, Weight: 0.15, Reason: "Multiple consecutive hyphens"},
				{Pattern: `\d{5,}`, Weight: 0.15, Reason: "Long numeric sequence"},
			},
			LongURL:        ThresholdSignal{Above: 100, Weight: 0.10, Reason: "Unusually long URL"},
			SecurePrefix:   "https://",
			InsecureScheme: Signal{Weight: 0.20, Reason: "Not using secure HTTPS"},
			Subdomains:     ThresholdSignal{Above: 3, Weight: 0.15, Reason: "Too many subdomains"},
		},
	}
}

// LoadRuleSet decodes a TOML rule file over the defaults, so a file only
// needs to name the tables it overrides.
func LoadRuleSet(path string) (RuleSet, error) {
	rs := DefaultRuleSet()
	if path == "" {
		return rs, nil
	}
	if _, err := toml.DecodeFile(path, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("LoadRuleSet: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("LoadRuleSet: %w", err)
	}
	return rs, nil
}

// Validate rejects tables that would make the scorers non-monotonic.
func (rs RuleSet) Validate() error {
	for i, tier := range rs.App.PermissionTiers {
		if tier.Weight < 0 {
			return fmt.Errorf("%w: permission tier %d has negative weight", ErrInvalidRules, i)
		}
		if i > 0 && tier.Above >= rs.App.PermissionTiers[i-1].Above {
			return fmt.Errorf("%w: permission tiers must be ordered by descending threshold", ErrInvalidRules)
		}
	}
	for _, p := range rs.URL.Patterns {
		if p.Pattern == "" {
			return fmt.Errorf("%w: empty url pattern", ErrInvalidRules)
		}
		if p.Weight < 0 {
			return fmt.Errorf("%w: pattern %q has negative weight", ErrInvalidRules, p.Pattern)
		}
	}
	if rs.URL.KeywordWeight < 0 {
		return fmt.Errorf("%w: negative keyword weight", ErrInvalidRules)
	}
	return nil
}
