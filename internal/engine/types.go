package engine

import (
	"math"
	"strings"
)

// Label is the verdict attached to an app risk score.
type Label int

const (
	LabelSafe Label = iota + 1
	LabelSuspicious
	LabelMalicious
)

// Label thresholds. A score strictly above the threshold earns the label.
const (
	MaliciousThreshold  = 0.7
	SuspiciousThreshold = 0.4
)

// String returns the display name of the label.
func (l Label) String() string {
	switch l {
	case LabelSafe:
		return "Safe"
	case LabelSuspicious:
		return "Suspicious"
	case LabelMalicious:
		return "Malicious"
	default:
		return "Unknown"
	}
}

// ParseLabel maps a label name (case-insensitive) back to a Label.
func ParseLabel(s string) (Label, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return LabelSafe, true
	case "suspicious":
		return LabelSuspicious, true
	case "malicious":
		return LabelMalicious, true
	default:
		return 0, false
	}
}

// LabelForScore applies the label thresholds to a clamped score.
func LabelForScore(score float64) Label {
	switch {
	case score > MaliciousThreshold:
		return LabelMalicious
	case score > SuspiciousThreshold:
		return LabelSuspicious
	default:
		return LabelSafe
	}
}

// Threat types reported for malicious apps.
const (
	ThreatNone                = "None"
	ThreatPrivacyRisk         = "Privacy Risk"
	ThreatDataExfiltration    = "Data Exfiltration"
	ThreatPotentiallyUnwanted = "Potentially Unwanted"
	ThreatSuspiciousBehavior  = "Suspicious Behavior"
)

// URL categories, ordered from most to least severe.
const (
	CategoryHighRisk   = "High Risk"
	CategoryMediumRisk = "Medium Risk"
	CategoryLowRisk    = "Low Risk"
	CategorySafe       = "Safe"
)

// PhishingThreshold is the score above which a URL is reported as phishing.
const PhishingThreshold = 0.6

// CategoryForScore maps a clamped URL score to its category.
func CategoryForScore(score float64) string {
	switch {
	case score > 0.8:
		return CategoryHighRisk
	case score > PhishingThreshold:
		return CategoryMediumRisk
	case score > 0.3:
		return CategoryLowRisk
	default:
		return CategorySafe
	}
}

// Source records which scorer produced an assessment.
type Source int

const (
	SourceLocal Source = iota + 1
	SourceRemote
	SourceDegraded // remote scorer failed, local fallback used
)

// String returns the lowercase source name (used in logs, metrics and storage).
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	case SourceDegraded:
		return "degraded"
	default:
		return "unspecified"
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, bool) {
	switch s {
	case "local":
		return SourceLocal, true
	case "remote":
		return SourceRemote, true
	case "degraded":
		return SourceDegraded, true
	default:
		return 0, false
	}
}

// AppProfile is the per-package signal set supplied by the extractor.
type AppProfile struct {
	PackageName string
	AppName     string
	Permissions []string
	IsSystemApp bool
}

// RiskAssessment is the outcome of scoring one AppProfile.
type RiskAssessment struct {
	Score           float64
	Label           Label
	ThreatType      string
	Reasons         []string
	Source          Source
	Analysis        string
	Recommendations []string
}

// URLAssessment is the outcome of scoring one URL.
type URLAssessment struct {
	Score           float64
	IsPhishing      bool
	Category        string
	Reasons         []string
	Source          Source
	Analysis        string
	Recommendations []string
}

// ClampScore bounds a raw score to [0, 1] and rounds it to three decimal
// places so threshold comparisons are not thrown off by float drift.
func ClampScore(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		score = 1
	}
	return math.Round(score*1000) / 1000
}

const permissionPrefix = "android.permission."

// NormalizePermission strips the platform namespace so "android.permission.READ_SMS"
// and "READ_SMS" are treated alike.
func NormalizePermission(p string) string {
	p = strings.TrimSpace(p)
	return strings.TrimPrefix(p, permissionPrefix)
}

// PermissionSet returns the distinct normalized permissions of the profile.
func (p *AppProfile) PermissionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Permissions))
	for _, perm := range p.Permissions {
		perm = NormalizePermission(perm)
		if perm == "" {
			continue
		}
		set[perm] = struct{}{}
	}
	return set
}
