package scorers

import (
	"strings"

	"github.com/cybershield-x/shield/internal/engine"
)

// AppRiskScorer scores an installed app from its permission set and name.
// It holds only read-only lookup tables and is safe for concurrent use.
type AppRiskScorer struct {
	rules     engine.AppRules
	dangerous map[string]struct{}
	sensitive map[string]struct{}
	privacy   map[string]struct{}
	keywords  []string
}

func NewAppRiskScorer(rules engine.AppRules) *AppRiskScorer {
	keywords := make([]string, 0, len(rules.SuspiciousKeywords))
	for _, k := range rules.SuspiciousKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &AppRiskScorer{
		rules:     rules,
		dangerous: toSet(rules.DangerousPermissions),
		sensitive: toSet(rules.SensitivePermissions),
		privacy:   toSet(rules.PrivacyPermissions),
		keywords:  keywords,
	}
}

// Score evaluates the rule table against the profile. An empty profile
// scores 0 and is Safe.
func (s *AppRiskScorer) Score(p *engine.AppProfile) *engine.RiskAssessment {
	perms := p.PermissionSet()

	dangerousCount := 0
	for perm := range perms {
		if _, ok := s.dangerous[perm]; ok {
			dangerousCount++
		}
	}

	var contribs []engine.Contribution

	for _, tier := range s.rules.PermissionTiers {
		if dangerousCount > tier.Above {
			contribs = append(contribs, engine.Contribution{Weight: tier.Weight, Reason: tier.Reason})
			break
		}
	}

	if s.hasSuspiciousName(p) {
		contribs = append(contribs, engine.Contribution{Weight: s.rules.SuspiciousName.Weight, Reason: s.rules.SuspiciousName.Reason})
	}

	if !p.IsSystemApp && dangerousCount > s.rules.NonSystemHigh.Above {
		contribs = append(contribs, engine.Contribution{Weight: s.rules.NonSystemHigh.Weight, Reason: s.rules.NonSystemHigh.Reason})
	}

	_, hasInternet := perms[s.rules.InternetPermission]
	if hasInternet && intersects(perms, s.sensitive) {
		contribs = append(contribs, engine.Contribution{Weight: s.rules.InternetSensitive.Weight, Reason: s.rules.InternetSensitive.Reason})
	}

	agg := engine.Aggregate(contribs)
	label := engine.LabelForScore(agg.Score)

	threatType := engine.ThreatNone
	if label == engine.LabelMalicious {
		threatType = s.threatType(perms, hasInternet, agg.Reasons)
	}

	return &engine.RiskAssessment{
		Score:      agg.Score,
		Label:      label,
		ThreatType: threatType,
		Reasons:    agg.Reasons,
	}
}

// threatType picks the first matching classification in priority order.
func (s *AppRiskScorer) threatType(perms map[string]struct{}, hasInternet bool, reasons []string) string {
	if intersects(perms, s.privacy) {
		return engine.ThreatPrivacyRisk
	}
	if hasInternet && len(perms) > s.rules.ExfiltrationAbove {
		return engine.ThreatDataExfiltration
	}
	for _, r := range reasons {
		if strings.Contains(strings.ToLower(r), "suspicious") {
			return engine.ThreatPotentiallyUnwanted
		}
	}
	return engine.ThreatSuspiciousBehavior
}

func (s *AppRiskScorer) hasSuspiciousName(p *engine.AppProfile) bool {
	name := strings.ToLower(p.AppName)
	pkg := strings.ToLower(p.PackageName)
	for _, k := range s.keywords {
		if strings.Contains(name, k) || strings.Contains(pkg, k) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[engine.NormalizePermission(it)] = struct{}{}
	}
	return set
}

func intersects(a, b map[string]struct{}) bool {
	for k := range b {
		if _, ok := a[k]; ok {
			return true
		}
	}
	return false
}
