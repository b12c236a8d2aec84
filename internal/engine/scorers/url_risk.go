package scorers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cybershield-x/shield/internal/engine"
)

type compiledRule struct {
	re     *regexp.Regexp
	weight float64
	reason string
}

// URLRiskScorer scores a URL string with structural and keyword heuristics.
// It never fetches or resolves the URL.
type URLRiskScorer struct {
	rules    engine.URLRules
	tlds     []string
	keywords []string
	patterns []compiledRule
}

// NewURLRiskScorer compiles the pattern table. It fails only on an invalid
// regular expression.
func NewURLRiskScorer(rules engine.URLRules) (*URLRiskScorer, error) {
	patterns := make([]compiledRule, 0, len(rules.Patterns))
	for _, p := range rules.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("NewURLRiskScorer: pattern %q: %w", p.Pattern, err)
		}
		patterns = append(patterns, compiledRule{re: re, weight: p.Weight, reason: p.Reason})
	}
	return &URLRiskScorer{
		rules:    rules,
		tlds:     lowerAll(rules.SuspiciousTLDs),
		keywords: lowerAll(rules.PhishingKeywords),
		patterns: patterns,
	}, nil
}

// Score evaluates the rule table against the lower-cased URL.
func (s *URLRiskScorer) Score(raw string) *engine.URLAssessment {
	u := strings.ToLower(strings.TrimSpace(raw))

	var contribs []engine.Contribution

	for _, tld := range s.tlds {
		if strings.HasSuffix(u, tld) {
			contribs = append(contribs, engine.Contribution{Weight: s.rules.SuspiciousTLD.Weight, Reason: s.rules.SuspiciousTLD.Reason})
			break
		}
	}

	matched := 0
	for _, k := range s.keywords {
		if strings.Contains(u, k) {
			matched++
		}
	}
	if matched > 0 {
		contribs = append(contribs, engine.Contribution{
			Weight: s.rules.KeywordWeight * float64(matched),
			Reason: keywordReason(s.rules.KeywordReason, matched),
		})
	}

	for _, p := range s.patterns {
		if p.re.MatchString(u) {
			contribs = append(contribs, engine.Contribution{Weight: p.weight, Reason: p.reason})
		}
	}

	if utf8.RuneCountInString(u) > s.rules.LongURL.Above {
		contribs = append(contribs, engine.Contribution{Weight: s.rules.LongURL.Weight, Reason: s.rules.LongURL.Reason})
	}

	if !strings.HasPrefix(u, s.rules.SecurePrefix) {
		contribs = append(contribs, engine.Contribution{Weight: s.rules.InsecureScheme.Weight, Reason: s.rules.InsecureScheme.Reason})
	}

	if subdomainCount(u) > s.rules.Subdomains.Above {
		contribs = append(contribs, engine.Contribution{Weight: s.rules.Subdomains.Weight, Reason: s.rules.Subdomains.Reason})
	}

	agg := engine.Aggregate(contribs)
	return &engine.URLAssessment{
		Score:      agg.Score,
		IsPhishing: agg.Score > engine.PhishingThreshold,
		Category:   engine.CategoryForScore(agg.Score),
		Reasons:    agg.Reasons,
	}
}

// subdomainCount is the number of dot-separated labels minus two.
func subdomainCount(u string) int {
	return len(strings.Split(u, ".")) - 2
}

func keywordReason(format string, n int) string {
	if strings.Contains(format, "%d") {
		return fmt.Sprintf(format, n)
	}
	return format
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.ToLower(strings.TrimSpace(it)); it != "" {
			out = append(out, it)
		}
	}
	return out
}
