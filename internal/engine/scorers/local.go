package scorers

import (
	"fmt"

	"github.com/cybershield-x/shield/internal/engine"
)

// Local pairs the two deterministic scorers behind engine.LocalScorer.
type Local struct {
	app *AppRiskScorer
	url *URLRiskScorer
}

// NewLocal builds both scorers from one rule set.
func NewLocal(rules engine.RuleSet) (*Local, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("NewLocal: %w", err)
	}
	url, err := NewURLRiskScorer(rules.URL)
	if err != nil {
		return nil, fmt.Errorf("NewLocal: %w", err)
	}
	return &Local{
		app: NewAppRiskScorer(rules.App),
		url: url,
	}, nil
}

func (l *Local) ScoreApp(p *engine.AppProfile) *engine.RiskAssessment {
	return l.app.Score(p)
}

func (l *Local) ScoreURL(url string) *engine.URLAssessment {
	return l.url.Score(url)
}
