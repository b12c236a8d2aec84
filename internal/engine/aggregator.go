package engine

// Contribution is one matched rule: its weight and the reason shown to the user.
type Contribution struct {
	Weight float64
	Reason string
}

// AggregateResult holds the clamped score and the ordered reasons.
type AggregateResult struct {
	Score   float64
	Reasons []string
}

// Aggregate sums rule contributions into a final score.
//
// Rules (applied in order):
//  1. Contributions with a non-positive weight are ignored.
//  2. Reasons keep the order in which contributions were matched.
//  3. The sum is clamped to [0, 1] and rounded to three decimals.
func Aggregate(contribs []Contribution) AggregateResult {
	var sum float64
	reasons := make([]string, 0, len(contribs))

	for _, c := range contribs {
		if c.Weight <= 0 {
			continue
		}
		sum += c.Weight
		if c.Reason != "" {
			reasons = append(reasons, c.Reason)
		}
	}

	return AggregateResult{
		Score:   ClampScore(sum),
		Reasons: reasons,
	}
}
