package analysis

import "intelpipe/internal/threat"

// DefaultScores is the per-source confidence table. Structured, curated feeds
// score higher than raw scan data.
var DefaultScores = map[string]float64{
	"misp":      0.9,
	"otx":       0.7,
	"shodan":    0.6,
	"hibp":      0.8,
	"cfcs":      0.7,
	"threatfox": 0.8,
}

// DefaultFallback is the confidence for sources missing from the table.
const DefaultFallback = 0.5

// RiskScoring sets confidence from a static per-source table. It replaces
// any confidence an adapter set, so the result depends on source alone.
type RiskScoring struct {
	Scores   map[string]float64
	Fallback float64
}

// NewRiskScoring uses DefaultScores when scores is nil. Entries in scores
// override the defaults.
func NewRiskScoring(scores map[string]float64) *RiskScoring {
	table := make(map[string]float64, len(DefaultScores)+len(scores))
	for k, v := range DefaultScores {
		table[k] = v
	}
	for k, v := range scores {
		table[k] = v
	}
	return &RiskScoring{Scores: table, Fallback: DefaultFallback}
}

func (r *RiskScoring) Name() string { return "risk_scoring" }

// Score returns the confidence for source.
func (r *RiskScoring) Score(source string) float64 {
	if v, ok := r.Scores[source]; ok {
		return v
	}
	return r.Fallback
}

func (r *RiskScoring) Analyze(records []*threat.Indicator) []*threat.Indicator {
	for _, rec := range records {
		rec.Confidence = threat.Score(r.Score(rec.Source))
	}
	return records
}
