// Package analysis enriches collected indicators through an ordered chain
// of stages.
package analysis

import (
	"log/slog"
	"time"

	"intelpipe/internal/metrics"
	"intelpipe/internal/threat"
)

// Stage annotates records. Stages may filter but must never strip
// annotations written by earlier stages. Records are updated in place.
type Stage interface {
	Name() string
	Analyze(records []*threat.Indicator) []*threat.Indicator
}

type stageFunc struct {
	name string
	fn   func([]*threat.Indicator) []*threat.Indicator
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Analyze(records []*threat.Indicator) []*threat.Indicator { return s.fn(records) }

// StageFunc wraps a plain function as a Stage.
func StageFunc(name string, fn func([]*threat.Indicator) []*threat.Indicator) Stage {
	return stageFunc{name: name, fn: fn}
}

// Chain applies its stages in order, each one seeing the previous output.
// It keeps no state between runs.
type Chain []Stage

func (c Chain) Run(records []*threat.Indicator) []*threat.Indicator {
	if records == nil {
		records = []*threat.Indicator{}
	}
	for _, s := range c {
		start := time.Now()
		in := len(records)
		records = s.Analyze(records)
		if records == nil {
			records = []*threat.Indicator{}
		}
		metrics.StageDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		slog.Debug("stage done", "stage", s.Name(), "in", in, "out", len(records))
	}
	return records
}

// Names lists the stages in execution order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return names
}

// Options configures DefaultChain. Zero values give the stock behaviour:
// built-in scores, no correlation hits and empty compliance lists.
type Options struct {
	Scores map[string]float64
	// Fallback overrides DefaultFallback when set, including to 0.
	Fallback  *float64
	Watchlist []string
	Rules     []Rule
}

// DefaultChain builds risk scoring, correlation and regulatory mapping, in
// that order.
func DefaultChain(opts Options) (Chain, error) {
	scoring := NewRiskScoring(opts.Scores)
	if opts.Fallback != nil {
		scoring.Fallback = *opts.Fallback
	}

	var correlator Correlator = NoCorrelation
	if len(opts.Watchlist) > 0 {
		correlator = NewWatchlistCorrelator(opts.Watchlist)
	}

	regulatory, err := NewRegulatory(opts.Rules)
	if err != nil {
		return nil, err
	}
	return Chain{scoring, &Correlation{Correlator: correlator}, regulatory}, nil
}
