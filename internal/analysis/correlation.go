package analysis

import (
	"strings"

	"github.com/willf/bloom"

	"intelpipe/internal/threat"
)

// Correlator decides whether a record matches something already known.
type Correlator interface {
	Correlated(rec *threat.Indicator) bool
}

// CorrelatorFunc adapts a function to Correlator.
type CorrelatorFunc func(rec *threat.Indicator) bool

func (f CorrelatorFunc) Correlated(rec *threat.Indicator) bool { return f(rec) }

// NoCorrelation tags every record as uncorrelated.
var NoCorrelation Correlator = CorrelatorFunc(func(*threat.Indicator) bool { return false })

// Correlation sets the correlated flag on every record.
type Correlation struct {
	Correlator Correlator
}

func (c *Correlation) Name() string { return "correlation" }

func (c *Correlation) Analyze(records []*threat.Indicator) []*threat.Indicator {
	corr := c.Correlator
	if corr == nil {
		corr = NoCorrelation
	}
	for _, rec := range records {
		v := corr.Correlated(rec)
		rec.Correlated = &v
	}
	return records
}

// WatchlistCorrelator flags indicators that appear on an operator supplied
// watchlist, such as values seen in internal logs. The bloom filter answers
// most misses; hits are confirmed against the exact set.
type WatchlistCorrelator struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func NewWatchlistCorrelator(values []string) *WatchlistCorrelator {
	n := uint(len(values))
	if n == 0 {
		n = 1
	}
	w := &WatchlistCorrelator{
		filter: bloom.NewWithEstimates(n, 0.01),
		exact:  make(map[string]struct{}, len(values)),
	}
	for _, v := range values {
		key := normalize(v)
		if key == "" {
			continue
		}
		w.filter.AddString(key)
		w.exact[key] = struct{}{}
	}
	return w
}

func (w *WatchlistCorrelator) Correlated(rec *threat.Indicator) bool {
	key := normalize(rec.Indicator)
	if key == "" || !w.filter.TestString(key) {
		return false
	}
	_, ok := w.exact[key]
	return ok
}

// Len is the number of distinct watchlist entries.
func (w *WatchlistCorrelator) Len() int { return len(w.exact) }

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
