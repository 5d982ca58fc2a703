package threat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"intelpipe/internal/metrics"
)

// Collector runs a set of adapters and merges their output into one
// deduplicated indicator set.
type Collector struct {
	concurrency int
	timeout     time.Duration
}

type CollectorOption func(*Collector)

// WithConcurrency bounds how many adapters fetch at once. 1 runs them
// strictly one after another.
func WithConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithAdapterTimeout caps each adapter's fetch on top of its own timeout.
func WithAdapterTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) { c.timeout = d }
}

func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{concurrency: 1}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect fetches from every adapter and returns unique indicators in
// first-seen order. When two adapters report the same indicator value the
// one earlier in adapters wins, regardless of which fetch finished first.
// Records without an indicator value are dropped. An adapter that panics
// contributes nothing and the others still run.
func (c *Collector) Collect(ctx context.Context, adapters []Adapter) []*Indicator {
	results := make([][]*Indicator, len(adapters))
	sem := make(chan struct{}, c.concurrency)

	var wg sync.WaitGroup
	for i, a := range adapters {
		if a == nil {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.fetch(ctx, a)
		}(i, a)
	}
	wg.Wait()

	return merge(adapters, results)
}

func (c *Collector) fetch(ctx context.Context, a Adapter) (out []*Indicator) {
	name := "unknown"
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("adapter panicked", "source", name, "panic", p)
			metrics.AdapterFetches.WithLabelValues(name, metrics.OutcomePanic).Inc()
			out = nil
		}
		metrics.AdapterFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	name = a.Name()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out = a.Fetch(ctx)
	outcome := metrics.OutcomeOK
	if len(out) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	metrics.AdapterFetches.WithLabelValues(name, outcome).Inc()
	metrics.AdapterRecords.WithLabelValues(name).Add(float64(len(out)))
	slog.Info("fetched indicators", "source", name, "count", len(out), "took", time.Since(start))
	return out
}

func merge(adapters []Adapter, results [][]*Indicator) []*Indicator {
	seen := make(map[string]struct{})
	var out []*Indicator
	for i, records := range results {
		if len(records) == 0 {
			continue
		}
		name := adapters[i].Name()
		for _, rec := range records {
			if rec == nil || rec.Indicator == "" {
				metrics.Discarded.WithLabelValues(name).Inc()
				continue
			}
			if _, dup := seen[rec.Indicator]; dup {
				metrics.DuplicatesDropped.WithLabelValues(name).Inc()
				continue
			}
			seen[rec.Indicator] = struct{}{}
			out = append(out, rec)
		}
	}
	if out == nil {
		out = []*Indicator{}
	}
	metrics.CollectedIndicators.Set(float64(len(out)))
	return out
}
