// Package pipeline assembles configured adapters and runs one collection
// cycle end to end: collect, analyze, generate, store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intelpipe/internal/analysis"
	"intelpipe/internal/config"
	"intelpipe/internal/metrics"
	"intelpipe/internal/report"
	"intelpipe/internal/reportstore"
	"intelpipe/internal/threat"
	"intelpipe/internal/warehouse"
)

// Result describes one finished run.
type Result struct {
	RunID    string
	Key      string
	Document *report.Document
	Sources  []string
	Took     time.Duration
}

// Runner owns the adapters for a configuration and runs cycles over them.
// Runs are independent; each gets its own dedup set and chain pass.
type Runner struct {
	registry  *threat.Registry
	collector *threat.Collector
	chain     analysis.Chain
	assembler *report.Assembler
	store     reportstore.Store
	warehouse warehouse.Writer
	adapters  []threat.Adapter
	tracer    trace.Tracer
}

type Option func(*Runner)

// WithRegistry replaces threat.DefaultRegistry.
func WithRegistry(reg *threat.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithWarehouse adds a tabular sink written after the report is stored.
func WithWarehouse(w warehouse.Writer) Option {
	return func(r *Runner) { r.warehouse = w }
}

// WithClock fixes the report generation clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.assembler.Clock = now }
}

// New builds the runner and its adapters from cfg.
func New(cfg *config.Config, store reportstore.Store, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("pipeline: report store is required")
	}
	aopts, err := cfg.AnalysisOptions()
	if err != nil {
		return nil, err
	}
	chain, err := analysis.DefaultChain(aopts)
	if err != nil {
		return nil, fmt.Errorf("build analysis chain: %w", err)
	}

	r := &Runner{
		registry: threat.DefaultRegistry,
		collector: threat.NewCollector(
			threat.WithConcurrency(cfg.Concurrency),
			threat.WithAdapterTimeout(cfg.AdapterTimeout),
		),
		chain:     chain,
		assembler: report.NewAssembler(cfg.ReportName),
		store:     store,
		tracer:    otel.Tracer("intelpipe/pipeline"),
	}
	for _, o := range opts {
		o(r)
	}
	r.adapters = Assemble(r.registry, cfg.Sources)
	return r, nil
}

// Assemble builds adapters for sources in order. A source whose factory
// fails, typically for missing credentials, is logged and left out.
func Assemble(reg *threat.Registry, sources []threat.SourceConfig) []threat.Adapter {
	adapters := make([]threat.Adapter, 0, len(sources))
	for _, src := range sources {
		a, err := reg.Build(src)
		if err != nil {
			slog.Warn("skipping source", "source", src.Name, "err", err)
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters
}

// Sources lists the assembled adapters in collection order.
func (r *Runner) Sources() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}

// Run executes one cycle. A failing warehouse is logged and counted; a
// failing report store fails the run.
func (r *Runner) Run(ctx context.Context) (res *Result, err error) {
	runID := uuid.NewString()
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("sources.count", len(r.adapters)),
	))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.Runs.WithLabelValues(result).Inc()
		span.End()
	}()

	log := slog.With("run_id", runID)
	log.Info("run started", "sources", r.Sources())

	collected := r.collector.Collect(ctx, r.adapters)
	enriched := r.chain.Run(collected)
	doc := r.assembler.Generate(enriched)
	span.SetAttributes(attribute.Int("indicators.count", len(doc.Items)))

	key, err := r.store.Put(ctx, doc)
	if err != nil {
		metrics.SinkErrors.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("store report: %w", err)
	}

	if r.warehouse != nil {
		if werr := r.warehouse.WriteIndicators(ctx, runID, doc.Items); werr != nil {
			metrics.SinkErrors.WithLabelValues("warehouse").Inc()
			log.Error("warehouse write failed", "err", werr)
		}
	}

	took := time.Since(start)
	log.Info("run complete", "indicators", len(doc.Items), "key", key, "took", took)
	return &Result{RunID: runID, Key: key, Document: doc, Sources: r.Sources(), Took: took}, nil
}
