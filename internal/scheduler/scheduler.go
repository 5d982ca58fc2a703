// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"intelpipe/internal/pipeline"
)

// DefaultSpec runs daily at 03:00 UTC.
const DefaultSpec = "0 3 * * *"

// Runner runs one pipeline cycle.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	runner  Runner
	lock    Lock
	timeout time.Duration
}

type Option func(*Scheduler)

func WithLock(l Lock) Option {
	return func(s *Scheduler) { s.lock = l }
}

// WithTimeout bounds a single run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New schedules runner on spec, a standard five-field cron expression
// evaluated in UTC. Overlapping ticks are skipped.
func New(spec string, runner Runner, opts ...Option) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:  runner,
		lock:    NoopLock{},
		timeout: time.Hour,
	}
	for _, o := range opts {
		o(s)
	}

	id, err := s.cron.AddFunc(spec, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			slog.Error("scheduled run failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Next is the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(time.Now().UTC())
}

// RunOnce runs a cycle now if the lock can be taken. A held lock is not an
// error; the cycle is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	release, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("skipping run, lock held elsewhere")
		return nil
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("lock release failed", "err", err)
		}
	}()

	res, err := s.runner.Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("generated report", "key", res.Key, "indicators", len(res.Document.Items), "run_id", res.RunID)
	return nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running cycle to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	slog.Info("scheduler started", "next", s.Next())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
