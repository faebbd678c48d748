// Package scheduler runs gatherers on cron schedules for daemon mode.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"marketlab/internal/gather"
)

// Scheduler runs gatherers on cron expressions with a seconds field. A run
// that is still in progress when its next tick fires causes that tick to be
// skipped.
type Scheduler struct {
	cron     *cron.Cron
	ctx      context.Context
	onResult func(name string, err error)
	log      *slog.Logger
}

// New creates a Scheduler whose jobs run with ctx. onResult, if non-nil, is
// called after every run.
func New(ctx context.Context, onResult func(name string, err error)) *Scheduler {
	logger := slog.Default().With("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		ctx:      ctx,
		onResult: onResult,
		log:      logger,
	}
}

// Register schedules g on spec.
func (s *Scheduler) Register(spec string, g gather.Gatherer) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(g) }); err != nil {
		return fmt.Errorf("register %s on %q: %w", g.Name(), spec, err)
	}
	s.log.Info("registered", "job", g.Name(), "spec", spec)
	return nil
}

// RunNow runs g immediately on the calling goroutine and reports the result.
func (s *Scheduler) RunNow(g gather.Gatherer) error {
	start := time.Now()
	s.log.Info("run starting", "job", g.Name())
	err := g.Run(s.ctx)
	if err != nil {
		s.log.Error("run failed", "job", g.Name(), "error", err, "elapsed", time.Since(start))
	} else {
		s.log.Info("run complete", "job", g.Name(), "elapsed", time.Since(start))
	}
	if s.onResult != nil {
		s.onResult(g.Name(), err)
	}
	return err
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
