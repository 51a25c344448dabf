package replication

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/logging"
)

const (
	// DefaultWarmUp delays the first poll after start
	DefaultWarmUp = 60 * time.Second
	// DefaultRetryInterval is slept when replication is idle or after an error
	DefaultRetryInterval = 5 * time.Minute
)

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithWarmUp sets the delay before the first poll
func WithWarmUp(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.warmUp = d }
}

// WithRetryInterval sets the idle and error backoff sleep
func WithRetryInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.retryInterval = d }
}

// WithLocation sets the time zone cron expressions are evaluated in
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithScheduleParser replaces the 5-field cron parser
func WithScheduleParser(parse ScheduleParser) SchedulerOption {
	return func(s *Scheduler) {
		if parse != nil {
			s.parse = parse
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler fires SyncNow whenever the configured cron expression comes due.
// The configuration is re-read on every wake and once more right before
// firing, so disabling replication or changing the schedule needs no restart.
type Scheduler struct {
	provider      ConfigProvider
	executor      SyncExecutor
	logger        *logging.Logger
	warmUp        time.Duration
	retryInterval time.Duration
	location      *time.Location
	parse         ScheduleParser
	now           func() time.Time

	mu      sync.Mutex
	nextRun time.Time
}

// NewScheduler creates a scheduler
func NewScheduler(provider ConfigProvider, executor SyncExecutor, logger *logging.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Scheduler{
		provider:      provider,
		executor:      executor,
		logger:        logger,
		warmUp:        DefaultWarmUp,
		retryInterval: DefaultRetryInterval,
		location:      time.UTC,
		parse:         ParseCron,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextRun returns the fire instant the scheduler is currently waiting for
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, !s.nextRun.IsZero()
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

// Run loops until ctx is canceled. It returns nil on shutdown. Any other
// failure inside a cycle, including a cancellation that did not come from
// ctx, is logged and retried after the retry interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(map[string]interface{}{
		"warm_up":        s.warmUp.String(),
		"retry_interval": s.retryInterval.String(),
		"location":       s.location.String(),
	}).Info("Replication scheduler started")

	if !s.sleep(ctx, s.warmUp) {
		s.logger.Info("Replication scheduler stopped")
		return nil
	}

	for {
		delay, err := s.runCycle(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Replication scheduler stopped")
			return nil
		}
		if err != nil {
			s.logger.WithField("retry_in", s.retryInterval.String()).
				WithError(err).Error("Replication cycle failed")
			delay = s.retryInterval
		}

		if !s.sleep(ctx, delay) {
			s.logger.Info("Replication scheduler stopped")
			return nil
		}
	}
}

// runCycle polls the configuration, waits for the next fire instant and
// fires. It returns how long to sleep before polling again.
func (s *Scheduler) runCycle(ctx context.Context) (delay time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewAppError(apperrors.ErrorTypeUnknown, fmt.Sprintf("replication cycle panicked: %v", r), nil)
		}
	}()
	defer s.setNextRun(time.Time{})

	config, err := s.provider.GetConfig(ctx)
	if err != nil {
		return 0, err
	}

	next, ok := s.nextFireTime(config)
	if !ok {
		return s.retryInterval, nil
	}

	s.setNextRun(next)
	wait := next.Sub(s.now())
	s.logger.WithFields(map[string]interface{}{
		"cron":     config.CronExpression,
		"next_run": next.Format(time.RFC3339),
		"wait":     wait.Round(time.Second).String(),
	}).Info("Next replication run scheduled")

	if !s.sleep(ctx, wait) {
		return 0, apperrors.NewCancelledError("scheduler stopped while waiting", ctx.Err())
	}

	config, err = s.provider.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	if !config.Enabled {
		s.logger.Info("Replication was disabled before the scheduled run, skipping")
		return 0, nil
	}

	outcome, err := s.executor.SyncNow(ctx)
	if err != nil {
		return 0, err
	}
	if outcome.Success {
		s.logger.Infof("Scheduled replication completed: %d objects", outcome.ObjectCount)
	} else {
		s.logger.Warnf("Scheduled replication failed: %s", outcome.Message)
	}
	return 0, nil
}

func (s *Scheduler) nextFireTime(config *ReplicationConfig) (time.Time, bool) {
	if !config.Enabled {
		s.logger.Debug("Replication is disabled")
		return time.Time{}, false
	}

	expr := strings.TrimSpace(config.CronExpression)
	if expr == "" {
		s.logger.Warn("Replication is enabled but no cron expression is set")
		return time.Time{}, false
	}

	schedule, err := s.parse(expr)
	if err != nil {
		s.logger.WithError(err).Warn("Replication cron expression is invalid")
		return time.Time{}, false
	}

	next, ok := nextAfter(schedule, s.now().In(s.location))
	if !ok {
		s.logger.WithField("cron", expr).Warn("Replication cron expression never fires")
	}
	return next, ok
}

// sleep waits for d and reports false if ctx ended first
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
