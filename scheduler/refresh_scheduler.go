package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"abceats/config"
	"abceats/metrics"
	"abceats/utils"
)

const (
	ModeInterval = "interval"
	ModeDaily    = "daily"
)

// Task is the work run on each wake-up
type Task func(ctx context.Context) error

// Result describes one finished wake-up
type Result struct {
	RunID      string
	Identifier string
	StartedAt  time.Time
	Duration   time.Duration
	Err        error
}

// Expired reports whether the wake-up ran out of time
func (r Result) Expired() bool {
	return errors.Is(r.Err, ErrTaskExpired)
}

// Config holds the wake-up settings
type Config struct {
	Identifier  string
	Mode        string
	Interval    time.Duration
	DailyHour   int
	DailyMinute int
	TaskTimeout time.Duration
}

// ConfigFrom converts the application scheduler section
func ConfigFrom(cfg config.SchedulerConfig) Config {
	return Config{
		Identifier:  cfg.Identifier,
		Mode:        cfg.Mode,
		Interval:    cfg.Interval,
		DailyHour:   cfg.DailyHour,
		DailyMinute: cfg.DailyMinute,
		TaskTimeout: cfg.TaskTimeout,
	}
}

// RefreshScheduler wakes up on a fixed interval or once a day at a local time
// and runs the refresh task. Each wake-up books the next one before running,
// so a slow or failed task never stops future wake-ups.
type RefreshScheduler struct {
	cfg        Config
	task       Task
	onComplete func(Result)
	logger     *utils.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.Mutex
	running bool
	next    time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. onComplete may be nil.
func New(cfg Config, task Task, onComplete func(Result), logger *utils.Logger, m *metrics.Metrics) *RefreshScheduler {
	if cfg.Mode == "" {
		cfg.Mode = ModeInterval
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 4 * time.Hour
	}
	return &RefreshScheduler{
		cfg:        cfg,
		task:       task,
		onComplete: onComplete,
		logger:     logger.Named("scheduler"),
		metrics:    m,
		now:        time.Now,
	}
}

// NextFire returns the earliest wake-up strictly after t
func (s *RefreshScheduler) NextFire(t time.Time) time.Time {
	if s.cfg.Mode == ModeDaily {
		next := time.Date(t.Year(), t.Month(), t.Day(), s.cfg.DailyHour, s.cfg.DailyMinute, 0, 0, t.Location())
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	return t.Add(s.cfg.Interval)
}

// NextRun returns the booked wake-up while the scheduler runs
func (s *RefreshScheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}, false
	}
	return s.next, true
}

// IsRunning reports whether Start has been called without a matching Stop
func (s *RefreshScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start books the first wake-up and starts the timer goroutine. Calling it
// again while running is a no-op.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.next = s.NextFire(s.now())

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Scheduled %s (%s mode), next run at %s", s.cfg.Identifier, s.cfg.Mode, s.next.Format(time.RFC3339))
	return nil
}

// Stop cancels pending wake-ups and waits for the loop and any running task
// until ctx is done
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler %s stopped", s.cfg.Identifier)
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler %s stop timed out", s.cfg.Identifier)
		return ctx.Err()
	}
}

func (s *RefreshScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		delay := s.next.Sub(s.now())
		s.mu.Unlock()

		timer := time.NewTimer(max(delay, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// book the next wake-up before running this one
		s.mu.Lock()
		s.next = s.NextFire(s.now())
		next := s.next
		s.mu.Unlock()
		s.logger.Debug("Next %s wake-up booked for %s", s.cfg.Identifier, next.Format(time.RFC3339))

		s.RunOnce(ctx)
	}
}

// RunOnce performs a single wake-up: it runs the task under the task timeout
// and reports the outcome to the completion callback exactly once. A task
// that outlives the timeout is abandoned and reported as expired.
func (s *RefreshScheduler) RunOnce(ctx context.Context) Result {
	result := Result{RunID: uuid.NewString(), Identifier: s.cfg.Identifier, StartedAt: s.now()}
	s.logger.Info("Wake-up %s started", result.RunID)

	taskCtx, cancel := context.WithCancel(ctx)
	if s.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
	}
	defer cancel()

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("%w: %v", ErrTaskPanicked, r)
			}
		}()
		errCh <- s.task(taskCtx)
	}()

	result.Err = s.await(taskCtx, errCh)
	result.Duration = s.now().Sub(result.StartedAt)

	switch {
	case result.Err == nil:
		s.metrics.Wakeup("completed")
		s.logger.Info("Wake-up %s completed in %v", result.RunID, result.Duration)
	case result.Expired():
		s.metrics.Wakeup("expired")
		s.logger.Warn("Wake-up %s expired: %v", result.RunID, result.Err)
	default:
		s.metrics.Wakeup("failed")
		s.logger.Error("Wake-up %s failed: %v", result.RunID, result.Err)
	}

	if s.onComplete != nil {
		s.onComplete(result)
	}
	return result
}

// await returns the task error, or the reason the task context ended first.
// A task that gives up because its deadline passed counts as expired.
func (s *RefreshScheduler) await(taskCtx context.Context, errCh <-chan error) error {
	select {
	case err := <-errCh:
		if err == nil || !errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return err
		}
	case <-taskCtx.Done():
	}
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s after %v: %w", s.cfg.Identifier, s.cfg.TaskTimeout, ErrTaskExpired)
	}
	return taskCtx.Err()
}
