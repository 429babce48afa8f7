package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abceats/config"
	"abceats/metrics"
	"abceats/utils"
)

type completions struct {
	mu      sync.Mutex
	results []Result
}

func (c *completions) record(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *completions) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

func newTestScheduler(cfg Config, task Task, done *completions) *RefreshScheduler {
	if cfg.Identifier == "" {
		cfg.Identifier = "com.abceats.refresh"
	}
	var onComplete func(Result)
	if done != nil {
		onComplete = done.record
	}
	return New(cfg, task, onComplete, utils.NewNopLogger(), nil)
}

func TestNextFire(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)

	tests := []struct {
		name string
		cfg  Config
		now  time.Time
		want time.Time
	}{
		{
			name: "interval adds four hours",
			cfg:  Config{Mode: ModeInterval, Interval: 4 * time.Hour},
			now:  time.Date(2024, 3, 1, 10, 0, 0, 0, loc),
			want: time.Date(2024, 3, 1, 14, 0, 0, 0, loc),
		},
		{
			name: "daily before the hour fires today",
			cfg:  Config{Mode: ModeDaily, DailyHour: 4},
			now:  time.Date(2024, 3, 1, 1, 30, 0, 0, loc),
			want: time.Date(2024, 3, 1, 4, 0, 0, 0, loc),
		},
		{
			name: "daily after the hour fires tomorrow",
			cfg:  Config{Mode: ModeDaily, DailyHour: 4},
			now:  time.Date(2024, 3, 1, 9, 0, 0, 0, loc),
			want: time.Date(2024, 3, 2, 4, 0, 0, 0, loc),
		},
		{
			name: "daily exactly on the hour fires tomorrow",
			cfg:  Config{Mode: ModeDaily, DailyHour: 4},
			now:  time.Date(2024, 3, 1, 4, 0, 0, 0, loc),
			want: time.Date(2024, 3, 2, 4, 0, 0, 0, loc),
		},
		{
			name: "daily honours minutes and month end",
			cfg:  Config{Mode: ModeDaily, DailyHour: 4, DailyMinute: 30},
			now:  time.Date(2024, 3, 31, 5, 0, 0, 0, loc),
			want: time.Date(2024, 4, 1, 4, 30, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(tt.cfg, nil, nil)
			assert.True(t, tt.want.Equal(s.NextFire(tt.now)), "got %v", s.NextFire(tt.now))
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := newTestScheduler(Config{}, nil, nil)
	assert.Equal(t, ModeInterval, s.cfg.Mode)
	assert.Equal(t, 4*time.Hour, s.cfg.Interval)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.SchedulerConfig{
		Identifier:  "com.abceats.refresh",
		Mode:        "daily",
		DailyHour:   4,
		TaskTimeout: time.Minute,
	})
	assert.Equal(t, "com.abceats.refresh", cfg.Identifier)
	assert.Equal(t, ModeDaily, cfg.Mode)
	assert.Equal(t, time.Minute, cfg.TaskTimeout)
}

func TestRunOnceCompletes(t *testing.T) {
	done := &completions{}
	m := metrics.New()
	s := New(Config{Identifier: "id"}, func(ctx context.Context) error { return nil }, done.record, utils.NewNopLogger(), m)

	result := s.RunOnce(context.Background())
	require.NoError(t, result.Err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "id", result.Identifier)
	require.Len(t, done.all(), 1)
	assert.Equal(t, result.RunID, done.all()[0].RunID)
	count, err := testutil.GatherAndCount(m.Registry(), "abceats_scheduler_wakeups_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunOnceReportsFailure(t *testing.T) {
	boom := errors.New("boom")
	done := &completions{}
	s := newTestScheduler(Config{}, func(ctx context.Context) error { return boom }, done)

	result := s.RunOnce(context.Background())
	assert.ErrorIs(t, result.Err, boom)
	assert.False(t, result.Expired())
	assert.Len(t, done.all(), 1)
}

func TestRunOnceExpiresSlowTask(t *testing.T) {
	done := &completions{}
	release := make(chan struct{})
	defer close(release)
	s := newTestScheduler(Config{TaskTimeout: 20 * time.Millisecond}, func(ctx context.Context) error {
		// ignores cancellation
		<-release
		return nil
	}, done)

	start := time.Now()
	result := s.RunOnce(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, result.Expired())
	assert.ErrorIs(t, result.Err, ErrTaskExpired)
	assert.Len(t, done.all(), 1)
}

func TestRunOnceExpiresTaskThatHonoursDeadline(t *testing.T) {
	done := &completions{}
	s := newTestScheduler(Config{TaskTimeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, done)

	result := s.RunOnce(context.Background())
	assert.True(t, result.Expired())
	assert.Len(t, done.all(), 1)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	done := &completions{}
	s := newTestScheduler(Config{}, func(ctx context.Context) error {
		panic("kaboom")
	}, done)

	result := s.RunOnce(context.Background())
	assert.ErrorIs(t, result.Err, ErrTaskPanicked)
	assert.Contains(t, result.Err.Error(), "kaboom")
	assert.Len(t, done.all(), 1)
}

func TestSchedulerFiresRepeatedly(t *testing.T) {
	var runs atomic.Int32
	done := &completions{}
	s := newTestScheduler(Config{Interval: 10 * time.Millisecond}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, done)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	next, ok := s.NextRun()
	assert.True(t, ok)
	assert.False(t, next.IsZero())

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	_, ok = s.NextRun()
	assert.False(t, ok)

	// one completion per wake-up
	assert.Equal(t, int(runs.Load()), len(done.all()))
}

func TestSchedulerKeepsFiringAfterExpiry(t *testing.T) {
	var runs atomic.Int32
	done := &completions{}
	s := newTestScheduler(Config{Interval: 10 * time.Millisecond, TaskTimeout: 5 * time.Millisecond}, func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}, done)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	for _, r := range done.all() {
		assert.True(t, r.Expired() || errors.Is(r.Err, context.Canceled), "unexpected result %v", r.Err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := newTestScheduler(Config{}, nil, nil)
	assert.ErrorIs(t, s.Stop(context.Background()), ErrSchedulerNotRunning)
}

func TestStopTimesOutOnStuckTask(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	var once sync.Once
	s := newTestScheduler(Config{Interval: time.Millisecond}, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, nil)

	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
