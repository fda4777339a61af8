// Package tracker runs the agent's periodic jobs while time tracking is on.
// Sampling, activity flush, screenshot retry and capture each run on their
// own goroutine so a slow network call never delays sampling.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"example.com/worktrack/internal/clock"
)

// ErrRunning is returned by Start when tracking is already on.
var ErrRunning = errors.New("tracker: already running")

// Sampler is the activity sampler lifecycle.
type Sampler interface {
	Start()
	Tick(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Delivery drains the local queue.
type Delivery interface {
	FlushActivities(ctx context.Context) (int, error)
	FlushScreenshots(ctx context.Context) (int, error)
}

// Capturer takes one screenshot.
type Capturer interface {
	Capture(ctx context.Context) error
}

// PolicySource fetches the per-user screenshot interval.
type PolicySource interface {
	CaptureInterval(ctx context.Context, userID string) (time.Duration, error)
}

// Intervals configures the job periods.
type Intervals struct {
	Poll            time.Duration
	ActivityFlush   time.Duration
	ScreenshotRetry time.Duration
	DefaultCapture  time.Duration
}

// Tracker owns the job goroutines of one tracking session.
type Tracker struct {
	sampler  Sampler
	delivery Delivery
	capturer Capturer
	policy   PolicySource
	clock    clock.Clock
	every    Intervals
	userID   func() string
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithCapture enables screenshots using capturer, with the interval read
// from policy for the user returned by userID.
func WithCapture(capturer Capturer, policy PolicySource, userID func() string) Option {
	return func(t *Tracker) {
		t.capturer = capturer
		t.policy = policy
		t.userID = userID
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// New returns a stopped Tracker.
func New(s Sampler, d Delivery, clk clock.Clock, every Intervals, opts ...Option) *Tracker {
	t := &Tracker{
		sampler:  s,
		delivery: d,
		clock:    clk,
		every:    every,
		userID:   func() string { return "" },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Running reports whether a session is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// CaptureInterval is the screenshot interval of the current session, zero
// when capture is off.
func (t *Tracker) CaptureInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Start arms the sampler and launches the periodic jobs. The capture
// interval is fetched once here and falls back to the default on error.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}

	t.interval = 0
	if t.capturer != nil {
		t.interval = t.fetchInterval(ctx)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.running = true
	t.sampler.Start()

	if err := t.sampler.Tick(runCtx); err != nil {
		t.logger.Warn("initial sample failed", "error", err)
	}
	t.spawn(runCtx, "sample", t.every.Poll, t.sampler.Tick)
	t.spawn(runCtx, "flush_activity", t.every.ActivityFlush, func(ctx context.Context) error {
		_, err := t.delivery.FlushActivities(ctx)
		return err
	})
	t.spawn(runCtx, "flush_screenshots", t.every.ScreenshotRetry, func(ctx context.Context) error {
		_, err := t.delivery.FlushScreenshots(ctx)
		return err
	})
	if t.capturer != nil {
		t.spawn(runCtx, "capture", t.interval, t.capturer.Capture)
	}
	t.logger.Info("tracking started", "capture_interval", t.interval)
	return nil
}

// Stop enqueues the open segment, then cancels and waits for the jobs.
// Calling Stop on a stopped Tracker is a no-op.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false

	err := t.sampler.Stop(ctx)
	t.cancel()
	t.wg.Wait()
	t.logger.Info("tracking stopped")
	return err
}

func (t *Tracker) fetchInterval(ctx context.Context) time.Duration {
	userID := t.userID()
	if t.policy == nil || userID == "" {
		return t.every.DefaultCapture
	}
	d, err := t.policy.CaptureInterval(ctx, userID)
	if err != nil || d <= 0 {
		t.logger.Warn("capture policy unavailable, using default", "error", err, "default", t.every.DefaultCapture)
		return t.every.DefaultCapture
	}
	return d
}

func (t *Tracker) spawn(ctx context.Context, job string, every time.Duration, fn func(context.Context) error) {
	if every <= 0 {
		t.logger.Warn("job disabled", "job", job)
		return
	}
	// The ticker exists before spawn returns so no early tick is lost.
	ticker := t.clock.NewTicker(every)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					t.logger.Debug("job pass failed", "job", job, "error", err)
				}
			}
		}
	}()
}
