package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worktrack/internal/clock"
)

type countingSampler struct {
	mu      sync.Mutex
	ticks   int
	started int
	stopped int
	events  []string
}

func (s *countingSampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	s.events = append(s.events, "start")
}

func (s *countingSampler) Tick(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	return nil
}

func (s *countingSampler) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	s.events = append(s.events, "stop")
	return nil
}

func (s *countingSampler) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

type countingDelivery struct {
	activity    atomic.Int32
	screenshots atomic.Int32
	block       chan struct{}
}

func (d *countingDelivery) FlushActivities(ctx context.Context) (int, error) {
	d.activity.Add(1)
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, nil
}

func (d *countingDelivery) FlushScreenshots(context.Context) (int, error) {
	d.screenshots.Add(1)
	return 0, nil
}

type countingCapturer struct{ n atomic.Int32 }

func (c *countingCapturer) Capture(context.Context) error {
	c.n.Add(1)
	return nil
}

type fixedPolicy struct {
	d   time.Duration
	err error
}

func (p fixedPolicy) CaptureInterval(context.Context, string) (time.Duration, error) {
	return p.d, p.err
}

var every = Intervals{
	Poll:            5 * time.Second,
	ActivityFlush:   30 * time.Second,
	ScreenshotRetry: time.Minute,
	DefaultCapture:  10 * time.Minute,
}

const wait = 2 * time.Second

func TestJobsRunOnTheirOwnIntervals(t *testing.T) {
	clk := clock.Fake(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	s := &countingSampler{}
	d := &countingDelivery{}
	c := &countingCapturer{}
	tr := New(s, d, clk, every, WithCapture(c, fixedPolicy{d: 2 * time.Minute}, func() string { return "emp-1" }))

	require.NoError(t, tr.Start(context.Background()))
	require.ErrorIs(t, tr.Start(context.Background()), ErrRunning)
	require.Equal(t, 2*time.Minute, tr.CaptureInterval())
	require.Equal(t, 1, s.tickCount())

	clk.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return s.tickCount() == 2 }, wait, time.Millisecond)

	clk.Advance(25 * time.Second)
	require.Eventually(t, func() bool { return d.activity.Load() == 1 }, wait, time.Millisecond)

	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return d.screenshots.Load() == 1 }, wait, time.Millisecond)
	require.Zero(t, c.n.Load())

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return c.n.Load() == 1 }, wait, time.Millisecond)

	require.NoError(t, tr.Stop(context.Background()))
	require.False(t, tr.Running())
	require.Equal(t, []string{"start", "stop"}, s.events)
	require.NoError(t, tr.Stop(context.Background()))
	require.Equal(t, 1, s.stopped)
}

func TestCaptureFallsBackToDefaultInterval(t *testing.T) {
	clk := clock.Fake(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	tr := New(&countingSampler{}, &countingDelivery{}, clk, every,
		WithCapture(&countingCapturer{}, fixedPolicy{err: errors.New("offline")}, func() string { return "emp-1" }))

	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(context.Background())
	require.Equal(t, every.DefaultCapture, tr.CaptureInterval())
}

func TestSlowFlushDoesNotBlockSampling(t *testing.T) {
	clk := clock.Fake(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	s := &countingSampler{}
	d := &countingDelivery{block: make(chan struct{})}
	tr := New(s, d, clk, every)

	require.NoError(t, tr.Start(context.Background()))
	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return d.activity.Load() == 1 }, wait, time.Millisecond)

	before := s.tickCount()
	clk.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return s.tickCount() > before }, wait, time.Millisecond)

	require.NoError(t, tr.Stop(context.Background()))
	require.Zero(t, tr.CaptureInterval())
}
