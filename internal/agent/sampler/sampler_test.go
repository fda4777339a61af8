package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"example.com/worktrack/internal/agent/probe"
	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/clock"
)

var base = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

type scriptSource struct {
	next probe.Observation
	err  error
}

func (s *scriptSource) Observe(context.Context) (probe.Observation, error) {
	return s.next, s.err
}

type memSink struct {
	segments []queue.Segment
	fail     error
}

func (m *memSink) EnqueueActivity(_ context.Context, seg queue.Segment) (int64, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.segments = append(m.segments, seg)
	return int64(len(m.segments)), nil
}

type staticTab struct {
	url   string
	title string
	ok    bool
}

func (s staticTab) LatestTab(time.Time) (string, string, bool) { return s.url, s.title, s.ok }

func newTestSampler(maxSeg time.Duration, opts ...Option) (*Sampler, *scriptSource, *memSink, *clock.FakeClock) {
	src := &scriptSource{}
	sink := &memSink{}
	clk := clock.Fake(base)
	s := New(src, sink, clk, Config{
		IdleThreshold: 3 * time.Minute,
		MaxSegment:    maxSeg,
		Browsers:      []string{"chrome", "firefox"},
	}, opts...)
	s.Start()
	return s, src, sink, clk
}

func TestStateChangeClosesSegment(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Minute)
	ctx := context.Background()

	src.next = probe.Observation{AppName: "code", WindowTitle: "main.go"}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(5 * time.Second)
	require.NoError(t, s.Tick(ctx))
	require.Empty(t, sink.segments)

	clk.Advance(5 * time.Second)
	src.next = probe.Observation{AppName: "slack"}
	require.NoError(t, s.Tick(ctx))

	require.Len(t, sink.segments, 1)
	got := sink.segments[0]
	require.Equal(t, "code", got.AppName)
	require.Equal(t, "main.go", *got.WindowTitle)
	require.Equal(t, base, got.StartedAt)
	require.Equal(t, base.Add(10*time.Second), got.EndedAt)
}

func TestIdleThresholdFlipsState(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Hour)
	ctx := context.Background()

	src.next = probe.Observation{AppName: "code", IdleFor: 179 * time.Second}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(5 * time.Second)
	src.next = probe.Observation{AppName: "code", IdleFor: 3 * time.Minute}
	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Stop(ctx))

	require.Len(t, sink.segments, 2)
	require.False(t, sink.segments[0].Idle)
	require.True(t, sink.segments[1].Idle)
}

func TestSamplingErrorSkipsTick(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Minute)
	ctx := context.Background()

	src.next = probe.Observation{AppName: "code"}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(5 * time.Second)
	src.err = errors.New("display unavailable")
	require.NoError(t, s.Tick(ctx))
	require.Empty(t, sink.segments)

	src.err = nil
	clk.Advance(5 * time.Second)
	require.NoError(t, s.Tick(ctx))
	require.Empty(t, sink.segments)
}

func TestMaxSegmentForcesSplit(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Minute)
	ctx := context.Background()
	src.next = probe.Observation{AppName: "code"}

	require.NoError(t, s.Tick(ctx))
	for i := 0; i < 24; i++ {
		clk.Advance(5 * time.Second)
		require.NoError(t, s.Tick(ctx))
	}
	require.Len(t, sink.segments, 2)
	for _, seg := range sink.segments {
		require.Equal(t, time.Minute, seg.EndedAt.Sub(seg.StartedAt))
	}

	clk.Advance(150 * time.Second)
	require.NoError(t, s.Tick(ctx))
	require.Len(t, sink.segments, 4)
	require.Equal(t, base.Add(4*time.Minute), sink.segments[3].EndedAt)
}

func TestBrowserURLOnlyForBrowsers(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Minute, WithTabSource(staticTab{url: "https://example.org", ok: true}))
	ctx := context.Background()

	src.next = probe.Observation{AppName: "Google Chrome"}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(5 * time.Second)
	src.next = probe.Observation{AppName: "terminal"}
	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Stop(ctx))

	require.Len(t, sink.segments, 2)
	require.NotNil(t, sink.segments[0].URL)
	require.Equal(t, "https://example.org", *sink.segments[0].URL)
	require.Nil(t, sink.segments[1].URL)
}

func TestTabTitleFillsMissingWindowTitle(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Minute, WithTabSource(staticTab{url: "https://example.org", title: "Example Domain", ok: true}))
	ctx := context.Background()

	src.next = probe.Observation{AppName: "firefox"}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(5 * time.Second)
	src.next = probe.Observation{AppName: "firefox", WindowTitle: "Mozilla Firefox"}
	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Stop(ctx))

	require.Len(t, sink.segments, 2)
	require.Equal(t, "Example Domain", *sink.segments[0].WindowTitle)
	require.Equal(t, "Mozilla Firefox", *sink.segments[1].WindowTitle)
}

func TestStopFlushesAndDisarms(t *testing.T) {
	device := "dev-1"
	s, src, sink, clk := newTestSampler(time.Minute, WithDeviceID(func() *string { return &device }))
	ctx := context.Background()

	require.NoError(t, s.Stop(ctx))
	require.Empty(t, sink.segments)

	s.Start()
	src.next = probe.Observation{AppName: "code"}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(20 * time.Second)
	require.NoError(t, s.Stop(ctx))
	require.Len(t, sink.segments, 1)
	require.Equal(t, device, *sink.segments[0].DeviceID)

	clk.Advance(5 * time.Second)
	require.NoError(t, s.Tick(ctx))
	require.Len(t, sink.segments, 1)
}

func TestEnqueueFailureKeepsSegmentOpen(t *testing.T) {
	s, src, sink, clk := newTestSampler(time.Minute)
	ctx := context.Background()

	src.next = probe.Observation{AppName: "code"}
	require.NoError(t, s.Tick(ctx))
	clk.Advance(5 * time.Second)
	sink.fail = errors.New("disk full")
	src.next = probe.Observation{AppName: "slack"}
	require.Error(t, s.Tick(ctx))

	sink.fail = nil
	clk.Advance(5 * time.Second)
	require.NoError(t, s.Tick(ctx))
	require.Len(t, sink.segments, 1)
	require.Equal(t, base, sink.segments[0].StartedAt)
	require.Equal(t, base.Add(10*time.Second), sink.segments[0].EndedAt)
}

func TestSegmentsTileTimeline(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxSeg := time.Duration(rapid.IntRange(10, 120).Draw(t, "maxSegSeconds")) * time.Second
		s, src, sink, clk := newTestSampler(maxSeg)
		ctx := context.Background()

		var first time.Time
		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			clk.Advance(time.Duration(rapid.IntRange(0, 400).Draw(t, "gapSeconds")) * time.Second)
			src.next = probe.Observation{
				AppName: rapid.SampledFrom([]string{"code", "chrome", "slack"}).Draw(t, "app"),
				IdleFor: time.Duration(rapid.IntRange(0, 300).Draw(t, "idleSeconds")) * time.Second,
			}
			src.err = nil
			if rapid.IntRange(0, 9).Draw(t, "failRoll") == 0 {
				src.err = errors.New("sample failed")
			}
			require.NoError(t, s.Tick(ctx))
			if src.err == nil && first.IsZero() {
				first = clk.Now()
			}
		}
		clk.Advance(time.Duration(rapid.IntRange(0, 400).Draw(t, "finalGapSeconds")) * time.Second)
		require.NoError(t, s.Stop(ctx))

		segs := sink.segments
		if first.IsZero() {
			require.Empty(t, segs)
			return
		}
		require.NotEmpty(t, segs)
		require.Equal(t, first, segs[0].StartedAt)
		require.Equal(t, clk.Now(), segs[len(segs)-1].EndedAt)
		for i, seg := range segs {
			require.False(t, seg.EndedAt.Before(seg.StartedAt), "segment %d inverted", i)
			require.LessOrEqual(t, seg.EndedAt.Sub(seg.StartedAt), maxSeg, "segment %d too long", i)
			if i > 0 {
				require.Equal(t, segs[i-1].EndedAt, seg.StartedAt, "gap or overlap before segment %d", i)
			}
		}
	})
}
