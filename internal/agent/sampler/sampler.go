// Package sampler turns periodic desktop observations into closed activity
// segments. It holds at most one open segment; a segment is closed when the
// observed state changes or it reaches the maximum segment length.
package sampler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"example.com/worktrack/internal/agent/probe"
	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/clock"
)

// Source produces desktop observations.
type Source interface {
	Observe(ctx context.Context) (probe.Observation, error)
}

// TabSource reports the most recent browser tab still considered fresh at now.
type TabSource interface {
	LatestTab(now time.Time) (url, title string, ok bool)
}

// Sink receives closed segments.
type Sink interface {
	EnqueueActivity(ctx context.Context, seg queue.Segment) (int64, error)
}

// Config holds the sampler thresholds.
type Config struct {
	IdleThreshold time.Duration
	MaxSegment    time.Duration
	Browsers      []string
}

type state struct {
	app    string
	title  string
	url    string
	hasURL bool
	idle   bool
}

type openSegment struct {
	state     state
	startedAt time.Time
}

// Sampler owns the single open-segment slot.
type Sampler struct {
	source   Source
	tabs     TabSource
	sink     Sink
	clock    clock.Clock
	cfg      Config
	deviceID func() *string
	logger   *slog.Logger

	mu      sync.Mutex
	active  bool
	current *openSegment
}

// Option customises a Sampler.
type Option func(*Sampler)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) { s.logger = logger }
}

// WithDeviceID sets the function consulted for the device id stamped on segments.
func WithDeviceID(fn func() *string) Option {
	return func(s *Sampler) { s.deviceID = fn }
}

// WithTabSource attaches the browser tab feed.
func WithTabSource(tabs TabSource) Option {
	return func(s *Sampler) { s.tabs = tabs }
}

// New builds a Sampler in the stopped state.
func New(source Source, sink Sink, clk clock.Clock, cfg Config, opts ...Option) *Sampler {
	s := &Sampler{
		source:   source,
		sink:     sink,
		clock:    clk,
		cfg:      cfg,
		deviceID: func() *string { return nil },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxSegment <= 0 {
		s.cfg.MaxSegment = time.Minute
	}
	return s
}

// Start arms the sampler with an empty slot.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.current = nil
}

// Tick samples once and closes the open segment if needed. An observation
// error skips the tick without touching the slot.
func (s *Sampler) Tick(ctx context.Context) error {
	obs, err := s.source.Observe(ctx)
	if err != nil {
		s.logger.Warn("activity sample failed", "error", err)
		return nil
	}
	now := s.clock.Now()
	next := s.stateOf(obs, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	if s.current == nil {
		s.current = &openSegment{state: next, startedAt: now}
		return nil
	}
	if now.Before(s.current.startedAt) {
		now = s.current.startedAt
	}
	if err := s.splitLong(ctx, now); err != nil {
		return err
	}
	if s.current.state == next && now.Sub(s.current.startedAt) < s.cfg.MaxSegment {
		return nil
	}
	if err := s.emit(ctx, s.current.startedAt, now); err != nil {
		return err
	}
	s.current = &openSegment{state: next, startedAt: now}
	return nil
}

// Stop closes and enqueues whatever segment is open, then disarms the sampler.
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	if s.current == nil {
		return nil
	}
	now := s.clock.Now()
	if now.Before(s.current.startedAt) {
		now = s.current.startedAt
	}
	if err := s.splitLong(ctx, now); err != nil {
		return err
	}
	err := s.emit(ctx, s.current.startedAt, now)
	s.current = nil
	return err
}

// splitLong cuts max-length pieces off the open segment until what remains
// is no longer than MaxSegment at now.
func (s *Sampler) splitLong(ctx context.Context, now time.Time) error {
	for now.Sub(s.current.startedAt) > s.cfg.MaxSegment {
		end := s.current.startedAt.Add(s.cfg.MaxSegment)
		if err := s.emit(ctx, s.current.startedAt, end); err != nil {
			return err
		}
		s.current.startedAt = end
	}
	return nil
}

// emit must be called with mu held.
func (s *Sampler) emit(ctx context.Context, start, end time.Time) error {
	st := s.current.state
	seg := queue.Segment{
		StartedAt: start,
		EndedAt:   end,
		AppName:   st.app,
		Idle:      st.idle,
		DeviceID:  s.deviceID(),
	}
	if st.title != "" {
		title := st.title
		seg.WindowTitle = &title
	}
	if st.hasURL {
		url := st.url
		seg.URL = &url
	}
	if _, err := s.sink.EnqueueActivity(ctx, seg); err != nil {
		s.logger.Warn("failed to enqueue activity segment", "error", err)
		return err
	}
	return nil
}

func (s *Sampler) stateOf(obs probe.Observation, now time.Time) state {
	st := state{
		app:   obs.AppName,
		title: obs.WindowTitle,
		idle:  obs.IdleFor >= s.cfg.IdleThreshold,
	}
	if st.app == "" {
		st.app = "Unknown"
	}
	if s.tabs != nil && s.isBrowser(st.app) {
		url, title, ok := s.tabs.LatestTab(now)
		st.url, st.hasURL = url, ok
		if ok && st.title == "" {
			st.title = title
		}
	}
	return st
}

func (s *Sampler) isBrowser(app string) bool {
	name := strings.ToLower(app)
	for _, b := range s.cfg.Browsers {
		if b != "" && strings.Contains(name, strings.ToLower(b)) {
			return true
		}
	}
	return false
}
