// Package collector accepts active-tab reports from the companion browser
// extension on a loopback-only HTTP endpoint.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"example.com/worktrack/internal/clock"
	httptransport "example.com/worktrack/internal/transport/http"
)

// Report is the body of POST /active. Timestamp is the extension's Unix
// time in milliseconds and is informational only.
type Report struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
}

type observation struct {
	url        string
	title      string
	receivedAt time.Time
}

// Collector keeps the latest reported tab.
type Collector struct {
	clock     clock.Clock
	freshness time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	latest *observation
}

// New returns a Collector whose reports go stale after freshness.
func New(clk clock.Clock, freshness time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{clock: clk, freshness: freshness, logger: logger}
}

// Record stores a report as received now.
func (c *Collector) Record(url, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = &observation{url: url, title: title, receivedAt: c.clock.Now()}
}

// LatestTab returns the last reported URL and page title unless the report
// is older than the freshness window at now.
func (c *Collector) LatestTab(now time.Time) (url, title string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil || c.latest.url == "" {
		return "", "", false
	}
	if now.Sub(c.latest.receivedAt) > c.freshness {
		return "", "", false
	}
	return c.latest.url, c.latest.title, true
}

// Routes builds the collector router.
func (c *Collector) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loopbackOnly)
	r.Post("/active", c.handleActive)
	return r
}

func (c *Collector) handleActive(w http.ResponseWriter, r *http.Request) {
	var report Report
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&report); err != nil {
		http.Error(w, "bad", http.StatusBadRequest)
		return
	}
	c.Record(report.URL, report.Title)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrNotLoopback is returned when asked to listen on a non-loopback address.
var ErrNotLoopback = errors.New("collector: address must be loopback")

// Serve listens on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return ErrNotLoopback
	}
	srv := httptransport.NewServer(httptransport.DefaultServerConfig(addr), c.Routes())
	return httptransport.Serve(ctx, srv, c.logger)
}
