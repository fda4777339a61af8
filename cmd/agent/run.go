package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"example.com/worktrack/internal/agent/capture"
	"example.com/worktrack/internal/agent/client"
	"example.com/worktrack/internal/agent/collector"
	"example.com/worktrack/internal/agent/delivery"
	"example.com/worktrack/internal/agent/probe"
	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/agent/sampler"
	"example.com/worktrack/internal/agent/tracker"
	"example.com/worktrack/internal/clock"
	httptransport "example.com/worktrack/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(e *env) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Clock in and track activity until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, e, logger)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
	return cmd
}

func runAgent(ctx context.Context, e *env, logger *slog.Logger) error {
	cfg := e.cfg
	if !e.state.Get().LoggedIn() {
		return errors.New("not logged in, run `worktrack-agent login` first")
	}

	q, err := queue.Open(cfg.QueuePath())
	if err != nil {
		return err
	}
	defer q.Close()

	clk := clock.Real()
	api := client.New(e.apiURL(), &http.Client{Timeout: cfg.HTTPTimeout}, e.state)

	tabs := collector.New(clk, cfg.URLFreshness, logger)
	go func() {
		if err := tabs.Serve(ctx, cfg.CollectorAddress); err != nil {
			logger.Warn("browser collector unavailable", "addr", cfg.CollectorAddress, "error", err)
		}
	}()
	if cfg.MetricsAddress != "" {
		go func() {
			if err := httptransport.Serve(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), logger); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	smp := sampler.New(probe.NewX11(nil, nil), q, clk,
		sampler.Config{IdleThreshold: cfg.IdleThreshold, MaxSegment: cfg.MaxSegment, Browsers: cfg.Browsers},
		sampler.WithLogger(logger),
		sampler.WithDeviceID(e.state.DeviceID),
		sampler.WithTabSource(tabs))
	dlv := delivery.New(q, api, clk,
		delivery.Config{ActivityBatchSize: cfg.ActivityBatchSize, ScreenshotBatchSize: cfg.ScreenshotBatchSize},
		delivery.WithLogger(logger))

	opts := []tracker.Option{tracker.WithLogger(logger)}
	if cfg.ScreenshotsEnabled {
		shots := capture.New(capture.DisplayGrabber{}, api, q, clk, cfg.BlobDir(),
			capture.WithQuality(cfg.JPEGQuality),
			capture.WithDeviceID(e.state.DeviceID),
			capture.WithLogger(logger))
		opts = append(opts, tracker.WithCapture(shots, api, func() string { return e.state.Get().UserID }))
	}
	tr := tracker.New(smp, dlv, clk, tracker.Intervals{
		Poll:            cfg.PollInterval,
		ActivityFlush:   cfg.ActivityFlushInterval,
		ScreenshotRetry: cfg.ScreenshotRetryInterval,
		DefaultCapture:  cfg.DefaultCaptureInterval,
	}, opts...)

	if err := clockIn(ctx, api, e.state.DeviceID()); err != nil {
		return err
	}
	if err := tr.Start(ctx); err != nil {
		return err
	}

	depth := clk.NewTicker(cfg.ActivityFlushInterval)
	defer depth.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-depth.C:
			if _, err := dlv.ReportDepth(ctx); err != nil {
				logger.Debug("queue depth unavailable", "error", err)
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tr.Stop(stopCtx); err != nil {
		logger.Error("failed to enqueue final segment", "error", err)
	}
	if err := api.StopTime(stopCtx); err != nil {
		logger.Warn("clock out failed", "error", err)
	}
	return nil
}

// clockIn opens a time entry. An entry already open from an earlier run is
// reused.
func clockIn(ctx context.Context, api *client.Client, deviceID *string) error {
	err := api.StartTime(ctx, deviceID)
	var se *client.StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clock in: %w", err)
	}
	return nil
}
