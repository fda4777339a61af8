// Package delivery drains the local durable queue to the server. Activity
// goes up in batches that leave the queue only once the server has accepted
// the whole batch; screenshots are retried one at a time.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"example.com/worktrack/internal/agent/client"
	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/clock"
	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/observability"
)

const (
	kindActivity   = "activity"
	kindScreenshot = "screenshot"
)

// Queue is the subset of the local queue the delivery agent drains.
type Queue interface {
	DequeueActivities(ctx context.Context, limit int) ([]queue.Segment, error)
	DeleteActivities(ctx context.Context, ids []int64) error
	ScreenshotsAfter(ctx context.Context, afterID int64, limit int) ([]queue.Screenshot, error)
	DeleteScreenshots(ctx context.Context, ids []int64) error
	IncrementAttempt(ctx context.Context, id int64, cause string, at time.Time) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// API is the server surface used for delivery.
type API interface {
	SubmitBatch(ctx context.Context, events []client.ActivityEvent) (int, error)
	UploadScreenshot(ctx context.Context, path string, takenAt time.Time, deviceID *string) error
}

// Config sizes each drain pass.
type Config struct {
	ActivityBatchSize   int
	ScreenshotBatchSize int
}

// Agent performs delivery passes.
type Agent struct {
	queue  Queue
	api    API
	clock  clock.Clock
	cfg    Config
	retry  RetryPolicy
	logger *slog.Logger
}

// Option customises an Agent.
type Option func(*Agent)

// WithRetryPolicy replaces the default Unlimited policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *Agent) { a.retry = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// New returns a delivery Agent.
func New(q Queue, api API, clk clock.Clock, cfg Config, opts ...Option) *Agent {
	if cfg.ActivityBatchSize <= 0 {
		cfg.ActivityBatchSize = 300
	}
	if cfg.ActivityBatchSize > domain.MaxBatchSize {
		cfg.ActivityBatchSize = domain.MaxBatchSize
	}
	if cfg.ScreenshotBatchSize <= 0 {
		cfg.ScreenshotBatchSize = 10
	}
	a := &Agent{queue: q, api: api, clock: clk, cfg: cfg, retry: Unlimited{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FlushActivities submits the oldest queued segments as one batch. On
// success exactly the submitted ids are deleted; on failure the queue is
// left as it was and the segments go out unchanged on the next pass.
func (a *Agent) FlushActivities(ctx context.Context) (int, error) {
	segments, err := a.queue.DequeueActivities(ctx, a.cfg.ActivityBatchSize)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, nil
	}

	events := make([]client.ActivityEvent, len(segments))
	ids := make([]int64, len(segments))
	for i, seg := range segments {
		ids[i] = seg.ID
		events[i] = client.ActivityEvent{
			StartedAt:   seg.StartedAt,
			EndedAt:     seg.EndedAt,
			AppName:     seg.AppName,
			WindowTitle: seg.WindowTitle,
			URL:         seg.URL,
			DeviceID:    seg.DeviceID,
			Idle:        seg.Idle,
		}
	}

	if _, err := a.api.SubmitBatch(ctx, events); err != nil {
		observability.RecordDeliveryFailed(kindActivity)
		a.logFailure("activity batch not delivered", err, "segments", len(segments))
		return 0, err
	}
	// The server already holds the batch.
	if err := a.queue.DeleteActivities(context.WithoutCancel(ctx), ids); err != nil {
		return 0, fmt.Errorf("delete delivered segments: %w", err)
	}
	observability.RecordDelivered(kindActivity, len(ids))
	return len(ids), nil
}

// FlushScreenshots retries pending screenshots independently, attempting
// at most ScreenshotBatchSize uploads per pass. Rows still backing off are
// skipped without counting, so newer ready rows behind them are reached.
// It returns the number delivered; upload failures are recorded on the
// row, not returned.
func (a *Agent) FlushScreenshots(ctx context.Context) (int, error) {
	limit := a.cfg.ScreenshotBatchSize
	delivered, attempted := 0, 0
	var after int64
	for attempted < limit {
		page, err := a.queue.ScreenshotsAfter(ctx, after, limit)
		if err != nil {
			return delivered, err
		}
		for _, shot := range page {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			after = shot.ID
			if a.retry.Exhausted(shot) {
				a.logger.Warn("dropping screenshot after repeated failures", "path", shot.FilePath, "attempts", shot.Attempts)
				if err := a.discard(ctx, shot); err != nil {
					return delivered, err
				}
				continue
			}
			if !a.retry.Ready(shot, a.clock.Now()) {
				continue
			}
			attempted++
			ok, err := a.upload(ctx, shot)
			if err != nil {
				return delivered, err
			}
			if ok {
				delivered++
			}
			if attempted == limit {
				break
			}
		}
		if len(page) < limit {
			break
		}
	}
	return delivered, nil
}

// upload sends one screenshot and settles its queue row.
func (a *Agent) upload(ctx context.Context, shot queue.Screenshot) (bool, error) {
	err := a.api.UploadScreenshot(ctx, shot.FilePath, shot.TakenAt, shot.DeviceID)
	switch {
	case err == nil:
		if err := a.discard(ctx, shot); err != nil {
			return false, err
		}
		observability.RecordDelivered(kindScreenshot, 1)
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		a.logger.Warn("queued screenshot file is gone", "path", shot.FilePath)
		return false, a.queue.DeleteScreenshots(ctx, []int64{shot.ID})
	default:
		observability.RecordDeliveryFailed(kindScreenshot)
		a.logFailure("screenshot retry failed", err, "path", shot.FilePath, "attempts", shot.Attempts+1)
		return false, a.queue.IncrementAttempt(ctx, shot.ID, err.Error(), a.clock.Now().UTC())
	}
}

// ReportDepth publishes the queue depth gauges.
func (a *Agent) ReportDepth(ctx context.Context) (queue.Stats, error) {
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	observability.SetQueueDepth(kindActivity, stats.Activities)
	observability.SetQueueDepth(kindScreenshot, stats.Screenshots)
	return stats, nil
}

func (a *Agent) discard(ctx context.Context, shot queue.Screenshot) error {
	if err := os.Remove(shot.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("remove screenshot file", "path", shot.FilePath, "error", err)
	}
	return a.queue.DeleteScreenshots(context.WithoutCancel(ctx), []int64{shot.ID})
}

// logFailure logs transient errors at info and everything else at warn.
func (a *Agent) logFailure(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if client.IsTransient(err) {
		a.logger.Info(msg, args...)
		return
	}
	a.logger.Warn(msg, args...)
}
