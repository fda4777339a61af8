// Package capture takes periodic screenshots and hands them to the upload
// path. A shot that cannot be delivered right away is kept on disk and
// recorded in the local queue for the delivery agent to retry.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kbinani/screenshot"

	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/clock"
	"example.com/worktrack/internal/observability"
)

// ErrNoDisplay is returned when no active display can be captured.
var ErrNoDisplay = errors.New("capture: no active display")

// Grabber returns the current screen contents.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// DisplayGrabber captures one physical display.
type DisplayGrabber struct {
	Display int
}

// Grab captures the configured display.
func (g DisplayGrabber) Grab(context.Context) (image.Image, error) {
	if screenshot.NumActiveDisplays() <= g.Display {
		return nil, ErrNoDisplay
	}
	return screenshot.CaptureDisplay(g.Display)
}

// Uploader delivers a screenshot file to the server.
type Uploader interface {
	UploadScreenshot(ctx context.Context, path string, takenAt time.Time, deviceID *string) error
}

// Spool records shots for a later retry.
type Spool interface {
	EnqueueScreenshot(ctx context.Context, shot queue.Screenshot) (int64, error)
}

// Capturer runs one capture per tick.
type Capturer struct {
	grabber  Grabber
	uploader Uploader
	spool    Spool
	clock    clock.Clock
	dir      string
	quality  int
	deviceID func() *string
	logger   *slog.Logger
}

// Option customises a Capturer.
type Option func(*Capturer)

// WithLogger sets the logger used for capture failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Capturer) { c.logger = logger }
}

// WithDeviceID sets the source of the registered device id.
func WithDeviceID(fn func() *string) Option {
	return func(c *Capturer) { c.deviceID = fn }
}

// WithQuality sets the JPEG quality.
func WithQuality(q int) Option {
	return func(c *Capturer) { c.quality = q }
}

// New returns a Capturer writing images under dir.
func New(grabber Grabber, uploader Uploader, spool Spool, clk clock.Clock, dir string, opts ...Option) *Capturer {
	c := &Capturer{
		grabber:  grabber,
		uploader: uploader,
		spool:    spool,
		clock:    clk,
		dir:      dir,
		quality:  70,
		deviceID: func() *string { return nil },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture grabs the screen, writes it to disk and tries to upload it. Before
// the file exists a failure only skips this tick. After that the file is
// either uploaded and removed or spooled for retry. The returned error is
// non-nil only when the shot could be neither delivered nor spooled.
func (c *Capturer) Capture(ctx context.Context) error {
	takenAt := c.clock.Now().UTC()
	img, err := c.grabber.Grab(ctx)
	if err != nil {
		observability.RecordCapture("skipped")
		c.logger.Warn("screen capture failed", "error", err)
		return nil
	}
	path, err := c.write(img, takenAt)
	if err != nil {
		observability.RecordCapture("skipped")
		c.logger.Warn("write screenshot failed", "error", err)
		return nil
	}

	deviceID := c.deviceID()
	uploadErr := c.uploader.UploadScreenshot(ctx, path, takenAt, deviceID)
	if uploadErr == nil {
		observability.RecordCapture("uploaded")
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("remove uploaded screenshot", "path", path, "error", err)
		}
		return nil
	}

	c.logger.Info("screenshot upload deferred", "path", path, "error", uploadErr)
	cause := uploadErr.Error()
	attemptAt := c.clock.Now().UTC()
	shot := queue.Screenshot{
		FilePath:      path,
		TakenAt:       takenAt,
		DeviceID:      deviceID,
		Attempts:      1,
		LastError:     &cause,
		LastAttemptAt: &attemptAt,
	}
	if _, err := c.spool.EnqueueScreenshot(context.WithoutCancel(ctx), shot); err != nil {
		observability.RecordCapture("lost")
		return fmt.Errorf("spool screenshot %s: %w", path, err)
	}
	observability.RecordCapture("queued")
	return nil
}

func (c *Capturer) write(img image.Image, takenAt time.Time) (string, error) {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(c.dir, ".capture-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: c.quality}); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	path := filepath.Join(c.dir, strconv.FormatInt(takenAt.UnixNano(), 10)+".jpg")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
