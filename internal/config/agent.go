package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/worktrack/internal/domain"
)

// Agent configures the desktop agent. Durations are written in YAML as Go
// duration strings ("5s", "10m").
type Agent struct {
	APIURL  string `yaml:"api_url"`
	DataDir string `yaml:"data_dir"`

	PollInterval  time.Duration `yaml:"poll_interval"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	MaxSegment    time.Duration `yaml:"max_segment"`

	ActivityFlushInterval time.Duration `yaml:"activity_flush_interval"`
	ActivityBatchSize     int           `yaml:"activity_batch_size"`

	ScreenshotRetryInterval time.Duration `yaml:"screenshot_retry_interval"`
	ScreenshotBatchSize     int           `yaml:"screenshot_batch_size"`
	DefaultCaptureInterval  time.Duration `yaml:"default_capture_interval"`
	ScreenshotsEnabled      bool          `yaml:"screenshots_enabled"`
	JPEGQuality             int           `yaml:"jpeg_quality"`

	CollectorAddress string        `yaml:"collector_address"`
	URLFreshness     time.Duration `yaml:"url_freshness"`
	Browsers         []string      `yaml:"browsers"`

	// HTTPTimeout of zero leaves outbound calls bounded only by the transport.
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	MetricsAddress string        `yaml:"metrics_address"`
}

// DefaultAgent returns the built-in agent settings.
func DefaultAgent() Agent {
	return Agent{
		APIURL:                  "http://localhost:8080",
		DataDir:                 defaultDataDir(),
		PollInterval:            5 * time.Second,
		IdleThreshold:           3 * time.Minute,
		MaxSegment:              time.Minute,
		ActivityFlushInterval:   30 * time.Second,
		ActivityBatchSize:       300,
		ScreenshotRetryInterval: time.Minute,
		ScreenshotBatchSize:     10,
		DefaultCaptureInterval:  10 * time.Minute,
		ScreenshotsEnabled:      true,
		JPEGQuality:             70,
		CollectorAddress:        "127.0.0.1:17330",
		URLFreshness:            15 * time.Second,
		Browsers:                []string{"chrome", "edge", "firefox"},
	}
}

// LoadAgent merges the YAML file at path over the defaults and then applies
// AGENT_API_URL and AGENT_DATA_DIR. A missing file is not an error.
func LoadAgent(path string) (Agent, error) {
	cfg := DefaultAgent()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Agent{}, fmt.Errorf("read agent config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Agent{}, fmt.Errorf("parse agent config %s: %w", path, err)
			}
		}
	}
	cfg.APIURL = getEnv("AGENT_API_URL", cfg.APIURL)
	cfg.DataDir = getEnv("AGENT_DATA_DIR", cfg.DataDir)
	return cfg, cfg.Validate()
}

// Validate rejects settings the agent cannot run with.
func (a Agent) Validate() error {
	var errs []error
	if a.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if a.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":             a.PollInterval,
		"idle_threshold":            a.IdleThreshold,
		"max_segment":               a.MaxSegment,
		"activity_flush_interval":   a.ActivityFlushInterval,
		"screenshot_retry_interval": a.ScreenshotRetryInterval,
		"default_capture_interval":  a.DefaultCaptureInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if a.ActivityBatchSize <= 0 || a.ScreenshotBatchSize <= 0 {
		errs = append(errs, errors.New("batch sizes must be positive"))
	}
	if a.ActivityBatchSize > domain.MaxBatchSize {
		errs = append(errs, fmt.Errorf("activity_batch_size must not exceed %d", domain.MaxBatchSize))
	}
	if a.JPEGQuality < 1 || a.JPEGQuality > 100 {
		errs = append(errs, errors.New("jpeg_quality must be between 1 and 100"))
	}
	return errors.Join(errs...)
}

// QueuePath is the sqlite file holding the durable queues.
func (a Agent) QueuePath() string { return filepath.Join(a.DataDir, "queue.db") }

// StatePath is the JSON file holding tokens and device registration.
func (a Agent) StatePath() string { return filepath.Join(a.DataDir, "state.json") }

// BlobDir holds screenshots waiting for upload.
func (a Agent) BlobDir() string { return filepath.Join(a.DataDir, "blobs") }

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "worktrack")
	}
	return ".worktrack"
}
