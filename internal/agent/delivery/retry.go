package delivery

import (
	"time"

	"example.com/worktrack/internal/agent/queue"
)

// RetryPolicy decides when a queued screenshot is retried and when it is
// abandoned.
type RetryPolicy interface {
	// Ready reports whether shot may be retried at now.
	Ready(shot queue.Screenshot, now time.Time) bool
	// Exhausted reports whether shot should be dropped without another try.
	Exhausted(shot queue.Screenshot) bool
}

// Unlimited retries every shot on every pass and never gives up.
type Unlimited struct{}

func (Unlimited) Ready(queue.Screenshot, time.Time) bool { return true }

func (Unlimited) Exhausted(queue.Screenshot) bool { return false }

// Exponential doubles the wait after each failed attempt, starting at Base
// and capped at Max. MaxAttempts of zero never gives up.
type Exponential struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (e Exponential) Ready(shot queue.Screenshot, now time.Time) bool {
	if shot.LastAttemptAt == nil || shot.Attempts == 0 {
		return true
	}
	return !now.Before(shot.LastAttemptAt.Add(e.backoff(shot.Attempts)))
}

func (e Exponential) Exhausted(shot queue.Screenshot) bool {
	return e.MaxAttempts > 0 && shot.Attempts >= e.MaxAttempts
}

func (e Exponential) backoff(attempts int) time.Duration {
	d := e.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
