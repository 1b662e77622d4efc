package texttospeech

import (
	"time"

	"github.com/koscakluka/ema-talk/internal/clock"
)

const (
	DefaultLanguage     = "ja-JP"
	DefaultCancelSettle = 200 * time.Millisecond
	DefaultResumeProbe  = 10 * time.Millisecond
	DefaultStallProbe   = 500 * time.Millisecond
	DefaultInitProbe    = 50 * time.Millisecond
	DefaultInitValidity = 24 * time.Hour
	DefaultInitTimeout  = 5 * time.Second
)

type Option func(*Controller)

// WithLanguage sets the language requested for every utterance and used to
// pick a voice.
func WithLanguage(language string) Option {
	return func(c *Controller) {
		c.language = language
	}
}

// WithCancelSettle sets how long the controller waits after cancelling an
// utterance before speaking the next one.
func WithCancelSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.cancelSettle = d
	}
}

// WithResumeProbe sets when, after speaking, a paused engine is resumed.
func WithResumeProbe(d time.Duration) Option {
	return func(c *Controller) {
		c.resumeProbe = d
	}
}

// WithStallProbe sets when, after speaking, an engine that is neither
// speaking nor holding queued speech is resumed.
func WithStallProbe(d time.Duration) Option {
	return func(c *Controller) {
		c.stallProbe = d
	}
}

// WithInitProbe sets when, after the warm-up utterance, a paused engine is
// resumed.
func WithInitProbe(d time.Duration) Option {
	return func(c *Controller) {
		c.initProbe = d
	}
}

// WithInitValidity sets how long a persisted initialization is trusted.
func WithInitValidity(d time.Duration) Option {
	return func(c *Controller) {
		c.initValidity = d
	}
}

// WithInitTimeout bounds how long initialization waits for the engine to open
// its audio device.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.initTimeout = d
		}
	}
}

func WithScheduler(afterFunc clock.AfterFunc) Option {
	return func(c *Controller) {
		if afterFunc != nil {
			c.afterFunc = afterFunc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}
