package speechtotext

import (
	"time"

	"github.com/koscakluka/ema-talk/internal/clock"
)

const (
	DefaultLanguage       = "ja-JP"
	DefaultSilenceTimeout = 2 * time.Second
)

type Option func(*Controller)

// WithSilenceTimeout sets how long the controller waits after the last
// interim result before ending the session.
func WithSilenceTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		c.silenceTimeout = timeout
	}
}

// WithLanguage sets the BCP 47 language requested from the engine.
func WithLanguage(language string) Option {
	return func(c *Controller) {
		c.config.Language = language
	}
}

// WithScheduler replaces the wall-clock timer used for the silence timeout.
func WithScheduler(afterFunc clock.AfterFunc) Option {
	return func(c *Controller) {
		if afterFunc != nil {
			c.afterFunc = afterFunc
		}
	}
}
