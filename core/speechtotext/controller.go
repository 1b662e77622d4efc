// Package speechtotext turns a single-shot recognition engine into a
// listening session controller with a silence timeout and an accumulated
// transcript.
package speechtotext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-talk/core/events"
	"github.com/koscakluka/ema-talk/internal/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Controller owns at most one listening session at a time.
//
// Engine handlers may be invoked from any goroutine. Handlers that belong to a
// session that already ended are ignored.
type Controller struct {
	mu sync.Mutex

	factory EngineFactory
	engine  RecognitionEngine
	config  Config

	silenceTimeout time.Duration
	afterFunc      clock.AfterFunc

	state         State
	transcript    string
	err           error
	session       uint64
	activeSession uint64
	silenceTimer  clock.Timer

	emitEvent func(events.Event)
}

// NewController creates a controller. A nil factory means the platform has no
// recognition capability.
func NewController(factory EngineFactory, opts ...Option) *Controller {
	c := &Controller{
		factory: factory,
		config: Config{
			Language:       DefaultLanguage,
			InterimResults: true,
		},
		silenceTimeout: DefaultSilenceTimeout,
		afterFunc:      clock.Real,
		emitEvent:      func(events.Event) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) SetEventEmitter(emitEvent func(events.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if emitEvent != nil {
		c.emitEvent = emitEvent
	} else {
		c.emitEvent = func(events.Event) {}
	}
}

// StartListening opens a new session. It fails with ErrUnsupported when there
// is no engine and with ErrAlreadyListening when a session is active.
func (c *Controller) StartListening() error {
	_, span := tracer.Start(context.Background(), "start listening")
	defer span.End()

	c.mu.Lock()
	if c.factory == nil {
		c.err = ErrUnsupported
		c.mu.Unlock()
		span.RecordError(ErrUnsupported)
		span.SetStatus(codes.Error, ErrUnsupported.Error())
		return ErrUnsupported
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyListening
	}
	if c.engine == nil {
		engine, err := c.factory(c.config)
		if err != nil {
			err = fmt.Errorf("failed to create speech recognition engine: %w", err)
			c.err = err
			c.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		c.engine = engine
	}

	c.session++
	id := c.session
	c.activeSession = id
	c.state = StateListening
	engine := c.engine
	c.mu.Unlock()
	span.SetAttributes(attribute.Int64("session.id", int64(id)))

	if err := engine.Start(c.handlers(id)); err != nil {
		err = fmt.Errorf("failed to start speech recognition: %w", err)
		c.mu.Lock()
		if c.activeSession == id {
			c.endSessionLocked()
			c.err = err
		}
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// StopListening asks the engine to end the current session. The session ends
// when the engine confirms; there is no automatic restart.
func (c *Controller) StopListening() {
	c.mu.Lock()
	id := c.activeSession
	c.mu.Unlock()
	if id != 0 {
		c.requestStop(id)
	}
}

// ResetTranscript clears the accumulated transcript and the last error.
func (c *Controller) ResetTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = ""
	c.err = nil
}

func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Error returns the last recognition error, or nil.
func (c *Controller) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsListening() bool {
	return c.State() != StateIdle
}

func (c *Controller) IsSupported() bool {
	return c.factory != nil
}

// Close ends any session and disposes of the engine.
func (c *Controller) Close() error {
	c.mu.Lock()
	engine := c.engine
	wasActive := c.activeSession != 0
	c.engine = nil
	c.endSessionLocked()
	c.mu.Unlock()

	if engine == nil {
		return nil
	}
	if wasActive {
		if err := engine.Stop(); err != nil {
			logger.Warn("failed to stop speech recognition on close", slog.String("error", err.Error()))
		}
	}

	switch e := engine.(type) {
	case interface{ Close() error }:
		if err := e.Close(); err != nil {
			return fmt.Errorf("failed to close speech recognition engine: %w", err)
		}
	case interface{ Close() }:
		e.Close()
	}
	return nil
}

func (c *Controller) handlers(id uint64) RecognitionHandlers {
	return RecognitionHandlers{
		OnStart:  func() { c.onStart(id) },
		OnResult: func(results []Result) { c.onResult(id, results) },
		OnError:  func(code string) { c.onError(id, code) },
		OnEnd:    func() { c.onEnd(id) },
	}
}

func (c *Controller) onStart(id uint64) {
	c.mu.Lock()
	if c.activeSession != id {
		c.mu.Unlock()
		return
	}
	c.err = nil
	emit := c.emitEvent
	c.mu.Unlock()

	emit(events.NewUserListeningStarted())
}

func (c *Controller) onResult(id uint64, results []Result) {
	var final, interim strings.Builder
	for _, result := range results {
		if result.Final {
			final.WriteString(result.Transcript)
		} else {
			interim.WriteString(result.Transcript)
		}
	}

	c.mu.Lock()
	if c.activeSession != id {
		c.mu.Unlock()
		return
	}
	c.stopSilenceTimerLocked()
	emit := c.emitEvent

	if final.Len() > 0 {
		c.transcript += final.String()
		c.mu.Unlock()

		emit(events.NewUserTranscriptSegment(final.String()))
		c.requestStop(id)
		return
	}

	if interim.Len() > 0 {
		c.silenceTimer = c.afterFunc(c.silenceTimeout, func() { c.onSilence(id) })
	}
	c.mu.Unlock()

	if interim.Len() > 0 {
		emit(events.NewUserTranscriptInterimUpdated(interim.String()))
	}
}

func (c *Controller) onSilence(id uint64) {
	c.mu.Lock()
	expired := c.activeSession == id && c.state == StateListening
	c.mu.Unlock()
	if expired {
		logger.Debug("silence timeout elapsed, stopping session")
		c.requestStop(id)
	}
}

func (c *Controller) onError(id uint64, code string) {
	c.mu.Lock()
	if c.activeSession != id {
		c.mu.Unlock()
		return
	}
	err := &RecognitionError{Code: code}
	c.err = err
	c.endSessionLocked()
	emit := c.emitEvent
	c.mu.Unlock()

	logger.Warn("speech recognition failed", slog.String("code", code))
	emit(events.NewUserInputFailed(err))
}

func (c *Controller) onEnd(id uint64) {
	c.mu.Lock()
	if c.activeSession != id {
		c.mu.Unlock()
		return
	}
	c.endSessionLocked()
	transcript := c.transcript
	emit := c.emitEvent
	c.mu.Unlock()

	emit(events.NewUserListeningEnded(transcript))
}

func (c *Controller) requestStop(id uint64) {
	c.mu.Lock()
	if c.activeSession != id || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.stopSilenceTimerLocked()
	c.state = StateStopping
	engine := c.engine
	c.mu.Unlock()

	if err := engine.Stop(); err != nil {
		logger.Warn("failed to stop speech recognition", slog.String("error", err.Error()))
		// Without a confirmed end the session would never close.
		c.onEnd(id)
	}
}

func (c *Controller) endSessionLocked() {
	c.stopSilenceTimerLocked()
	c.activeSession = 0
	c.state = StateIdle
}

func (c *Controller) stopSilenceTimerLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}
