// Package texttospeech speaks assistant replies through a platform synthesis
// engine. It guarantees a single active utterance, works around engines that
// stall or stay paused, and remembers across restarts that audio playback was
// unlocked by the user.
package texttospeech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-talk/core/events"
	"github.com/koscakluka/ema-talk/core/storage"
	"github.com/koscakluka/ema-talk/internal/clock"
	"github.com/koscakluka/ema-talk/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InitializedKey is the store key of the persisted initialization record.
const InitializedKey = "audioInitialized"

type utteranceSession struct {
	id   uint64
	text string
}

type Controller struct {
	mu sync.Mutex

	engine SynthesisEngine
	store  storage.Store

	language     string
	cancelSettle time.Duration
	resumeProbe  time.Duration
	stallProbe   time.Duration
	initProbe    time.Duration
	initValidity time.Duration
	initTimeout  time.Duration
	afterFunc    clock.AfterFunc
	now          func() time.Time

	initialized bool
	speaking    bool
	err         error
	voices      []Voice

	current             *utteranceSession
	utteranceSeq        uint64
	pendingCancellation bool
	pendingText         string
	settleTimer         clock.Timer

	unsubscribeVoices func()
	emitEvent         func(events.Event)
}

// NewController creates a controller. A nil engine means the platform has no
// synthesis capability; a nil store disables persistence.
func NewController(engine SynthesisEngine, store storage.Store, opts ...Option) *Controller {
	c := &Controller{
		engine:       engine,
		store:        store,
		language:     DefaultLanguage,
		cancelSettle: DefaultCancelSettle,
		resumeProbe:  DefaultResumeProbe,
		stallProbe:   DefaultStallProbe,
		initProbe:    DefaultInitProbe,
		initValidity: DefaultInitValidity,
		initTimeout:  DefaultInitTimeout,
		afterFunc:    clock.Real,
		now:          time.Now,
		emitEvent:    func(events.Event) {},
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

func (c *Controller) IsSupported() bool {
	return c.engine != nil
}

// Initialize unlocks audio playback. It must be triggered by a user gesture
// the first time; afterwards Restore can revalidate the persisted record.
func (c *Controller) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "initialize speech synthesis")
	defer span.End()

	if c.engine == nil {
		return ErrUnsupported
	}

	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if initialized {
		return nil
	}

	if warmUpper, ok := c.engine.(WarmUpper); ok {
		warmUpCtx, cancel := context.WithTimeout(ctx, c.initTimeout)
		err := warmUpper.WarmUp(warmUpCtx)
		cancel()
		if err != nil {
			err = fmt.Errorf("failed to warm up audio output: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("audio initialization failed", slog.String("error", err.Error()))
			return err
		}
	}

	if err := c.engine.Speak(c.silentUtterance(nil, nil)); err != nil {
		err = fmt.Errorf("failed to speak warm-up utterance: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("audio initialization failed", slog.String("error", err.Error()))
		return err
	}
	c.afterFunc(c.initProbe, func() {
		if c.engine.Paused() {
			logger.Debug("resuming paused engine during initialization")
			c.engine.Resume()
		}
	})

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.persistInitialized(ctx)
	logger.Info("speech synthesis initialized")
	return nil
}

// Restore loads the voice catalog, follows catalog changes and revalidates a
// persisted initialization. It is meant to run once at startup.
func (c *Controller) Restore(ctx context.Context) error {
	if c.engine == nil {
		return nil
	}

	c.LoadVoices()
	if notifier, ok := c.engine.(VoicesChangedNotifier); ok {
		unsubscribe := notifier.OnVoicesChanged(func() { c.LoadVoices() })
		c.mu.Lock()
		previous := c.unsubscribeVoices
		c.unsubscribeVoices = unsubscribe
		c.mu.Unlock()
		if previous != nil {
			previous()
		}
	}
	return c.Revalidate(ctx)
}

// Revalidate checks the persisted initialization record. A recent record is
// tested with a silent utterance whose start marks the controller
// initialized; an expired record is cleared. It is meant to run whenever the
// client regains focus.
func (c *Controller) Revalidate(ctx context.Context) error {
	if c.engine == nil || c.store == nil {
		return nil
	}

	entry, err := c.store.Get(ctx, InitializedKey)
	if err != nil {
		return fmt.Errorf("failed to read initialization record: %w", err)
	}
	if entry == nil || entry.Value != "true" {
		return nil
	}

	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()

	recent := c.now().Sub(entry.Timestamp) < c.initValidity
	if !recent {
		logger.Info("clearing expired audio initialization record")
		c.invalidate(ctx)
		return nil
	}
	if initialized {
		return nil
	}

	detached := context.WithoutCancel(ctx)
	test := c.silentUtterance(
		func() {
			c.mu.Lock()
			c.initialized = true
			c.mu.Unlock()
			logger.Info("restored audio initialization")
		},
		func(code ErrorCode) {
			if code == ErrorCodeCanceled {
				logger.Debug("audio permission test was canceled")
				return
			}
			logger.Warn("audio permission test failed", slog.String("code", string(code)))
			c.invalidate(detached)
		},
	)
	if err := c.engine.Speak(test); err != nil {
		logger.Warn("audio permission test failed", slog.String("error", err.Error()))
		c.invalidate(ctx)
	}
	return nil
}

// LoadVoices refreshes the voices matching the target language and records
// a NoVoiceError diagnostic when there are none.
func (c *Controller) LoadVoices() []Voice {
	if c.engine == nil {
		return nil
	}

	available := c.engine.Voices()
	matching := []Voice{}
	for _, voice := range available {
		if sameLanguage(voice.Language, c.language) {
			matching = append(matching, voice)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = matching

	var noVoiceErr *NoVoiceError
	if len(matching) == 0 {
		c.err = &NoVoiceError{Language: c.language, Available: len(available)}
		logger.Warn("no voice for target language",
			slog.String("language", c.language),
			slog.Int("available", len(available)))
	} else if errors.As(c.err, &noVoiceErr) {
		c.err = nil
	}
	return matching
}

// Speak says text. An active utterance is cancelled first and the new text is
// spoken once the engine has settled; a newer request arriving while settling
// replaces the pending text.
func (c *Controller) Speak(text string) error {
	if c.engine == nil {
		c.mu.Lock()
		c.err = ErrUnsupported
		c.mu.Unlock()
		return ErrUnsupported
	}
	if strings.TrimSpace(text) == "" {
		logger.Debug("ignoring empty speech request")
		return nil
	}

	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		if err := c.Initialize(context.Background()); err != nil {
			logger.Warn("speaking without initialized audio", slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	if c.pendingCancellation {
		c.pendingText = text
		c.mu.Unlock()
		return nil
	}
	if c.current != nil {
		c.pendingCancellation = true
		c.pendingText = text
		c.current = nil
		c.settleTimer = c.afterFunc(c.cancelSettle, c.afterSettle)
		c.mu.Unlock()

		logger.Debug("cancelling active utterance before speaking")
		c.engine.Cancel()
		return nil
	}
	c.mu.Unlock()

	c.startUtterance(text)
	return nil
}

// Stop cancels any utterance and any pending speech request.
func (c *Controller) Stop() {
	if c.engine == nil {
		return
	}

	c.mu.Lock()
	active := c.current != nil || c.speaking || c.pendingCancellation
	c.current = nil
	c.speaking = false
	c.pendingCancellation = false
	c.pendingText = ""
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	emit := c.emitEvent
	c.mu.Unlock()

	c.engine.Cancel()
	if active {
		emit(events.NewAssistantSpeechEnded())
	}
}

func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *Controller) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Error returns the last user-facing error, or nil.
func (c *Controller) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Voices returns the voices matching the target language.
func (c *Controller) Voices() []Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Voice(nil), c.voices...)
}

func (c *Controller) Close() error {
	c.Stop()

	c.mu.Lock()
	unsubscribe := c.unsubscribeVoices
	c.unsubscribeVoices = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	switch e := c.engine.(type) {
	case interface{ Close() error }:
		if err := e.Close(); err != nil {
			return fmt.Errorf("failed to close speech synthesis engine: %w", err)
		}
	case interface{ Close() }:
		e.Close()
	}
	return nil
}

func (c *Controller) afterSettle() {
	c.mu.Lock()
	if !c.pendingCancellation {
		c.mu.Unlock()
		return
	}
	c.pendingCancellation = false
	c.settleTimer = nil
	text := c.pendingText
	c.pendingText = ""
	c.mu.Unlock()

	c.startUtterance(text)
}

func (c *Controller) startUtterance(text string) {
	_, span := tracer.Start(context.Background(), "speak utterance")
	defer span.End()

	voice := c.selectVoice()

	c.mu.Lock()
	c.utteranceSeq++
	id := c.utteranceSeq
	c.current = &utteranceSession{id: id, text: text}
	c.mu.Unlock()

	utterance := &Utterance{
		Text:     text,
		Voice:    voice,
		Language: c.language,
		Rate:     1,
		Pitch:    1,
		Volume:   1,
		OnStart:  func() { c.onUtteranceStart(id) },
		OnEnd:    func() { c.onUtteranceEnd(id) },
		OnError:  func(code ErrorCode) { c.onUtteranceError(id, code) },
	}
	span.SetAttributes(
		attribute.String("utterance.text", utils.Truncate(text, 50)),
		attribute.String("utterance.language", c.language),
	)
	if voice != nil {
		span.SetAttributes(attribute.String("utterance.voice", voice.Name))
	}

	if err := c.engine.Speak(utterance); err != nil {
		err = fmt.Errorf("failed to start speech synthesis: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		c.mu.Lock()
		if c.current == nil || c.current.id != id {
			c.mu.Unlock()
			return
		}
		c.current = nil
		c.speaking = false
		c.err = err
		emit := c.emitEvent
		c.mu.Unlock()

		emit(events.NewAssistantSpeechFailed(err))
		emit(events.NewAssistantSpeechEnded())
		return
	}

	c.afterFunc(c.resumeProbe, func() {
		if c.engine.Paused() {
			logger.Debug("engine paused after speak, resuming")
			c.engine.Resume()
		}
	})
	c.afterFunc(c.stallProbe, func() {
		if !c.isCurrent(id) {
			return
		}
		if !c.engine.Speaking() && !c.engine.Pending() {
			logger.Debug("engine seems stuck after speak, resuming")
			c.engine.Resume()
		}
	})
}

// selectVoice picks the first voice of the target language, falling back to
// the first voice of the engine while still requesting the target language.
func (c *Controller) selectVoice() *Voice {
	c.mu.Lock()
	if len(c.voices) > 0 {
		voice := c.voices[0]
		c.mu.Unlock()
		return &voice
	}
	c.mu.Unlock()

	all := c.engine.Voices()
	for _, voice := range all {
		if sameLanguage(voice.Language, c.language) {
			return &voice
		}
	}
	if len(all) > 0 {
		logger.Warn("no voice for target language, using fallback voice",
			slog.String("language", c.language),
			slog.String("voice", all[0].Name))
		return &all[0]
	}
	return nil
}

func (c *Controller) onUtteranceStart(id uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.id != id {
		c.mu.Unlock()
		return
	}
	c.speaking = true
	c.err = nil
	c.pendingCancellation = false
	text := c.current.text
	emit := c.emitEvent
	c.mu.Unlock()

	emit(events.NewAssistantSpeechStarted(text))
}

func (c *Controller) onUtteranceEnd(id uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.id != id {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.speaking = false
	emit := c.emitEvent
	c.mu.Unlock()

	emit(events.NewAssistantSpeechEnded())
}

func (c *Controller) onUtteranceError(id uint64, code ErrorCode) {
	c.mu.Lock()
	if c.current == nil || c.current.id != id {
		c.mu.Unlock()
		// Speak and Stop drop the current utterance before cancelling, so
		// requested cancellations always end up here.
		if code.Benign() {
			logger.Debug("cancelled utterance reported", slog.String("code", string(code)))
		} else {
			logger.Warn("superseded utterance failed", slog.String("code", string(code)))
		}
		return
	}

	c.current = nil
	emit := c.emitEvent

	if code.Benign() {
		c.err = nil
		c.speaking = false
		c.mu.Unlock()

		logger.Debug("utterance cancelled by the engine", slog.String("code", string(code)))
		emit(events.NewAssistantSpeechEnded())
		return
	}

	err := &SynthesisError{Code: code, Language: c.language}
	c.err = err
	c.speaking = false
	invalidate := code == ErrorCodeNotAllowed
	if invalidate {
		c.initialized = false
	}
	c.mu.Unlock()

	logger.Error("speech synthesis failed", slog.String("code", string(code)))
	if invalidate {
		c.clearInitializedRecord(context.Background())
	}
	emit(events.NewAssistantSpeechFailed(err))
	emit(events.NewAssistantSpeechEnded())
}

func (c *Controller) isCurrent(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.id == id
}

func (c *Controller) silentUtterance(onStart func(), onError func(ErrorCode)) *Utterance {
	return &Utterance{
		Language: c.language,
		Rate:     1,
		Pitch:    1,
		Volume:   0,
		OnStart:  onStart,
		OnError:  onError,
	}
}

func (c *Controller) invalidate(ctx context.Context) {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	c.clearInitializedRecord(ctx)
}

func (c *Controller) persistInitialized(ctx context.Context) {
	if c.store == nil {
		return
	}
	entry := storage.Entry{Key: InitializedKey, Value: "true", Timestamp: c.now()}
	if err := c.store.Set(ctx, entry); err != nil {
		logger.Warn("failed to persist audio initialization", slog.String("error", err.Error()))
	}
}

func (c *Controller) clearInitializedRecord(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, InitializedKey); err != nil {
		logger.Warn("failed to clear audio initialization", slog.String("error", err.Error()))
	}
}

// sameLanguage compares the primary subtags of two BCP 47 tags.
func sameLanguage(a, b string) bool {
	primary := func(tag string) string {
		tag, _, _ = strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-")
		return strings.ToLower(tag)
	}
	return primary(a) != "" && primary(a) == primary(b)
}
