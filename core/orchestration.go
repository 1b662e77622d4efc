// Package orchestration drives the voice conversation: it listens, sends the
// transcript to the chat endpoint, accumulates the streamed reply, records it
// in the history, speaks it and then listens again.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-talk/core/events"
	"github.com/koscakluka/ema-talk/core/llms"
	"github.com/koscakluka/ema-talk/core/speechtotext"
	"github.com/koscakluka/ema-talk/core/streaming"
	"github.com/koscakluka/ema-talk/core/texttospeech"
	"github.com/koscakluka/ema-talk/internal/clock"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSendInFlight is returned by SendMessage while a reply is streaming.
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrClosed       = errors.New("orchestrator closed")
)

// Orchestrator runs the turn cycle. Every input, whether a controller event,
// a stream callback, a timer or a user command, is queued and handled by a
// single loop goroutine, so turn state only changes in one place.
type Orchestrator struct {
	input    SpeechInput
	output   SpeechOutput
	sender   StreamSender
	endpoint string

	mountDelay      time.Duration
	relistenDelay   time.Duration
	duplicateWindow time.Duration
	afterFunc       clock.AfterFunc
	now             func() time.Time

	queue    *eventQueue
	actuator *actuator
	history  conversation

	startOnce sync.Once
	closeOnce sync.Once
	loopDone  chan struct{}

	mu            sync.Mutex
	started       bool
	closed        bool
	baseContext   context.Context
	emit          eventEmitter
	notifications []events.Event

	state      TurnState
	partial    string
	processing bool
	listening  bool
	speaking   bool
	muted      bool
	mounted    bool

	request       uint64
	cancelRequest context.CancelFunc

	relistenGeneration uint64
	relistenTimer      clock.Timer
	listenGeneration   uint64
	speechGeneration   uint64
	mountTimer         clock.Timer
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		endpoint:        DefaultEndpoint,
		mountDelay:      DefaultMountDelay,
		relistenDelay:   DefaultRelistenDelay,
		duplicateWindow: DefaultDuplicateWindow,
		afterFunc:       clock.Real,
		now:             time.Now,
		queue:           newEventQueue(),
		actuator:        newActuator(),
		loopDone:        make(chan struct{}),
		baseContext:     context.Background(),
		emit:            func(events.Event) {},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate starts the event loop and schedules the first listening
// session after the mount delay. It returns immediately; the loop stops when
// ctx is done or Close is called.
//
// Only the first call has an effect.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) {
	first := false
	o.startOnce.Do(func() { first = true })
	if !first {
		logger.Warn("orchestrator already started, skipping Orchestrate")
		return
	}

	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		logger.Warn("orchestrator already closed, skipping Orchestrate")
		return
	}
	o.started = true
	o.baseContext = ctx
	o.emit = newCallbackEventEmitter(options)
	o.mountTimer = o.afterFunc(o.mountDelay, func() {
		o.queue.Push(mounted{Base: events.NewBase(kindMounted)})
	})
	o.mu.Unlock()

	if o.input != nil {
		o.input.SetEventEmitter(o.queue.Push)
	}
	if o.output != nil {
		o.output.SetEventEmitter(o.queue.Push)
	}

	go o.actuator.run()
	go o.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = o.Close()
		case <-o.loopDone:
		}
	}()
}

// Close stops the loop, cancels the in-flight request and closes the speech
// controllers. It must not be called from an orchestrate callback.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		started := o.started
		if o.mountTimer != nil {
			o.mountTimer.Stop()
		}
		o.cancelRelistenLocked()
		o.releaseRequestLocked()
		o.mu.Unlock()

		o.queue.Close()
		if started {
			<-o.loopDone
		}
		o.actuator.Close(started)

		var errs []error
		if o.input != nil {
			o.input.SetEventEmitter(nil)
			o.input.StopListening()
			if closer, ok := o.input.(io.Closer); ok {
				if closeErr := closer.Close(); closeErr != nil {
					errs = append(errs, fmt.Errorf("failed to close speech input: %w", closeErr))
				}
			}
		}
		if o.output != nil {
			o.output.SetEventEmitter(nil)
			o.output.Stop()
			if closer, ok := o.output.(io.Closer); ok {
				if closeErr := closer.Close(); closeErr != nil {
					errs = append(errs, fmt.Errorf("failed to close speech output: %w", closeErr))
				}
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

// SendMessage sends content as a user message. It is rejected with
// ErrSendInFlight while a previous message is still being answered, in which
// case the history is left untouched. Blank content is ignored.
func (o *Orchestrator) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.processing {
		o.mu.Unlock()
		logger.Debug("rejecting message while a reply is in flight")
		return ErrSendInFlight
	}
	o.processing = true
	o.mu.Unlock()

	o.queue.Push(sendRequested{Base: events.NewBase(kindSendRequested), content: content})
	return nil
}

// ToggleMicrophone stops listening and suspends automatic re-listening, or
// resumes listening when the microphone is off.
func (o *Orchestrator) ToggleMicrophone() {
	o.queue.Push(micToggled{Base: events.NewBase(kindMicToggled)})
}

// ClearConversation drops the history and any reply in progress.
func (o *Orchestrator) ClearConversation() {
	o.queue.Push(clearRequested{Base: events.NewBase(kindClearRequested)})
}

func (o *Orchestrator) History() []llms.ChatMessage {
	return o.history.Messages()
}

// PartialResponse is the reply streamed so far for the message in flight.
func (o *Orchestrator) PartialResponse() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.partial
}

func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) IsProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing
}

func (o *Orchestrator) IsMicrophoneMuted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

func (o *Orchestrator) run() {
	defer close(o.loopDone)
	for event := range o.queue.All {
		o.handle(event)
	}
}

func (o *Orchestrator) handle(event events.Event) {
	o.mu.Lock()
	o.apply(event)
	notifications := o.notifications
	o.notifications = nil
	emit := o.emit
	o.mu.Unlock()

	if !isInternal(event) {
		emit(event)
	}
	for _, notification := range notifications {
		emit(notification)
	}
	if b, ok := event.(barrier); ok {
		close(b.reached)
	}
}

func (o *Orchestrator) apply(event events.Event) {
	switch e := event.(type) {
	case mounted:
		o.mounted = true
		o.listenLocked(false)

	case relistenDue:
		if e.generation != o.relistenGeneration {
			return
		}
		o.relistenTimer = nil
		o.listenLocked(false)

	case micToggled:
		o.cancelRelistenLocked()
		if o.listening {
			o.muted = true
			o.input.ResetTranscript()
			o.stopListeningLocked()
			return
		}
		o.muted = false
		if o.processing {
			// Listening resumes once the reply has been spoken.
			return
		}
		o.listenLocked(true)

	case listenFailed:
		if e.generation != o.listenGeneration {
			return
		}
		if errors.Is(e.err, speechtotext.ErrAlreadyListening) {
			return
		}
		logger.Warn("failed to start listening", slog.String("error", e.err.Error()))
		o.listening = false
		o.notify(events.NewUserInputFailed(e.err))
		o.settleStateLocked()

	case speakFailed:
		if e.generation != o.speechGeneration {
			return
		}
		o.speaking = false
		if !errors.Is(e.err, texttospeech.ErrUnsupported) {
			o.notify(events.NewAssistantSpeechFailed(e.err))
		}
		if !o.processing && !o.listening {
			o.settleStateLocked()
			o.scheduleRelistenLocked()
		}

	case clearRequested:
		o.clearLocked()

	case sendRequested:
		o.startSendLocked(e.content)

	case streamFragment:
		if e.request != o.request || !o.processing {
			return
		}
		o.partial += e.fragment
		o.setStateLocked(TurnStateStreaming)
		o.notify(events.NewAssistantResponseSegment(e.fragment))

	case streamCompleted:
		if e.request != o.request || !o.processing {
			logger.Debug("ignoring completion of a superseded request")
			return
		}
		o.completeLocked()

	case streamFailed:
		if e.request != o.request || !o.processing {
			return
		}
		o.failLocked(e.err)

	case events.UserListeningStarted:
		o.listening = true
		o.setStateLocked(TurnStateListening)

	case events.UserListeningEnded:
		o.listening = false
		o.afterListeningLocked()

	case events.UserInputFailed:
		o.listening = false
		o.settleStateLocked()

	case events.AssistantSpeechStarted:
		o.speaking = true
		o.setStateLocked(TurnStateSpeaking)

	case events.AssistantSpeechEnded:
		o.speaking = false
		if !o.processing && !o.listening {
			o.settleStateLocked()
			o.scheduleRelistenLocked()
		}
	}
}

func (o *Orchestrator) afterListeningLocked() {
	transcript := ""
	if o.input != nil {
		transcript = strings.TrimSpace(o.input.Transcript())
	}

	if transcript == "" || o.muted {
		if o.muted {
			o.input.ResetTranscript()
		}
		o.settleStateLocked()
		o.scheduleRelistenLocked()
		return
	}
	if o.processing {
		// Sent once the current reply settles.
		return
	}

	o.input.ResetTranscript()
	o.processing = true
	o.startSendLocked(transcript)
}

// sendPendingTranscriptLocked sends a transcript that finished while the
// previous message was in flight.
func (o *Orchestrator) sendPendingTranscriptLocked() bool {
	if o.input == nil || o.listening {
		return false
	}
	transcript := strings.TrimSpace(o.input.Transcript())
	if transcript == "" {
		return false
	}

	o.input.ResetTranscript()
	o.processing = true
	o.startSendLocked(transcript)
	return true
}

// startSendLocked expects processing to be set already.
func (o *Orchestrator) startSendLocked(content string) {
	ctx, span := tracer.Start(o.baseContext, "send message")
	defer span.End()

	o.cancelRelistenLocked()
	if o.listening {
		o.stopListeningLocked()
	}
	o.stopSpeakingLocked()

	prior := o.history.Messages()
	message := llms.NewChatMessage(llms.RoleUser, content, o.now())
	o.history.Append(message)
	o.notify(events.NewMessageAppended(message))

	o.partial = ""
	o.request++
	request := o.request
	span.SetAttributes(
		attribute.Int64("request.id", int64(request)),
		attribute.Int("history.length", len(prior)),
	)

	o.setStateLocked(TurnStateSending)
	o.notify(events.NewAssistantResponseStarted(content))

	if o.sender == nil {
		o.failLocked(fmt.Errorf("no chat endpoint configured"))
		return
	}

	requestCtx, cancel := context.WithCancel(o.baseContext)
	o.cancelRequest = cancel
	turnCounter.Add(ctx, 1)

	o.sender.Send(requestCtx, o.endpoint, streaming.ChatRequest{History: prior, User: content}, streaming.Callbacks{
		OnFragment: func(fragment string) {
			o.queue.Push(streamFragment{Base: events.NewBase(kindStreamFragment), request: request, fragment: fragment})
		},
		OnComplete: func() {
			o.queue.Push(streamCompleted{Base: events.NewBase(kindStreamCompleted), request: request})
		},
		OnError: func(err error) {
			o.queue.Push(streamFailed{Base: events.NewBase(kindStreamFailed), request: request, err: err})
		},
	})
}

func (o *Orchestrator) completeLocked() {
	o.processing = false
	o.releaseRequestLocked()

	response := strings.TrimSpace(o.partial)
	o.partial = ""
	o.notify(events.NewAssistantResponseFinal(response))

	if response == "" {
		logger.Info("chat stream completed without content")
		if !o.sendPendingTranscriptLocked() {
			o.settleStateLocked()
			o.scheduleRelistenLocked()
		}
		return
	}

	message := llms.NewChatMessage(llms.RoleAssistant, response, o.now())
	appended := o.history.AppendAssistant(message, o.duplicateWindow)
	if appended {
		o.notify(events.NewMessageAppended(message))
	} else {
		duplicateCounter.Add(o.baseContext, 1)
	}

	if o.sendPendingTranscriptLocked() {
		return
	}
	if !appended {
		o.settleStateLocked()
		o.scheduleRelistenLocked()
		return
	}
	o.speakLocked(response)
}

func (o *Orchestrator) failLocked(err error) {
	o.processing = false
	o.releaseRequestLocked()
	o.partial = ""

	logger.Warn("chat request failed", slog.String("error", err.Error()))
	o.notify(events.NewAssistantResponseFailed(err))

	if !o.sendPendingTranscriptLocked() {
		o.settleStateLocked()
		o.scheduleRelistenLocked()
	}
}

func (o *Orchestrator) speakLocked(text string) {
	if o.output == nil {
		o.settleStateLocked()
		o.scheduleRelistenLocked()
		return
	}

	// The microphone must not pick up the reply.
	if o.listening {
		o.input.ResetTranscript()
		o.stopListeningLocked()
		o.listening = false
	}

	o.speechGeneration++
	generation := o.speechGeneration
	o.speaking = true
	o.setStateLocked(TurnStateSpeaking)

	output := o.output
	o.actuator.Do(func() {
		if err := output.Speak(text); err != nil {
			o.queue.Push(speakFailed{Base: events.NewBase(kindSpeakFailed), generation: generation, err: err})
		}
	})
}

// stopSpeakingLocked cancels speech and invalidates any Speak still queued
// or running.
func (o *Orchestrator) stopSpeakingLocked() {
	if o.output == nil {
		return
	}
	o.speechGeneration++
	o.speaking = false
	o.actuator.Do(o.output.Stop)
}

func (o *Orchestrator) stopListeningLocked() {
	if o.input == nil {
		return
	}
	o.actuator.Do(o.input.StopListening)
}

func (o *Orchestrator) clearLocked() {
	o.history.Clear()
	o.partial = ""
	if o.processing {
		o.processing = false
		o.releaseRequestLocked()
	}
	o.cancelRelistenLocked()

	if o.input != nil {
		o.input.ResetTranscript()
		if o.listening {
			o.stopListeningLocked()
		}
	}
	o.stopSpeakingLocked()
	o.notify(events.NewConversationCleared())

	if !o.listening {
		o.settleStateLocked()
		o.scheduleRelistenLocked()
	}
}

// listenLocked starts a listening session. Unless manual, it only starts
// when the turn is idle and the microphone is not muted.
func (o *Orchestrator) listenLocked(manual bool) {
	if o.closed || o.input == nil || !o.input.IsSupported() || o.listening {
		return
	}
	if !manual && (o.muted || !o.mounted || o.processing || o.speaking) {
		return
	}
	if manual && o.speaking {
		o.stopSpeakingLocked()
	}

	o.listenGeneration++
	generation := o.listenGeneration
	o.listening = true
	o.setStateLocked(TurnStateListening)

	input := o.input
	o.actuator.Do(func() {
		if err := input.StartListening(); err != nil {
			o.queue.Push(listenFailed{Base: events.NewBase(kindListenFailed), generation: generation, err: err})
		}
	})
}

func (o *Orchestrator) scheduleRelistenLocked() {
	o.cancelRelistenLocked()
	if o.closed || o.muted || !o.mounted || o.input == nil || !o.input.IsSupported() {
		return
	}

	generation := o.relistenGeneration
	o.relistenTimer = o.afterFunc(o.relistenDelay, func() {
		o.queue.Push(relistenDue{Base: events.NewBase(kindRelistenDue), generation: generation})
	})
}

func (o *Orchestrator) cancelRelistenLocked() {
	o.relistenGeneration++
	if o.relistenTimer != nil {
		o.relistenTimer.Stop()
		o.relistenTimer = nil
	}
}

func (o *Orchestrator) releaseRequestLocked() {
	if o.cancelRequest != nil {
		o.cancelRequest()
		o.cancelRequest = nil
	}
}

// settleStateLocked derives the state from whichever actor is still active.
func (o *Orchestrator) settleStateLocked() {
	switch {
	case o.listening:
		o.setStateLocked(TurnStateListening)
	case o.processing && o.state == TurnStateStreaming:
	case o.processing:
		o.setStateLocked(TurnStateSending)
	case o.speaking:
		o.setStateLocked(TurnStateSpeaking)
	default:
		o.setStateLocked(TurnStateIdle)
	}
}

func (o *Orchestrator) setStateLocked(state TurnState) {
	if o.state == state {
		return
	}
	from := o.state
	o.state = state
	o.notify(events.NewTurnStateChanged(from.String(), state.String()))
}

func (o *Orchestrator) notify(event events.Event) {
	o.notifications = append(o.notifications, event)
}

// awaitQueued blocks until every event queued before the call has been
// handled, along with the controller calls those events dispatched and the
// events they reported back.
func (o *Orchestrator) awaitQueued(ctx context.Context) error {
	for range 3 {
		if err := o.awaitLoop(ctx); err != nil {
			return err
		}
		if err := o.awaitActuator(ctx); err != nil {
			return err
		}
	}
	return o.awaitLoop(ctx)
}

func (o *Orchestrator) awaitLoop(ctx context.Context) error {
	reached := make(chan struct{})
	o.queue.Push(barrier{Base: events.NewBase(kindBarrier), reached: reached})
	return waitReached(ctx, reached)
}

func (o *Orchestrator) awaitActuator(ctx context.Context) error {
	reached := make(chan struct{})
	o.actuator.Do(func() { close(reached) })
	return waitReached(ctx, reached)
}

func waitReached(ctx context.Context, reached chan struct{}) error {
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
