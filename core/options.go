package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-talk/core/events"
	"github.com/koscakluka/ema-talk/core/llms"
	"github.com/koscakluka/ema-talk/core/streaming"
	"github.com/koscakluka/ema-talk/internal/clock"
)

const (
	DefaultEndpoint        = "/api/chat"
	DefaultMountDelay      = time.Second
	DefaultRelistenDelay   = time.Second
	DefaultDuplicateWindow = time.Second
)

type OrchestratorOption func(*Orchestrator)

// SpeechInput is the listening side of a turn. It is satisfied by
// [speechtotext.Controller].
type SpeechInput interface {
	StartListening() error
	StopListening()
	ResetTranscript()
	Transcript() string
	IsListening() bool
	IsSupported() bool
	SetEventEmitter(emitEvent func(events.Event))
}

// SpeechOutput speaks assistant replies. It is satisfied by
// [texttospeech.Controller].
type SpeechOutput interface {
	Speak(text string) error
	Stop()
	IsSpeaking() bool
	SetEventEmitter(emitEvent func(events.Event))
}

// StreamSender starts a streamed chat request without blocking. It is
// satisfied by [streaming.Client].
type StreamSender interface {
	Send(ctx context.Context, endpoint string, payload any, callbacks streaming.Callbacks)
}

func WithSpeechInput(input SpeechInput) OrchestratorOption {
	return func(o *Orchestrator) { o.input = input }
}

func WithSpeechOutput(output SpeechOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.output = output }
}

func WithStreamSender(sender StreamSender) OrchestratorOption {
	return func(o *Orchestrator) { o.sender = sender }
}

// WithEndpoint sets the chat endpoint URL requests are posted to.
func WithEndpoint(endpoint string) OrchestratorOption {
	return func(o *Orchestrator) { o.endpoint = endpoint }
}

// WithMountDelay sets how long after Orchestrate the first listening session
// starts.
func WithMountDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.mountDelay = delay }
}

// WithRelistenDelay sets the pause between the end of a turn and the next
// listening session.
func WithRelistenDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.relistenDelay = delay }
}

// WithDuplicateWindow sets how close in time two identical assistant replies
// must be for the second to be dropped.
func WithDuplicateWindow(window time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.duplicateWindow = window }
}

func WithScheduler(afterFunc clock.AfterFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.afterFunc = afterFunc }
}

// WithClock sets the time source used to timestamp messages.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

type OrchestrateOptions struct {
	onStateChanged    func(from, to TurnState)
	onPartialResponse func(segment string)
	onMessage         func(message llms.ChatMessage)
	onError           func(err error)
	onTranscript      func(transcript string, isFinal bool)
	onCleared         func()
	onEvent           func(event events.Event)
}

type OrchestrateOption func(*OrchestrateOptions)

func WithStateChangedCallback(callback func(from, to TurnState)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onStateChanged = callback }
}

// WithPartialResponseCallback is called with every streamed response
// fragment, in order.
func WithPartialResponseCallback(callback func(segment string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onPartialResponse = callback }
}

// WithMessageCallback is called for every message appended to the history.
func WithMessageCallback(callback func(message llms.ChatMessage)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onMessage = callback }
}

func WithErrorCallback(callback func(err error)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onError = callback }
}

// WithTranscriptCallback is called with interim transcripts while listening
// and with the final transcript once a session ends with speech.
func WithTranscriptCallback(callback func(transcript string, isFinal bool)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onTranscript = callback }
}

func WithClearedCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onCleared = callback }
}

// WithEventCallback receives every event the loop processes, after the
// orchestrator has acted on it.
func WithEventCallback(callback func(event events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onEvent = callback }
}
