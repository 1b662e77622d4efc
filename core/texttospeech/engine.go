package texttospeech

import "context"

// Voice is one entry of the engine's voice catalog.
type Voice struct {
	ID       string
	Name     string
	Language string
	Default  bool
}

// Utterance is a single request to speak. The engine reports progress through
// the handlers, which may be nil and may run on any goroutine.
type Utterance struct {
	Text     string
	Voice    *Voice
	Language string
	Rate     float64
	Pitch    float64
	Volume   float64

	OnStart func()
	OnEnd   func()
	OnError func(code ErrorCode)
}

// SynthesisEngine is the platform speech synthesizer. It queues utterances
// and speaks them one at a time.
type SynthesisEngine interface {
	Voices() []Voice
	Speak(utterance *Utterance) error
	// Cancel drops the current and queued utterances. Dropped utterances
	// report ErrorCodeCanceled or ErrorCodeInterrupted.
	Cancel()
	Resume()
	Paused() bool
	Speaking() bool
	Pending() bool
}

// VoicesChangedNotifier is implemented by engines whose voice catalog loads
// or changes asynchronously.
type VoicesChangedNotifier interface {
	OnVoicesChanged(callback func()) (unsubscribe func())
}

// WarmUpper is implemented by engines that need to open an audio device
// before the first utterance can be heard.
type WarmUpper interface {
	WarmUp(ctx context.Context) error
}
