package events

const (
	// KindAssistantSpeechStarted identifies the start of an utterance.
	KindAssistantSpeechStarted Kind = "assistant_speech.started"
	// KindAssistantSpeechEnded identifies the end of an utterance.
	KindAssistantSpeechEnded Kind = "assistant_speech.ended"
	// KindAssistantSpeechFailed identifies a surfaced synthesis failure.
	KindAssistantSpeechFailed Kind = "assistant_speech.failed"
)

// AssistantSpeechStarted marks the start of an utterance.
type AssistantSpeechStarted struct {
	Base
	Text string
}

// NewAssistantSpeechStarted creates an assistant speech started event.
func NewAssistantSpeechStarted(text string) AssistantSpeechStarted {
	return AssistantSpeechStarted{Base: NewBase(KindAssistantSpeechStarted), Text: text}
}

// AssistantSpeechEnded marks the end of an utterance, whatever the reason.
type AssistantSpeechEnded struct{ Base }

// NewAssistantSpeechEnded creates an assistant speech ended event.
func NewAssistantSpeechEnded() AssistantSpeechEnded {
	return AssistantSpeechEnded{Base: NewBase(KindAssistantSpeechEnded)}
}

// AssistantSpeechFailed carries a synthesis failure.
type AssistantSpeechFailed struct {
	Base
	Err error
}

// NewAssistantSpeechFailed creates an assistant speech failed event.
func NewAssistantSpeechFailed(err error) AssistantSpeechFailed {
	return AssistantSpeechFailed{Base: NewBase(KindAssistantSpeechFailed), Err: err}
}
