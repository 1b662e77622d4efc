package events

const (
	// KindAssistantResponseStarted identifies a request sent to the chat endpoint.
	KindAssistantResponseStarted Kind = "assistant_response.started"
	// KindAssistantResponseSegment identifies streamed assistant response text.
	KindAssistantResponseSegment Kind = "assistant_response.segment"
	// KindAssistantResponseFinal identifies assistant response stream completion.
	KindAssistantResponseFinal Kind = "assistant_response.final"
	// KindAssistantResponseFailed identifies an assistant response transport failure.
	KindAssistantResponseFailed Kind = "assistant_response.failed"
)

// AssistantResponseStarted marks that a request was sent.
type AssistantResponseStarted struct {
	Base
	Prompt string
}

// NewAssistantResponseStarted creates an assistant response started event.
func NewAssistantResponseStarted(prompt string) AssistantResponseStarted {
	return AssistantResponseStarted{Base: NewBase(KindAssistantResponseStarted), Prompt: prompt}
}

// AssistantResponseSegment carries a streamed assistant response text segment.
type AssistantResponseSegment struct {
	Base
	Segment string
}

// NewAssistantResponseSegment creates an assistant response segment event.
func NewAssistantResponseSegment(segment string) AssistantResponseSegment {
	return AssistantResponseSegment{Base: NewBase(KindAssistantResponseSegment), Segment: segment}
}

// AssistantResponseFinal marks assistant response stream completion.
type AssistantResponseFinal struct {
	Base
	Response string
}

// NewAssistantResponseFinal creates an assistant response final event.
func NewAssistantResponseFinal(response string) AssistantResponseFinal {
	return AssistantResponseFinal{Base: NewBase(KindAssistantResponseFinal), Response: response}
}

// AssistantResponseFailed carries a response transport failure.
type AssistantResponseFailed struct {
	Base
	Err error
}

// NewAssistantResponseFailed creates an assistant response failed event.
func NewAssistantResponseFailed(err error) AssistantResponseFailed {
	return AssistantResponseFailed{Base: NewBase(KindAssistantResponseFailed), Err: err}
}
