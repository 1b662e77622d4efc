package orchestration

import "github.com/koscakluka/ema-talk/core/events"

type eventEmitter func(events.Event)

func newCallbackEventEmitter(opts OrchestrateOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.UserTranscriptInterimUpdated:
			if opts.onTranscript != nil {
				opts.onTranscript(typedEvent.Transcript, false)
			}
		case events.UserListeningEnded:
			if opts.onTranscript != nil && typedEvent.Transcript != "" {
				opts.onTranscript(typedEvent.Transcript, true)
			}
		case events.UserInputFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.AssistantResponseSegment:
			if opts.onPartialResponse != nil {
				opts.onPartialResponse(typedEvent.Segment)
			}
		case events.AssistantResponseFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.AssistantSpeechFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.MessageAppended:
			if opts.onMessage != nil {
				opts.onMessage(typedEvent.Message)
			}
		case events.ConversationCleared:
			if opts.onCleared != nil {
				opts.onCleared()
			}
		case events.TurnStateChanged:
			if opts.onStateChanged != nil {
				opts.onStateChanged(parseTurnState(typedEvent.From), parseTurnState(typedEvent.To))
			}
		}

		if opts.onEvent != nil {
			opts.onEvent(event)
		}
	}
}
