package events

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-talk/core/llms"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "user listening started", event: NewUserListeningStarted(), expected: KindUserListeningStarted},
		{name: "user interim updated", event: NewUserTranscriptInterimUpdated("text"), expected: KindUserTranscriptInterimUpdated},
		{name: "user transcript segment", event: NewUserTranscriptSegment("seg"), expected: KindUserTranscriptSegment},
		{name: "user listening ended", event: NewUserListeningEnded("text"), expected: KindUserListeningEnded},
		{name: "user input failed", event: NewUserInputFailed(errors.New("boom")), expected: KindUserInputFailed},
		{name: "assistant response started", event: NewAssistantResponseStarted("hi"), expected: KindAssistantResponseStarted},
		{name: "assistant response segment", event: NewAssistantResponseSegment("seg"), expected: KindAssistantResponseSegment},
		{name: "assistant response final", event: NewAssistantResponseFinal("text"), expected: KindAssistantResponseFinal},
		{name: "assistant response failed", event: NewAssistantResponseFailed(errors.New("boom")), expected: KindAssistantResponseFailed},
		{name: "assistant speech started", event: NewAssistantSpeechStarted("text"), expected: KindAssistantSpeechStarted},
		{name: "assistant speech ended", event: NewAssistantSpeechEnded(), expected: KindAssistantSpeechEnded},
		{name: "assistant speech failed", event: NewAssistantSpeechFailed(errors.New("boom")), expected: KindAssistantSpeechFailed},
		{name: "turn state changed", event: NewTurnStateChanged("idle", "listening"), expected: KindTurnStateChanged},
		{name: "message appended", event: NewMessageAppended(llms.ChatMessage{}), expected: KindMessageAppended},
		{name: "conversation cleared", event: NewConversationCleared(), expected: KindConversationCleared},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected non-zero timestamp")
			}
		})
	}
}

func TestListeningStartedAndEndedKindsAreDistinct(t *testing.T) {
	started := NewUserListeningStarted()
	ended := NewUserListeningEnded("")

	if started.Kind() == ended.Kind() {
		t.Fatalf("expected listening started and ended kinds to differ, both were %q", started.Kind())
	}
}
