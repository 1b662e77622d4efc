package events

import "github.com/koscakluka/ema-talk/core/llms"

const (
	// KindMessageAppended identifies a message appended to the history.
	KindMessageAppended Kind = "conversation.message_appended"
	// KindConversationCleared identifies a history reset.
	KindConversationCleared Kind = "conversation.cleared"
)

// MessageAppended carries a message that was appended to the history.
type MessageAppended struct {
	Base
	Message llms.ChatMessage
}

// NewMessageAppended creates a message appended event.
func NewMessageAppended(message llms.ChatMessage) MessageAppended {
	return MessageAppended{Base: NewBase(KindMessageAppended), Message: message}
}

// ConversationCleared marks that the history was reset.
type ConversationCleared struct{ Base }

// NewConversationCleared creates a conversation cleared event.
func NewConversationCleared() ConversationCleared {
	return ConversationCleared{Base: NewBase(KindConversationCleared)}
}
