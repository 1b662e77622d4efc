package llms

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role describes who authored a [ChatMessage].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) String() string { return string(r) }

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage is a single finalized message in the conversation history.
//
// Messages are created once, when a user utterance or an assistant reply is
// finalized, and are never mutated afterwards.
type ChatMessage struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// NewChatMessage creates a message with a fresh unique ID.
func NewChatMessage(role Role, content string, timestamp time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
	}
}

func (m ChatMessage) String() string {
	return fmt.Sprintf("[%s] %s", m.Role, m.Content)
}
