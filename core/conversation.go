package orchestration

import (
	"slices"
	"sync"
	"time"

	"github.com/koscakluka/ema-talk/core/llms"
)

// conversation is the append-only message history.
type conversation struct {
	mu       sync.RWMutex
	messages []llms.ChatMessage
}

func (c *conversation) Append(message llms.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

// AppendAssistant appends an assistant reply unless it duplicates one already
// recorded: the same ID anywhere in the history, or the same content as the
// last message when that message is an assistant reply recorded less than
// window apart. It reports whether the message was appended.
func (c *conversation) AppendAssistant(message llms.ChatMessage, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.ContainsFunc(c.messages, func(existing llms.ChatMessage) bool { return existing.ID == message.ID }) {
		logger.Debug("skipping assistant message with duplicate id")
		return false
	}

	if len(c.messages) > 0 {
		last := c.messages[len(c.messages)-1]
		if last.Role == llms.RoleAssistant && last.Content == message.Content &&
			last.Timestamp.Sub(message.Timestamp).Abs() < window {
			logger.Debug("skipping assistant message with duplicate content")
			return false
		}
	}

	c.messages = append(c.messages, message)
	return true
}

func (c *conversation) Messages() []llms.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

func (c *conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
