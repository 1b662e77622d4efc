package streaming

import (
	"fmt"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-talk/core/llms"
)

// ChatRequest is the body posted to the chat endpoint: the prior history and
// the new user utterance.
type ChatRequest struct {
	History []llms.ChatMessage
	User    string
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	History []wireMessage `json:"history"`
	User    string        `json:"user"`
}

func (r ChatRequest) toWire() (wireRequest, error) {
	history := []wireMessage{}
	if len(r.History) > 0 {
		if err := copier.Copy(&history, r.History); err != nil {
			return wireRequest{}, fmt.Errorf("failed to convert history: %w", err)
		}
	}
	return wireRequest{History: history, User: r.User}, nil
}

// StatusError is reported when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-OK HTTP status: %s", e.Status)
}
