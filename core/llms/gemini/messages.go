package gemini

import (
	"strings"

	"github.com/koscakluka/ema-talk/core/llms"
	"google.golang.org/genai"
)

// toContents reshapes the chat history into Gemini contents, with assistant
// messages sent as the model role, followed by the new user message.
func toContents(history []llms.ChatMessage, user string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, message := range history {
		if strings.TrimSpace(message.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if message.Role == llms.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(message.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(user, genai.RoleUser))
	return contents
}
