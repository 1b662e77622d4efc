// Package chatproxy serves the chat endpoint the voice client streams replies
// from. It forwards the conversation to Gemini and writes every upstream
// chunk back as a JSON object as soon as it arrives.
package chatproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/koscakluka/ema-talk/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const ChatPath = "/api/chat"

// ChatStreamer streams a reply for user given the prior history. It is
// satisfied by [gemini.Client].
type ChatStreamer interface {
	StreamChat(ctx context.Context, history []llms.ChatMessage, user string) iter.Seq2[*genai.GenerateContentResponse, error]
}

type Handler struct {
	streamer ChatStreamer
}

// NewHandler creates a handler. A nil streamer means the upstream API key is
// not configured and every request fails with 500.
func NewHandler(streamer ChatStreamer) *Handler {
	return &Handler{streamer: streamer}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(ChatPath, h.ServeChat)
}

type chatRequest struct {
	History []historyMessage `json:"history"`
	User    string           `json:"user"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (r chatRequest) messages() ([]llms.ChatMessage, error) {
	messages := make([]llms.ChatMessage, 0, len(r.History))
	for i, message := range r.History {
		role := llms.Role(message.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("history[%d]: unknown role %q", i, message.Role)
		}
		messages = append(messages, llms.ChatMessage{Role: role, Content: message.Content})
	}
	return messages, nil
}

func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "serve chat")
	defer span.End()
	chatRequestCounter.Add(ctx, 1)

	fail := func(status int, message string, err error) {
		chatFailureCounter.Add(ctx, 1)
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, message)
		http.Error(w, message, status)
	}

	if h.streamer == nil {
		logger.Error("chat api key not configured")
		fail(http.StatusInternalServerError, "API key not configured", nil)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(http.StatusBadRequest, "invalid request body", fmt.Errorf("failed to decode chat request: %w", err))
		return
	}
	if strings.TrimSpace(req.User) == "" {
		fail(http.StatusBadRequest, "user message is required", nil)
		return
	}
	history, err := req.messages()
	if err != nil {
		fail(http.StatusBadRequest, err.Error(), err)
		return
	}
	span.SetAttributes(attribute.Int("request.history_length", len(history)))

	next, stop := iter.Pull2(h.streamer.StreamChat(ctx, history, req.User))
	defer stop()

	first, err, ok := next()
	if err != nil {
		logger.Error("chat upstream failed", slog.String("error", err.Error()))
		fail(http.StatusInternalServerError, "Failed to fetch from Gemini API", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := newChunkWriter(w)
	response := first
	for ok {
		if err := stream.Write(response); err != nil {
			logger.Warn("failed to write chat chunk", slog.String("error", err.Error()))
			span.RecordError(err)
			abortStream()
		}

		response, err, ok = next()
		if err != nil {
			logger.Error("chat upstream failed mid-stream", slog.String("error", err.Error()), slog.Int("chunks", stream.count))
			chatFailureCounter.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			abortStream()
		}
	}
	stream.Close()
	span.SetAttributes(attribute.Int("response.chunks", stream.count))
}

// abortStream drops the connection without closing the array, so the client
// sees a failed read instead of a complete reply.
func abortStream() {
	panic(http.ErrAbortHandler)
}

// chunkWriter writes responses as a JSON array, one element per upstream
// chunk, flushing after each so the client sees it immediately.
type chunkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	count   int
}

func newChunkWriter(w http.ResponseWriter) *chunkWriter {
	flusher, _ := w.(http.Flusher)
	return &chunkWriter{w: w, flusher: flusher}
}

func (c *chunkWriter) Write(response *genai.GenerateContentResponse) error {
	if response == nil {
		return nil
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode chat chunk: %w", err)
	}

	separator := ",\r\n"
	if c.count == 0 {
		separator = "["
	}
	if _, err := fmt.Fprintf(c.w, "%s%s", separator, encoded); err != nil {
		return fmt.Errorf("failed to write chat chunk: %w", err)
	}
	c.count++
	c.flush()
	return nil
}

func (c *chunkWriter) Close() {
	closing := "]"
	if c.count == 0 {
		closing = "[]"
	}
	_, _ = fmt.Fprint(c.w, closing)
	c.flush()
}

func (c *chunkWriter) flush() {
	if c.flusher != nil {
		c.flusher.Flush()
	}
}
