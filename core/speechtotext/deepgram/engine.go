// Package deepgram implements speechtotext.RecognitionEngine on the Deepgram
// live transcription websocket, fed from a local audio input.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-talk/core/audio"
	"github.com/koscakluka/ema-talk/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultListenURL         = "wss://api.deepgram.com/v1/listen"
	defaultModel             = "nova-2"
	defaultKeepAliveInterval = 5 * time.Second
)

// Engine runs one Deepgram listen session at a time. A session starts audio
// capture, reports interim text while the speaker talks and a single final
// result once Deepgram detects the end of speech.
type Engine struct {
	apiKey   string
	input    audio.Input
	language string

	model             string
	listenURL         string
	dialer            *websocket.Dialer
	keepAliveInterval time.Duration

	mu      sync.Mutex
	session *session
}

type EngineOption func(*Engine)

func WithModel(model string) EngineOption {
	return func(e *Engine) {
		e.model = model
	}
}

// WithListenURL points the engine at a different listen endpoint.
func WithListenURL(listenURL string) EngineOption {
	return func(e *Engine) {
		e.listenURL = listenURL
	}
}

func WithDialer(dialer *websocket.Dialer) EngineOption {
	return func(e *Engine) {
		e.dialer = dialer
	}
}

// WithKeepAliveInterval sets how long the socket may go without audio before
// a keep-alive message is sent.
func WithKeepAliveInterval(interval time.Duration) EngineOption {
	return func(e *Engine) {
		e.keepAliveInterval = interval
	}
}

func NewEngine(apiKey string, input audio.Input, language string, opts ...EngineOption) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not provided")
	}
	if input == nil {
		return nil, fmt.Errorf("audio input not provided")
	}

	e := &Engine{
		apiKey:            apiKey,
		input:             input,
		language:          language,
		model:             defaultModel,
		listenURL:         defaultListenURL,
		dialer:            websocket.DefaultDialer,
		keepAliveInterval: defaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewFactory returns a factory that builds an Engine for the language the
// controller asks for.
func NewFactory(apiKey string, input audio.Input, opts ...EngineOption) speechtotext.EngineFactory {
	return func(config speechtotext.Config) (speechtotext.RecognitionEngine, error) {
		return NewEngine(apiKey, input, config.Language, opts...)
	}
}

type session struct {
	conn     *websocket.Conn
	handlers speechtotext.RecognitionHandlers
	cancel   context.CancelFunc

	writeMu   sync.Mutex
	lastAudio time.Time

	mu          sync.Mutex
	closing     bool
	accumulated string
	confidence  float64
}

func (e *Engine) Start(handlers speechtotext.RecognitionHandlers) error {
	ctx, span := tracer.Start(context.Background(), "start deepgram listen session")
	defer span.End()

	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return fmt.Errorf("listen session already active")
	}
	e.mu.Unlock()

	encoding, err := convertEncoding(e.input.EncodingInfo())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("invalid encoding: %w", err)
	}

	listenURL, err := e.buildListenURL(*encoding)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("request.url", listenURL))

	conn, _, err := e.dialer.DialContext(ctx, listenURL, http.Header{"Authorization": {"Token " + e.apiKey}})
	if err != nil {
		err = fmt.Errorf("failed to open socket connection to deepgram: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &session{conn: conn, handlers: handlers, cancel: cancel, lastAudio: time.Now()}

	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	if err := e.input.StartCapture(sessionCtx, s.sendAudio); err != nil {
		e.clearSession(s)
		cancel()
		conn.Close()
		err = fmt.Errorf("failed to start audio capture: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if handlers.OnStart != nil {
		handlers.OnStart()
	}
	go s.keepAlive(sessionCtx, e.keepAliveInterval)
	go e.readMessages(s)
	return nil
}

// Stop ends capture and asks Deepgram to flush and close the stream. The
// session ends when the server closes the socket.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := e.input.StopCapture(); err != nil {
		logger.Warn("failed to stop audio capture", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	alreadyClosing := s.closing
	s.closing = true
	s.mu.Unlock()
	if alreadyClosing {
		return nil
	}

	if err := s.writeJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		logger.Warn("failed to request stream close, closing socket", slog.String("error", err.Error()))
		s.conn.Close()
	}
	return nil
}

// Close stops the current session without waiting for Deepgram to flush.
func (e *Engine) Close() error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return nil
	}

	_ = e.Stop()
	return s.conn.Close()
}

func (e *Engine) buildListenURL(encoding encodingInfo) (string, error) {
	listenURL, err := url.Parse(e.listenURL)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", e.model)
	queryParams.Set("language", languageParam(e.language))
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	return listenURL.String(), nil
}

func (e *Engine) clearSession(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == s {
		e.session = nil
	}
}

func (e *Engine) readMessages(s *session) {
	defer s.cancel()
	defer s.conn.Close()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()

			e.clearSession(s)
			_ = e.input.StopCapture()

			if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("failed to read deepgram websocket message", slog.String("error", err.Error()))
				if s.handlers.OnError != nil {
					s.handlers.OnError(speechtotext.ErrorCodeNetwork)
				}
				return
			}

			s.flushFinal()
			if s.handlers.OnEnd != nil {
				s.handlers.OnEnd()
			}
			return
		}

		if msgType == websocket.TextMessage {
			s.processMessage(msg, e.language)
		}
	}
}

type controlMessage struct {
	Type string `json:"type"`
}

func (s *session) processMessage(msg []byte, language string) {
	var parsedMsg controlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", slog.String("error", err.Error()))
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results", slog.String("error", err.Error()))
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}
		alternative := msgResp.Channel.Alternatives[0]
		transcript := strings.TrimSpace(alternative.Transcript)

		if msgResp.IsFinal {
			s.mu.Lock()
			if transcript != "" {
				s.accumulated = joinSegments(language, s.accumulated, transcript)
				s.confidence = alternative.Confidence
			}
			accumulated := s.accumulated
			s.mu.Unlock()

			if msgResp.SpeechFinal {
				s.flushFinal()
			} else if accumulated != "" {
				s.reportInterim(accumulated)
			}
			return
		}

		if transcript != "" {
			s.mu.Lock()
			preview := joinSegments(language, s.accumulated, transcript)
			s.mu.Unlock()
			s.reportInterim(preview)
		}

	case api.TypeUtteranceEndResponse:
		s.flushFinal()

	case api.TypeSpeechStartedResponse:
		logger.Debug("deepgram detected speech start")
	}
}

func (s *session) reportInterim(transcript string) {
	if s.handlers.OnResult != nil {
		s.handlers.OnResult([]speechtotext.Result{{Transcript: transcript}})
	}
}

func (s *session) flushFinal() {
	s.mu.Lock()
	transcript := s.accumulated
	confidence := s.confidence
	s.accumulated = ""
	s.confidence = 0
	s.mu.Unlock()

	if transcript != "" && s.handlers.OnResult != nil {
		s.handlers.OnResult([]speechtotext.Result{{Transcript: transcript, Confidence: confidence, Final: true}})
	}
}

func (s *session) sendAudio(chunk []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.lastAudio = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logger.Warn("failed to write audio to deepgram", slog.String("error", err.Error()))
	}
}

func (s *session) writeJSON(message any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("failed to write to deepgram websocket: %w", err)
	}
	return nil
}

func (s *session) keepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			idle := time.Since(s.lastAudio) >= interval
			s.writeMu.Unlock()
			if idle {
				if err := s.writeJSON(controlMessage{Type: "KeepAlive"}); err != nil {
					logger.Warn("failed to send keep-alive", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// joinSegments concatenates transcript segments. Languages written without
// spaces between words are joined directly.
func joinSegments(language, accumulated, segment string) string {
	if accumulated == "" {
		return segment
	}
	switch strings.ToLower(strings.SplitN(language, "-", 2)[0]) {
	case "ja", "zh", "th":
		return accumulated + segment
	}
	return accumulated + " " + segment
}
