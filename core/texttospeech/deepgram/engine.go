// Package deepgram implements texttospeech.SynthesisEngine on the Deepgram
// speak websocket, played through a local audio output.
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

	speakapi "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-talk/core/audio"
	"github.com/koscakluka/ema-talk/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

const (
	messageSpeak   = "Speak"
	messageFlush   = "Flush"
	messageClear   = "Clear"
	messageClose   = "Close"
	messageFlushed = "Flushed"
	messageWarning = "Warning"
	messageError   = "Error"
)

// Engine speaks utterances one at a time. Each utterance gets its own speak
// socket; its audio is queued on the output and the utterance ends when the
// output has played everything up to the flush mark.
type Engine struct {
	apiKey   string
	output   audio.Output
	speakURL string
	dialer   *websocket.Dialer

	mu     sync.Mutex
	active *request
	queue  []*texttospeech.Utterance
	closed bool
}

type EngineOption func(*Engine)

// WithSpeakURL points the engine at a different speak endpoint.
func WithSpeakURL(speakURL string) EngineOption {
	return func(e *Engine) {
		e.speakURL = speakURL
	}
}

func WithDialer(dialer *websocket.Dialer) EngineOption {
	return func(e *Engine) {
		e.dialer = dialer
	}
}

func NewEngine(apiKey string, output audio.Output, opts ...EngineOption) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not provided")
	}
	if output == nil {
		return nil, fmt.Errorf("audio output not provided")
	}

	e := &Engine{
		apiKey:   apiKey,
		output:   output,
		speakURL: defaultSpeakURL,
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type request struct {
	id        uint64
	utterance *texttospeech.Utterance

	writeMu sync.Mutex
	conn    *websocket.Conn

	// guarded by Engine.mu
	started   bool
	flushed   bool
	done      bool
	cancelled bool
}

var requestIDs struct {
	sync.Mutex
	next uint64
}

func nextRequestID() uint64 {
	requestIDs.Lock()
	defer requestIDs.Unlock()
	requestIDs.next++
	return requestIDs.next
}

func (e *Engine) Voices() []texttospeech.Voice {
	return GetAvailableVoices()
}

func (e *Engine) Speak(utterance *texttospeech.Utterance) error {
	if utterance == nil {
		return fmt.Errorf("utterance not provided")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine closed")
	}
	e.queue = append(e.queue, utterance)
	e.mu.Unlock()

	e.startNext()
	return nil
}

// Cancel interrupts the active utterance and drops the queued ones.
func (e *Engine) Cancel() {
	e.mu.Lock()
	active := e.active
	queued := e.queue
	e.active = nil
	e.queue = nil
	if active != nil {
		active.cancelled = true
		active.done = true
	}
	e.mu.Unlock()

	e.output.ClearBuffer()

	if active != nil {
		if err := active.writeJSON(websocketMessage{Type: messageClear}); err != nil {
			logger.Debug("failed to send clear to deepgram", slog.String("error", err.Error()))
		}
		active.close()
		reportError(active.utterance, texttospeech.ErrorCodeInterrupted)
	}
	for _, utterance := range queued {
		reportError(utterance, texttospeech.ErrorCodeCanceled)
	}
}

// Resume is a no-op, the engine never pauses on its own.
func (e *Engine) Resume() {}

func (e *Engine) Paused() bool { return false }

func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil && e.active.started
}

func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) > 0 || (e.active != nil && !e.active.started)
}

// WarmUp queues a short stretch of silence and waits until the output has
// played it, which proves the device is open.
func (e *Engine) WarmUp(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "warm up deepgram output")
	defer span.End()

	encoding := e.output.EncodingInfo()
	silence := make([]byte, encoding.BytesPerSecond()/10)
	for i := range silence {
		silence[i] = encoding.SilenceValue()
	}

	played := make(chan struct{})
	var once sync.Once
	if err := e.output.SendAudio(silence); err != nil {
		err = fmt.Errorf("failed to queue warm-up audio: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := e.output.Mark("warm-up", func(string) { once.Do(func() { close(played) }) }); err != nil {
		err = fmt.Errorf("failed to mark warm-up audio: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	select {
	case <-played:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.Cancel()
	return nil
}

func (e *Engine) startNext() {
	e.mu.Lock()
	if e.active != nil || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	utterance := e.queue[0]
	e.queue = e.queue[1:]
	req := &request{id: nextRequestID(), utterance: utterance}
	e.active = req
	e.mu.Unlock()

	go e.run(req)
}

func (e *Engine) run(req *request) {
	ctx, span := tracer.Start(context.Background(), "speak with deepgram")
	defer span.End()

	utterance := req.utterance
	model := resolveModel(utterance.Voice, utterance.Language)
	span.SetAttributes(
		attribute.String("tts.model", model),
		attribute.Int("tts.text_length", len(utterance.Text)),
	)

	if strings.TrimSpace(utterance.Text) == "" {
		e.markStarted(req)
		e.finish(req, func() { callIfSet(utterance.OnEnd) })
		return
	}

	speakURL, err := e.buildSpeakURL(model)
	if err != nil {
		span.RecordError(err)
		e.fail(req, texttospeech.ErrorCodeSynthesisFailed)
		return
	}

	conn, resp, err := e.dialer.DialContext(ctx, speakURL, http.Header{"Authorization": {"token " + e.apiKey}})
	if err != nil {
		err = fmt.Errorf("failed to open socket connection to deepgram: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.fail(req, classifyDialError(resp))
		return
	}

	e.mu.Lock()
	cancelled := req.cancelled
	if !cancelled {
		req.writeMu.Lock()
		req.conn = conn
		req.writeMu.Unlock()
	}
	e.mu.Unlock()
	if cancelled {
		conn.Close()
		return
	}

	if err := req.writeJSON(speakMessage{Type: messageSpeak, Text: utterance.Text}); err != nil {
		span.RecordError(err)
		req.close()
		e.fail(req, texttospeech.ErrorCodeNetwork)
		return
	}
	if err := req.writeJSON(websocketMessage{Type: messageFlush}); err != nil {
		span.RecordError(err)
		req.close()
		e.fail(req, texttospeech.ErrorCodeNetwork)
		return
	}

	e.readMessages(req, conn)
}

func (e *Engine) readMessages(req *request, conn *websocket.Conn) {
	defer conn.Close()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			settled := req.flushed || req.done
			e.mu.Unlock()
			if !settled {
				logger.Warn("deepgram speak socket closed before flush", slog.String("error", err.Error()))
				e.fail(req, texttospeech.ErrorCodeNetwork)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			e.markStarted(req)
			if req.utterance.Volume <= 0 {
				continue
			}
			if err := e.output.SendAudio(msg); err != nil {
				logger.Warn("failed to queue synthesized audio", slog.String("error", err.Error()))
				req.close()
				e.fail(req, texttospeech.ErrorCodeAudioBusy)
				return
			}
		case websocket.TextMessage:
			e.processMessage(req, msg)
		}
	}
}

func (e *Engine) processMessage(req *request, msg []byte) {
	var parsedMsg websocketMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", slog.String("error", err.Error()))
		return
	}

	switch parsedMsg.Type {
	case messageFlushed:
		var flushed speakapi.FlushedResponse
		if err := json.Unmarshal(msg, &flushed); err != nil {
			logger.Warn("failed to unmarshal deepgram flush", slog.String("error", err.Error()))
		}
		logger.Debug("deepgram flushed utterance", slog.Int("sequence_id", flushed.SequenceID))

		e.mu.Lock()
		if req.done {
			e.mu.Unlock()
			return
		}
		req.flushed = true
		e.mu.Unlock()

		e.markStarted(req)
		markName := "utterance-" + strconv.FormatUint(req.id, 10)
		if err := e.output.Mark(markName, func(string) {
			e.finish(req, func() { callIfSet(req.utterance.OnEnd) })
		}); err != nil {
			logger.Warn("failed to mark end of utterance", slog.String("error", err.Error()))
			e.finish(req, func() { callIfSet(req.utterance.OnEnd) })
		}
		if err := req.writeJSON(websocketMessage{Type: messageClose}); err != nil {
			logger.Debug("failed to close deepgram speak stream", slog.String("error", err.Error()))
		}

	case messageWarning:
		logger.Warn("deepgram speak warning", slog.String("message", string(msg)))

	case messageError:
		logger.Error("deepgram speak error", slog.String("message", string(msg)))
		req.close()
		e.fail(req, texttospeech.ErrorCodeSynthesisFailed)
	}
}

func (e *Engine) markStarted(req *request) {
	e.mu.Lock()
	if req.started || req.done {
		e.mu.Unlock()
		return
	}
	req.started = true
	e.mu.Unlock()

	callIfSet(req.utterance.OnStart)
}

// finish settles the request once and moves on to the next utterance.
func (e *Engine) finish(req *request, report func()) {
	e.mu.Lock()
	if req.done {
		e.mu.Unlock()
		return
	}
	req.done = true
	if e.active == req {
		e.active = nil
	}
	e.mu.Unlock()

	report()
	e.startNext()
}

func (e *Engine) fail(req *request, code texttospeech.ErrorCode) {
	e.finish(req, func() { reportError(req.utterance, code) })
}

func (e *Engine) buildSpeakURL(model string) (string, error) {
	speakURL, err := url.Parse(e.speakURL)
	if err != nil {
		return "", fmt.Errorf("invalid speak url: %w", err)
	}

	encoding := e.output.EncodingInfo()
	queryParams := speakURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("model", model)
	queryParams.Set("container", "none")
	speakURL.RawQuery = queryParams.Encode()

	return speakURL.String(), nil
}

func classifyDialError(resp *http.Response) texttospeech.ErrorCode {
	if resp == nil {
		return texttospeech.ErrorCodeNetwork
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return texttospeech.ErrorCodeNotAllowed
	case resp.StatusCode == http.StatusTooManyRequests:
		return texttospeech.ErrorCodeAudioBusy
	case resp.StatusCode == http.StatusBadRequest:
		return texttospeech.ErrorCodeVoiceUnavailable
	case resp.StatusCode >= 500:
		return texttospeech.ErrorCodeSynthesisUnavailable
	}
	return texttospeech.ErrorCodeNetwork
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (r *request) writeJSON(message any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("websocket connection closed")
	}
	if err := r.conn.WriteJSON(message); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to write to deepgram websocket: %w", err)
	}
	return nil
}

func (r *request) close() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
	}
}

func reportError(utterance *texttospeech.Utterance, code texttospeech.ErrorCode) {
	if utterance.OnError != nil {
		utterance.OnError(code)
	}
}

func callIfSet(callback func()) {
	if callback != nil {
		callback()
	}
}
