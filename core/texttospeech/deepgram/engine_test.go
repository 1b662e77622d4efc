package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-talk/core/audio"
	"github.com/koscakluka/ema-talk/core/texttospeech"
)

type stubOutput struct {
	mu       sync.Mutex
	audio    [][]byte
	clears   int
	holdMark bool
	marks    []func(string)
}

func (o *stubOutput) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (o *stubOutput) SendAudio(chunk []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.audio = append(o.audio, chunk)
	return nil
}

func (o *stubOutput) ClearBuffer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
	o.marks = nil
}

func (o *stubOutput) Mark(name string, callback func(string)) error {
	o.mu.Lock()
	if o.holdMark {
		o.marks = append(o.marks, callback)
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	callback(name)
	return nil
}

func (o *stubOutput) chunks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.audio)
}

type utteranceLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *utteranceLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *utteranceLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *utteranceLog) utterance(name, text string, volume float64) *texttospeech.Utterance {
	return &texttospeech.Utterance{
		Text:     text,
		Language: "ja-JP",
		Volume:   volume,
		OnStart:  func() { l.add(name + ":start") },
		OnEnd:    func() { l.add(name + ":end") },
		OnError:  func(code texttospeech.ErrorCode) { l.add(name + ":error:" + string(code)) },
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

type fakeSpeakServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	models   []string
	received []string
	flush    bool
}

func newFakeSpeakServer(t *testing.T, flush bool) *fakeSpeakServer {
	t.Helper()
	fake := &fakeSpeakServer{flush: flush}
	upgrader := websocket.Upgrader{}
	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fake.mu.Lock()
		fake.models = append(fake.models, r.URL.Query().Get("model"))
		fake.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var parsed map[string]string
			_ = json.Unmarshal(msg, &parsed)

			fake.mu.Lock()
			fake.received = append(fake.received, parsed["type"]+":"+parsed["text"])
			fake.mu.Unlock()

			switch parsed["type"] {
			case "Flush":
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
				if fake.flush {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
				}
			case "Close":
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeSpeakServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeSpeakServer) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func TestEngineSpeaksAndEndsAfterPlaybackMark(t *testing.T) {
	server := newFakeSpeakServer(t, true)
	output := &stubOutput{}
	engine, err := NewEngine("test-key", output, WithSpeakURL(server.url()))
	if err != nil {
		t.Fatalf("expected engine, got error %v", err)
	}

	log := &utteranceLog{}
	if err := engine.Speak(log.utterance("first", "こんにちは！", 1)); err != nil {
		t.Fatalf("expected speak to succeed, got %v", err)
	}

	waitForCondition(t, 2*time.Second, "utterance end", func() bool {
		entries := log.snapshot()
		return len(entries) > 0 && entries[len(entries)-1] == "first:end"
	})

	if got := log.snapshot(); len(got) != 2 || got[0] != "first:start" {
		t.Fatalf("expected start then end, got %v", got)
	}
	if output.chunks() != 1 {
		t.Fatalf("expected one audio chunk queued, got %d", output.chunks())
	}
	messages := server.messages()
	if len(messages) < 2 || messages[0] != "Speak:こんにちは！" || messages[1] != "Flush:" {
		t.Fatalf("expected speak then flush, got %v", messages)
	}
	server.mu.Lock()
	model := server.models[0]
	server.mu.Unlock()
	if model != "aura-2-izanami-ja" {
		t.Fatalf("expected japanese voice for ja-JP, got %q", model)
	}
	if engine.Speaking() || engine.Pending() {
		t.Fatalf("expected engine to be idle after end")
	}
}

func TestEngineSpeaksQueuedUtterancesInOrder(t *testing.T) {
	server := newFakeSpeakServer(t, true)
	engine, _ := NewEngine("test-key", &stubOutput{}, WithSpeakURL(server.url()))

	log := &utteranceLog{}
	_ = engine.Speak(log.utterance("first", "one", 1))
	_ = engine.Speak(log.utterance("second", "two", 1))

	waitForCondition(t, 2*time.Second, "second utterance end", func() bool {
		entries := log.snapshot()
		return len(entries) == 4
	})

	want := []string{"first:start", "first:end", "second:start", "second:end"}
	for i, entry := range log.snapshot() {
		if entry != want[i] {
			t.Fatalf("expected %v, got %v", want, log.snapshot())
		}
	}
}

func TestEngineSilentUtteranceSkipsNetwork(t *testing.T) {
	server := newFakeSpeakServer(t, true)
	engine, _ := NewEngine("test-key", &stubOutput{}, WithSpeakURL(server.url()))

	log := &utteranceLog{}
	_ = engine.Speak(log.utterance("silent", "", 0))

	waitForCondition(t, time.Second, "silent utterance end", func() bool {
		return len(log.snapshot()) == 2
	})
	if len(server.messages()) != 0 {
		t.Fatalf("expected no messages sent for silent utterance, got %v", server.messages())
	}
}

func TestEngineCancelInterruptsActiveAndCancelsQueued(t *testing.T) {
	server := newFakeSpeakServer(t, true)
	output := &stubOutput{holdMark: true}
	engine, _ := NewEngine("test-key", output, WithSpeakURL(server.url()))

	log := &utteranceLog{}
	_ = engine.Speak(log.utterance("first", "one", 1))
	_ = engine.Speak(log.utterance("second", "two", 1))

	waitForCondition(t, 2*time.Second, "first utterance start", func() bool {
		return engine.Speaking()
	})

	engine.Cancel()

	entries := log.snapshot()
	want := []string{"first:start", "first:error:interrupted", "second:error:canceled"}
	if len(entries) != len(want) {
		t.Fatalf("expected %v, got %v", want, entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, entries)
		}
	}
	output.mu.Lock()
	clears := output.clears
	output.mu.Unlock()
	if clears != 1 {
		t.Fatalf("expected output buffer cleared once, got %d", clears)
	}
	if engine.Speaking() || engine.Pending() {
		t.Fatalf("expected engine idle after cancel")
	}
}

func TestEngineReportsNotAllowedForRejectedKey(t *testing.T) {
	server := newFakeSpeakServer(t, true)
	engine, _ := NewEngine("wrong-key", &stubOutput{}, WithSpeakURL(server.url()))

	log := &utteranceLog{}
	_ = engine.Speak(log.utterance("first", "one", 1))

	waitForCondition(t, 2*time.Second, "utterance error", func() bool {
		return len(log.snapshot()) == 1
	})
	if got := log.snapshot()[0]; got != "first:error:not-allowed" {
		t.Fatalf("expected not-allowed error, got %q", got)
	}
}

func TestEngineWarmUpWaitsForMark(t *testing.T) {
	output := &stubOutput{}
	engine, _ := NewEngine("test-key", output)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := engine.WarmUp(ctx); err != nil {
		t.Fatalf("expected warm-up to succeed, got %v", err)
	}
	if output.chunks() != 1 {
		t.Fatalf("expected silence queued, got %d chunks", output.chunks())
	}
}

func TestResolveModelFallsBackByLanguage(t *testing.T) {
	if got := resolveModel(&texttospeech.Voice{ID: "aura-2-fujin-ja"}, "ja-JP"); got != "aura-2-fujin-ja" {
		t.Fatalf("expected requested voice, got %q", got)
	}
	if got := resolveModel(&texttospeech.Voice{ID: "unknown"}, "ja"); got != "aura-2-izanami-ja" {
		t.Fatalf("expected first japanese voice, got %q", got)
	}
	if got := resolveModel(nil, "xx-YY"); got != defaultVoiceModel {
		t.Fatalf("expected default voice, got %q", got)
	}
}
