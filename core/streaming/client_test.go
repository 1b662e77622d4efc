package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/koscakluka/ema-talk/core/llms"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type recorder struct {
	mu        sync.Mutex
	fragments []string
	completes int
	errs      []error
	events    []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnFragment: func(fragment string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fragments = append(r.fragments, fragment)
			r.events = append(r.events, "fragment")
		},
		OnComplete: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completes++
			r.events = append(r.events, "complete")
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
			r.events = append(r.events, "error")
		},
	}
}

func textFrame(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
}

func bodyClient(body io.Reader) *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(body),
			Request:    req,
		}, nil
	})}
}

func TestStreamDeliversFragmentsInOrderThenCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"[" + textFrame("こんにち"), "," + textFrame("は！")[:10], textFrame("は！")[10:] + "]"} {
			_, _ = io.WriteString(w, chunk)
			flusher.Flush()
		}
	}))
	defer server.Close()

	rec := &recorder{}
	err := NewClient().Stream(context.Background(), server.URL, ChatRequest{User: "hi"}, rec.callbacks())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !slices.Equal(rec.fragments, []string{"こんにち", "は！"}) {
		t.Fatalf("expected fragments in order, got %v", rec.fragments)
	}
	if !slices.Equal(rec.events, []string{"fragment", "fragment", "complete"}) {
		t.Fatalf("expected complete exactly once after fragments, got %v", rec.events)
	}
}

func TestStreamPostsHistoryAsRoleAndContent(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
	}))
	defer server.Close()

	request := ChatRequest{
		History: []llms.ChatMessage{
			llms.NewChatMessage(llms.RoleUser, "question", time.Now()),
			llms.NewChatMessage(llms.RoleAssistant, "answer", time.Now()),
		},
		User: "follow up",
	}
	if err := NewClient().Stream(context.Background(), server.URL, request, Callbacks{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if received["user"] != "follow up" {
		t.Fatalf("expected user field, got %v", received["user"])
	}
	history, ok := received["history"].([]any)
	if !ok || len(history) != 2 {
		t.Fatalf("expected two history entries, got %v", received["history"])
	}
	first := history[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "question" {
		t.Fatalf("expected first entry {user question}, got %v", first)
	}
	if _, hasID := first["id"]; hasID || len(first) != 2 {
		t.Fatalf("expected only role and content on the wire, got %v", first)
	}
	second := history[1].(map[string]any)
	if second["role"] != "assistant" {
		t.Fatalf("expected assistant role, got %v", second["role"])
	}
}

func TestStreamEmptyHistoryIsSentAsEmptyArray(t *testing.T) {
	var raw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
	}))
	defer server.Close()

	if err := NewClient().Stream(context.Background(), server.URL, ChatRequest{User: "x"}, Callbacks{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(raw, `"history":[]`) {
		t.Fatalf("expected empty history array, got %s", raw)
	}
}

func TestStreamNonOKStatusReportsErrorOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, textFrame("should not be delivered"))
	}))
	defer server.Close()

	rec := &recorder{}
	err := NewClient().Stream(context.Background(), server.URL, ChatRequest{User: "hi"}, rec.callbacks())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", statusErr.StatusCode)
	}
	if !slices.Equal(rec.events, []string{"error"}) {
		t.Fatalf("expected a single error and nothing else, got %v", rec.events)
	}
}

func TestStreamTransportFailureReportsErrorOnce(t *testing.T) {
	client := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}

	rec := &recorder{}
	err := NewClient(WithHTTPClient(client)).Stream(context.Background(), "http://example.invalid/api/chat", ChatRequest{}, rec.callbacks())
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !slices.Equal(rec.events, []string{"error"}) {
		t.Fatalf("expected a single error, got %v", rec.events)
	}
}

func TestStreamReadFailureAfterFragmentsReportsErrorWithoutCompletion(t *testing.T) {
	body := io.MultiReader(strings.NewReader(textFrame("partial")), iotest.ErrReader(errors.New("connection reset")))

	rec := &recorder{}
	err := NewClient(WithHTTPClient(bodyClient(body))).Stream(context.Background(), "http://example.invalid/api/chat", ChatRequest{}, rec.callbacks())
	if err == nil {
		t.Fatalf("expected read error")
	}
	if !slices.Equal(rec.events, []string{"fragment", "error"}) {
		t.Fatalf("expected fragment then error, got %v", rec.events)
	}
}

func TestStreamReassemblesRunesSplitAcrossReads(t *testing.T) {
	stream := textFrame("こんにちは") + textFrame("世界")
	body := iotest.OneByteReader(strings.NewReader(stream))

	rec := &recorder{}
	err := NewClient(WithHTTPClient(bodyClient(body))).Stream(context.Background(), "http://example.invalid/api/chat", ChatRequest{}, rec.callbacks())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !slices.Equal(rec.fragments, []string{"こんにちは", "世界"}) {
		t.Fatalf("expected intact multi-byte fragments, got %q", rec.fragments)
	}
}

func TestSendRunsAsynchronously(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, textFrame("late"))
	}))
	defer server.Close()

	done := make(chan []string, 1)
	var fragments []string
	NewClient().Send(context.Background(), server.URL, ChatRequest{User: "hi"}, Callbacks{
		OnFragment: func(fragment string) { fragments = append(fragments, fragment) },
		OnComplete: func() { done <- fragments },
	})
	close(release)

	select {
	case got := <-done:
		if !slices.Equal(got, []string{"late"}) {
			t.Fatalf("expected [late], got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion")
	}
}
