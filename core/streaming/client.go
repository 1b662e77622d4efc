// Package streaming posts a chat request and delivers the streamed reply as a
// sequence of text fragments.
package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/koscakluka/ema-talk/core/framing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readBufferSize = 4096

// Callbacks receive the outcome of a single request. OnFragment is called in
// stream order. Exactly one of OnComplete and OnError is called, after which
// nothing else is.
type Callbacks struct {
	OnFragment func(fragment string)
	OnComplete func()
	OnError    func(err error)
}

type Client struct {
	httpClient     *http.Client
	decoderOptions []framing.DecoderOption
}

type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithDecoderOptions configures the frame decoder created for every request.
func WithDecoderOptions(opts ...framing.DecoderOption) ClientOption {
	return func(c *Client) {
		c.decoderOptions = append(c.decoderOptions, opts...)
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}
	return c
}

// Send starts the request in its own goroutine and returns immediately.
func (c *Client) Send(ctx context.Context, endpoint string, payload any, callbacks Callbacks) {
	go func() {
		_ = c.Stream(ctx, endpoint, payload, callbacks)
	}()
}

// Stream posts payload to endpoint and blocks until the response stream ends.
// The returned error is the same one passed to OnError.
func (c *Client) Stream(ctx context.Context, endpoint string, payload any, callbacks Callbacks) error {
	ctx, span := tracer.Start(ctx, "stream chat response",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("request.url", endpoint)),
	)
	defer span.End()
	requestCounter.Add(ctx, 1)

	terminal := newTerminal(callbacks)
	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		failureCounter.Add(ctx, 1)
		terminal.fail(err)
		return err
	}

	body, err := encodePayload(payload)
	if err != nil {
		return fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	span.AddEvent("request started")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if errorBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && len(errorBody) > 0 {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return fail(&StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	decoder := framing.NewDecoder(c.decoderOptions...)
	reader := transform.NewReader(resp.Body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readBufferSize)
	fragments := 0
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if fragments == 0 {
				span.AddEvent("received first chunk")
			}
			for _, fragment := range decoder.Feed(string(buf[:n])) {
				fragments++
				fragmentCounter.Add(ctx, 1)
				terminal.fragment(fragment)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		} else if readErr != nil {
			return fail(fmt.Errorf("failed to read streamed response: %w", readErr))
		}
	}

	if pending := decoder.Buffered(); pending > 0 {
		logger.Warn("response ended inside an unterminated frame", "buffered", pending)
	}
	span.SetAttributes(attribute.Int("response.fragments", fragments))
	terminal.complete()
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	if request, ok := payload.(ChatRequest); ok {
		wire, err := request.toWire()
		if err != nil {
			return nil, err
		}
		payload = wire
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

// terminal enforces that a request reports at most one outcome and that no
// fragment follows it.
type terminal struct {
	callbacks Callbacks
	once      sync.Once
	done      bool
	mu        sync.Mutex
}

func newTerminal(callbacks Callbacks) *terminal {
	return &terminal{callbacks: callbacks}
}

func (t *terminal) fragment(fragment string) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done || t.callbacks.OnFragment == nil {
		return
	}
	t.callbacks.OnFragment(fragment)
}

func (t *terminal) complete() {
	t.once.Do(func() {
		t.markDone()
		if t.callbacks.OnComplete != nil {
			t.callbacks.OnComplete()
		}
	})
}

func (t *terminal) fail(err error) {
	t.once.Do(func() {
		t.markDone()
		if t.callbacks.OnError != nil {
			t.callbacks.OnError(err)
		}
	})
}

func (t *terminal) markDone() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}
