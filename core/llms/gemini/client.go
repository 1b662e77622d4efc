// Package gemini streams chat replies from the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/koscakluka/ema-talk/core/llms"
	"github.com/koscakluka/ema-talk/internal/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const (
	DefaultModel           = "gemini-2.0-flash-lite"
	DefaultMaxOutputTokens = 256
	DefaultTemperature     = 0.7
)

// contentStreamer is the part of [genai.Models] the client uses.
type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type Client struct {
	models contentStreamer

	model           string
	maxOutputTokens int32
	temperature     float32
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

func WithMaxOutputTokens(maxOutputTokens int32) ClientOption {
	return func(c *Client) {
		c.maxOutputTokens = maxOutputTokens
	}
}

func WithTemperature(temperature float32) ClientOption {
	return func(c *Client) {
		c.temperature = temperature
	}
}

func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not provided")
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "gemini " + r.URL.Path
				}),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newClient(genaiClient.Models, opts...), nil
}

func newClient(models contentStreamer, opts ...ClientOption) *Client {
	c := &Client{
		models:          models,
		model:           DefaultModel,
		maxOutputTokens: DefaultMaxOutputTokens,
		temperature:     DefaultTemperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamChat streams the reply to user given the prior history. Each yielded
// response is one upstream chunk.
func (c *Client) StreamChat(ctx context.Context, history []llms.ChatMessage, user string) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		ctx, span := tracer.Start(ctx, "stream gemini chat")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.model", c.model),
			attribute.Int("request.history_length", len(history)),
		)

		chunks := 0
		for response, err := range c.models.GenerateContentStream(ctx, c.model, toContents(history, user), c.config()) {
			if err != nil {
				err = fmt.Errorf("failed to stream gemini response: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			chunks++
			if !yield(response, nil) {
				break
			}
		}
		span.SetAttributes(attribute.Int("response.chunks", chunks))
	}
}

func (c *Client) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxOutputTokens,
		Temperature:     utils.Ptr(c.temperature),
		SafetySettings:  permissiveSafetySettings(),
	}
}

func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}
