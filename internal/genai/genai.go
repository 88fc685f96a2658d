// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// It wraps chat completions behind a small interface so callers (language
// detection, field extraction, question and plan generation) can be tested
// with a mock chat service.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation parameters.
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTemperature keeps structured outputs stable across retries.
	DefaultTemperature = 0.2
	// DefaultMaxCompletionTokens bounds reply length to WhatsApp-friendly sizes.
	DefaultMaxCompletionTokens = 1024
)

// ErrNoChoicesReturned indicates the API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK completion service to chatService.
type openaiChatService struct {
	svc openai.ChatCompletionService
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface defines the GenAI operations consumed by other modules.
type ClientInterface interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               openai.ChatModel
	temperature         float64
	maxCompletionTokens int64
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	model := DefaultModel
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}
	temperature := DefaultTemperature
	if cfg.Temperature > 0 {
		temperature = cfg.Temperature
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", model, "temperature", temperature)
	return &Client{
		chat:                &openaiChatService{svc: cli.Chat.Completions},
		model:               model,
		temperature:         temperature,
		maxCompletionTokens: DefaultMaxCompletionTokens,
	}, nil
}

// GeneratePrompt generates a completion from a system and user prompt pair.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages generates a completion from a full message list,
// allowing callers to include conversation history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI completion returned no choices", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
