// Package openai streams chat completions from any OpenAI-compatible
// endpoint (OpenAI itself, vLLM, llama.cpp server, Ollama's /v1 shim).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/laph/internal/llm"
	"github.com/sakif/laph/internal/observability"
)

var tracer = otel.Tracer("laph.llm.openai")

// Config holds connection settings for one model.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	// SystemPrompt is sent ahead of every user prompt when non-empty.
	SystemPrompt string
}

// Client implements llm.Generator with go-openai's streaming API.
type Client struct {
	client *goopenai.Client
	config Config
	logger *slog.Logger
}

var _ llm.Generator = (*Client)(nil)

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	logger.Info("initializing openai-compatible client", slog.String("model", cfg.Model), slog.String("baseURL", clientCfg.BaseURL))
	return &Client{
		client: goopenai.NewClientWithConfig(clientCfg),
		config: cfg,
		logger: logger,
	}
}

// Model returns the model this client requests.
func (c *Client) Model() string {
	return c.config.Model
}

// Stream starts a chat completion stream and returns its chunk channel.
func (c *Client) Stream(ctx context.Context, prompt string) <-chan llm.Chunk {
	out := make(chan llm.Chunk)
	go c.stream(ctx, prompt, out)
	return out
}

func (c *Client) stream(ctx context.Context, prompt string, out chan<- llm.Chunk) {
	defer close(out)

	ctx, span := tracer.Start(ctx, "openai.Client.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.config.Model))

	start := time.Now()
	chunks, err := c.generate(ctx, prompt, out)
	observability.RecordGeneration("openai", c.config.Model, chunks, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("openai generation failed",
			slog.String("model", c.config.Model),
			slog.String("error", err.Error()),
		)
		llm.Send(ctx, out, llm.Chunk{Err: err})
	}
}

func (c *Client) generate(ctx context.Context, prompt string, out chan<- llm.Chunk) (int, error) {
	var messages []goopenai.ChatCompletionMessage
	if c.config.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: c.config.SystemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	stream, err := c.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return 0, fmt.Errorf("openai: opening stream: %w", err)
	}
	defer stream.Close()

	chunks := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, fmt.Errorf("openai: receiving stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !llm.Send(ctx, out, llm.Chunk{Text: choice.Delta.Content}) {
				return chunks, ctx.Err()
			}
			chunks++
		}
	}
}
