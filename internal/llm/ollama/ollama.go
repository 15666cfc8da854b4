// Package ollama streams completions from a local Ollama server's
// /api/generate endpoint.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/laph/internal/llm"
	"github.com/sakif/laph/internal/observability"
)

var tracer = otel.Tracer("laph.llm.ollama")

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 1 << 20

// Config holds connection settings for one model.
type Config struct {
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	// Options is passed through verbatim as the request's "options" object.
	Options map[string]any
}

// DefaultConfig targets a stock local install.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:11434",
		Model:          "qwen3:14b",
		RequestTimeout: 300 * time.Second,
	}
}

// Client implements llm.Generator against Ollama.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
}

var _ llm.Generator = (*Client)(nil)

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// New creates a Client. The request timeout covers the whole stream.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		config:     cfg,
		logger:     logger,
	}
}

// Model returns the model this client requests.
func (c *Client) Model() string {
	return c.config.Model
}

// Stream starts a generation and returns its chunk channel.
func (c *Client) Stream(ctx context.Context, prompt string) <-chan llm.Chunk {
	out := make(chan llm.Chunk)
	go c.stream(ctx, prompt, out)
	return out
}

func (c *Client) stream(ctx context.Context, prompt string, out chan<- llm.Chunk) {
	defer close(out)

	ctx, span := tracer.Start(ctx, "ollama.Client.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.config.Model))

	start := time.Now()
	chunks, err := c.generate(ctx, prompt, out)
	observability.RecordGeneration("ollama", c.config.Model, chunks, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("ollama generation failed",
			slog.String("model", c.config.Model),
			slog.String("error", err.Error()),
		)
		llm.Send(ctx, out, llm.Chunk{Err: err})
		return
	}
	span.SetAttributes(attribute.Int("llm.chunks", chunks))
}

// generate performs the request and forwards text chunks. It returns the
// number of chunks delivered and the error that ended the stream, if any.
func (c *Client) generate(ctx context.Context, prompt string, out chan<- llm.Chunk) (int, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.config.Model,
		Prompt:  prompt,
		Stream:  true,
		Options: c.config.Options,
	})
	if err != nil {
		return 0, fmt.Errorf("ollama: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("ollama: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("requesting generation", slog.String("model", c.config.Model), slog.Int("promptBytes", len(prompt)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	chunks := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var record generateResponse
		if err := json.Unmarshal(line, &record); err != nil {
			// Not every line a proxy forwards is ours.
			c.logger.Debug("skipping malformed stream line", slog.String("error", err.Error()))
			continue
		}
		if record.Error != "" {
			return chunks, fmt.Errorf("ollama: %s", record.Error)
		}
		if record.Response != "" {
			if !llm.Send(ctx, out, llm.Chunk{Text: record.Response}) {
				return chunks, ctx.Err()
			}
			chunks++
		}
		if record.Done {
			return chunks, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return chunks, c.transportError(err)
	}
	return chunks, nil
}

func (c *Client) transportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("ollama: request timed out after %s: %w", c.config.RequestTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("ollama: cannot connect to %s, is it running?: %w", c.config.BaseURL, err)
	default:
		return fmt.Errorf("ollama: %w", err)
	}
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		if resp.StatusCode == http.StatusNotFound && strings.Contains(errResp.Error, "not found") {
			return fmt.Errorf("ollama: model %q not found, run 'ollama pull %s'", c.config.Model, c.config.Model)
		}
		return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
