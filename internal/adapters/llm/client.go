// Package llm adapts an OpenAI-compatible chat backend to ports.LLMService.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/redworks/red/internal/ports"
)

const defaultTimeout = 2 * time.Minute

// Options configures the client. BaseURL points at any OpenAI-compatible
// endpoint; APIKey may be empty for local backends.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		logger:      logger,
	}
}

func (c *Client) buildRequest(messages []ports.LLMMessage, opts *ports.LLMOptions, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
	if opts != nil {
		if opts.Model != "" {
			req.Model = opts.Model
		}
		if opts.Temperature > 0 {
			req.Temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
	}
	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return req
}

func (c *Client) Chat(ctx context.Context, messages []ports.LLMMessage, opts *ports.LLMOptions) (*ports.LLMResponse, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(messages, opts, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	return &ports.LLMResponse{
		Content:   choice.Message.Content,
		Reasoning: choice.Message.ReasoningContent,
		Tokens:    resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) ChatStream(ctx context.Context, messages []ports.LLMMessage, opts *ports.LLMOptions) (<-chan ports.LLMStreamChunk, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	out := make(chan ports.LLMStreamChunk, 10)
	go c.pump(ctx, stream, out)
	return out, nil
}

// pump forwards deltas until EOF, error, or cancellation. Chunk boundaries
// are preserved as the backend sent them.
func (c *Client) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- ports.LLMStreamChunk) {
	defer close(out)
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.send(ctx, out, ports.LLMStreamChunk{Done: true})
			return
		}
		if err != nil {
			c.logger.Error("llm: stream receive failed", "error", err)
			c.send(ctx, out, ports.LLMStreamChunk{Error: err, Done: true})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content == "" && delta.ReasoningContent == "" {
			continue
		}
		if !c.send(ctx, out, ports.LLMStreamChunk{Content: delta.Content, Reasoning: delta.ReasoningContent}) {
			return
		}
	}
}

func (c *Client) send(ctx context.Context, out chan<- ports.LLMStreamChunk, chunk ports.LLMStreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
