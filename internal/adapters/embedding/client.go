// Package embedding calls an OpenAI-compatible /v1/embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// embedTimeout bounds one embedding call end to end, retries included.
const embedTimeout = 30 * time.Second

// Client generates embeddings against an OpenAI-compatible backend. A
// circuit breaker fronts the endpoint so a dead embedding server degrades
// retrieval instead of stalling every turn for the full retry budget.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int

	httpClient *http.Client
	retry      retryPolicy
	breaker    *breaker
	slog       *slog.Logger
}

func NewClient(baseURL, apiKey, model string, dimensions int, slogger *slog.Logger) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		dimensions:  dimensions,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      defaultRetryPolicy(),
		breaker:    newBreaker(5, 30*time.Second),
		slog:       slogger,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

type embedRequest struct {
	Input any    `json:"input"` // string or []string
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := c.breaker.call(func() error {
		ctx, cancel := context.WithTimeout(ctx, embedTimeout)
		defer cancel()

		var err error
		vectors, err = c.embed(ctx, texts)
		return err
	})
	if err != nil {
		c.slog.Warn("embedding: request failed", "model", c.model, "texts", len(texts), "error", err)
		return nil, err
	}
	return vectors, nil
}

// Func adapts the client to the func(ctx, text) ([]float32, error) shape
// vector stores expect.
func (c *Client) Func() func(ctx context.Context, text string) ([]float32, error) {
	return c.Embed
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := embedRequest{Model: c.model}
	if len(texts) == 1 {
		req.Input = texts[0]
	} else {
		req.Input = texts
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var respBody []byte
	err = c.retry.do(ctx, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("embeddings API %s: %s", resp.Status, string(respBody))
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vectors := make([][]float32, len(parsed.Data))
	for _, item := range parsed.Data {
		if c.dimensions > 0 && len(item.Embedding) != c.dimensions {
			return nil, fmt.Errorf("expected %d dimensions but got %d", c.dimensions, len(item.Embedding))
		}
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
