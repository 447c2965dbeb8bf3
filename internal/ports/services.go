package ports

import (
	"context"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse represents a complete response from the LLM
type LLMResponse struct {
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
}

// LLMStreamChunk represents a streaming chunk from the LLM. Reasoning
// carries backend-extracted thinking tokens; Content may still embed literal
// <think> tags, which the stream pipeline extracts.
type LLMStreamChunk struct {
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Done      bool   `json:"done"`
	Error     error  `json:"-"`
}

// LLMOptions tunes a single LLM call. A nil options value means backend
// defaults.
type LLMOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// LLMService defines the interface for LLM interactions
type LLMService interface {
	Chat(ctx context.Context, messages []LLMMessage, opts *LLMOptions) (*LLMResponse, error)
	ChatStream(ctx context.Context, messages []LLMMessage, opts *LLMOptions) (<-chan LLMStreamChunk, error)
}

// Tokenizer counts tokens the way the configured LLM family does.
type Tokenizer interface {
	CountTokens(text string) int
}

// IDGenerator mints prefixed unique identifiers for domain entities.
type IDGenerator interface {
	GenerateMessageID() string
	GenerateGenerationID() string
	GenerateThoughtID() string
	GenerateLogID() string
	GenerateToolUseID() string
	GenerateRequestID() string
}

// SearchResult is one hit returned by a web search provider.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// SearchProvider performs web searches. Implementations wrap a concrete
// provider API behind this shape.
type SearchProvider interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// ScrapeResult is the readable extraction of a web page.
type ScrapeResult struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Markdown string   `json:"markdown"`
	Links    []string `json:"links,omitempty"`
}

// Scraper fetches a URL and reduces it to readable markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*ScrapeResult, error)
}
