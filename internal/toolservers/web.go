// Package toolservers holds the in-process tool servers the orchestrator
// talks to over the bus: web, system, rag and context.
package toolservers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/toolrpc"
)

const defaultSearchCount = 5

// NewWebServer exposes web_search and scrape_url.
func NewWebServer(bus ports.Bus, provider ports.SearchProvider, scraper ports.Scraper, slogger *slog.Logger) *toolrpc.Server {
	srv := toolrpc.NewServer("web", "1.0", bus, slogger)
	srv.Register(&webSearchTool{provider: provider})
	srv.Register(&scrapeURLTool{scraper: scraper})
	return srv
}

type webSearchTool struct {
	provider ports.SearchProvider
}

func (t *webSearchTool) Name() string { return "web_search" }

func (t *webSearchTool) Description() string {
	return "Search the web and return a list of results with titles, URLs and descriptions"
}

func (t *webSearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"count": map[string]any{
				"type":        "number",
				"description": "Maximum number of results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *webSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	count := defaultSearchCount
	if n, ok := args["count"].(float64); ok && n > 0 {
		count = int(n)
	}

	results, err := t.provider.Search(ctx, query, count)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
	}
	return b.String(), nil
}

type scrapeURLTool struct {
	scraper ports.Scraper
}

func (t *scrapeURLTool) Name() string { return "scrape_url" }

func (t *scrapeURLTool) Description() string {
	return "Fetch a web page and return its readable content as markdown"
}

func (t *scrapeURLTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *scrapeURLTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pageURL, _ := args["url"].(string)
	if strings.TrimSpace(pageURL) == "" {
		return "", fmt.Errorf("url is required")
	}

	page, err := t.scraper.Scrape(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("scrape failed: %w", err)
	}

	var b strings.Builder
	if page.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", page.Title)
	}
	b.WriteString(page.Markdown)
	return b.String(), nil
}
