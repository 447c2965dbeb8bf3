// Package scrape fetches web pages and reduces them to readable markdown.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"codeberg.org/readeck/go-readability/v2"

	"github.com/redworks/red/internal/ports"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 * 1024 * 1024
	maxRedirects    = 5
	maxLinks        = 50
	userAgent       = "Mozilla/5.0 (compatible; Red/1.0)"
)

// Scraper implements ports.Scraper.
type Scraper struct {
	client *http.Client
}

func New() *Scraper {
	return &Scraper{
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				return nil
			},
		},
	}
}

func (s *Scraper) Scrape(ctx context.Context, pageURL string) (*ports.ScrapeResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", pageURL)
	}

	html, finalURL, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		base = parsed
	}

	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	var buf strings.Builder
	if err := article.RenderHTML(&buf); err != nil {
		return nil, fmt.Errorf("render content: %w", err)
	}

	markdown, err := htmltomarkdown.ConvertString(buf.String(), converter.WithDomain(base.String()))
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}

	return &ports.ScrapeResult{
		URL:      finalURL,
		Title:    article.Title(),
		Markdown: cleanMarkdown(markdown),
		Links:    extractLinks(html, base),
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (body, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", "", fmt.Errorf("read response: %w", err)
	}
	return string(raw), resp.Request.URL.String(), nil
}

func extractLinks(html string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if len(links) >= maxLinks {
			return
		}
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

// cleanMarkdown collapses runs of more than two blank lines.
func cleanMarkdown(md string) string {
	lines := strings.Split(md, "\n")
	var result []string
	blankCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			if blankCount <= 2 {
				result = append(result, "")
			}
			continue
		}
		blankCount = 0
		result = append(result, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}
