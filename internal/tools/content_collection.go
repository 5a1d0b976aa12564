package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/nowwhat/placeagent/config"
)

// ContentFetcher downloads a page and extracts its readable text.
type ContentFetcher struct {
	httpClient *http.Client
	userAgent  string
	maxChars   int
}

// NewContentFetcher builds a fetcher from config.
func NewContentFetcher(cfg config.FetchConfig) *ContentFetcher {
	maxChars := cfg.MaxChars
	if maxChars < 1 {
		maxChars = 12000
	}
	return &ContentFetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		userAgent:  cfg.UserAgent,
		maxChars:   maxChars,
	}
}

// Fetch returns the extracted title and text of one page, truncated to the
// configured character budget.
func (f *ContentFetcher) Fetch(ctx context.Context, uri string) (title, text string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", "", fmt.Errorf("unsupported uri %q", uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %q: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch %q: status %d", uri, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", "", fmt.Errorf("extract %q: %w", uri, err)
	}
	text = strings.TrimSpace(article.TextContent)
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}
	return article.Title, text, nil
}

// contentCollection fetches one URI and returns its readable text. Errors
// are returned to the dispatcher; the loop records them and moves on.
func contentCollection(fetcher *ContentFetcher) func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		uri, _ := args["uri"].(string)
		if uri == "" {
			return nil, fmt.Errorf("uri is empty")
		}
		title, text, err := fetcher.Fetch(ctx, uri)
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{
			"uri":     uri,
			"title":   title,
			"content": text,
		}
		if place, ok := args["place"].(string); ok {
			out["place"] = place
		}
		return out, nil
	}
}
