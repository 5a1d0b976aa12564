package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nowwhat/placeagent/config"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// stripTags removes the markup Naver embeds in search results (<b> around
// matched terms) and decodes HTML entities.
func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

// Place is one local search hit.
type Place struct {
	Title       string
	Category    string
	Address     string
	RoadAddress string
	Link        string
	Latitude    float64
	Longitude   float64
}

// BlogPost is one blog search hit.
type BlogPost struct {
	Title       string
	Link        string
	Description string
}

// NaverClient calls the Naver OpenAPI local and blog search endpoints.
type NaverClient struct {
	clientID     string
	clientSecret string
	localURL     string
	blogURL      string
	maxResults   int
	httpClient   *http.Client
}

// NewNaverClient builds a client from config. Missing credentials are a
// startup error.
func NewNaverClient(cfg config.NaverConfig, timeout time.Duration) (*NaverClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("tools.naver.client_id/client_secret are not set")
	}
	maxResults := cfg.MaxResults
	if maxResults < 1 {
		maxResults = 5
	}
	return &NaverClient{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		localURL:     cfg.LocalURL,
		blogURL:      cfg.BlogURL,
		maxResults:   maxResults,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type naverItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Address     string `json:"address"`
	RoadAddress string `json:"roadAddress"`
	MapX        string `json:"mapx"`
	MapY        string `json:"mapy"`
}

type naverResponse struct {
	Items []naverItem `json:"items"`
}

// SearchLocal runs one local (place) search query.
func (c *NaverClient) SearchLocal(ctx context.Context, query string, limit int) ([]Place, error) {
	items, err := c.search(ctx, c.localURL, query, limit)
	if err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(items))
	for _, item := range items {
		places = append(places, Place{
			Title:       stripTags(item.Title),
			Category:    item.Category,
			Address:     item.Address,
			RoadAddress: item.RoadAddress,
			Link:        item.Link,
			Longitude:   naverCoord(item.MapX),
			Latitude:    naverCoord(item.MapY),
		})
	}
	return places, nil
}

// SearchBlog runs one blog search query.
func (c *NaverClient) SearchBlog(ctx context.Context, query string, limit int) ([]BlogPost, error) {
	items, err := c.search(ctx, c.blogURL, query, limit)
	if err != nil {
		return nil, err
	}
	posts := make([]BlogPost, 0, len(items))
	for _, item := range items {
		posts = append(posts, BlogPost{
			Title:       stripTags(item.Title),
			Link:        item.Link,
			Description: stripTags(item.Description),
		})
	}
	return posts, nil
}

func (c *NaverClient) search(ctx context.Context, endpoint, query string, limit int) ([]naverItem, error) {
	if limit < 1 || limit > c.maxResults {
		limit = c.maxResults
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	q.Set("display", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Naver-Client-Id", c.clientID)
	req.Header.Set("X-Naver-Client-Secret", c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status: %d", resp.StatusCode)
	}

	var parsed naverResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return parsed.Items, nil
}

// naverCoord converts the API's fixed-point 1e-7 degree encoding.
func naverCoord(s string) float64 {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n / 1e7
}
