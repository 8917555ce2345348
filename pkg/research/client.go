package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gtplanner/gtplanner/pkg/httpclient"
)

const defaultSearchURL = "https://s.jina.ai"

// ErrDisabled reports that the research tool has no API key configured.
var ErrDisabled = errors.New("research disabled: JINA_API_KEY not set")

// Config configures the web research client.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"`
}

// SearchResult is one web hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"description"`
	Content string `json:"content,omitempty"`
}

// Client searches the web through a Jina-compatible search endpoint.
type Client struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSearchURL
	}
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &Client{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
	}
}

// Enabled reports whether research queries can be made.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Search runs one keyword query and returns the top hits.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	req, err := httpclient.NewRequest(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed struct {
		Data []SearchResult `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return parsed.Data, nil
}
