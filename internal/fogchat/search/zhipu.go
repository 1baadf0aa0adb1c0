// Package search implements the web_search tool against the Zhipu
// web-search API.
package search

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

// Config carries the Zhipu web-search settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Engine      string
	MaxResults  int
	ContentSize string
	Timeout     time.Duration
}

// Client calls the Zhipu web-search endpoint and formats results for
// consumption by a language model.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient builds a search client. Missing optional settings fall back to
// the service defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4/web_search"
	}
	if cfg.Engine == "" {
		cfg.Engine = "search_std"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.ContentSize == "" {
		cfg.ContentSize = "medium"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type searchRequest struct {
	SearchQuery  string `json:"search_query"`
	SearchEngine string `json:"search_engine"`
	SearchIntent bool   `json:"search_intent"`
	Count        int    `json:"count"`
	ContentSize  string `json:"content_size"`
}

type searchResponse struct {
	SearchResult []searchItem `json:"search_result"`
	Error        *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

type searchItem struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	Media       string `json:"media"`
	PublishDate string `json:"publish_date"`
}

// Search runs one query and returns a numbered plain-text digest of the
// results, ready to feed back to the model as a tool result.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(searchRequest{
		SearchQuery:  query,
		SearchEngine: c.cfg.Engine,
		SearchIntent: false,
		Count:        c.cfg.MaxResults,
		ContentSize:  c.cfg.ContentSize,
	})
	if err != nil {
		return "", fmt.Errorf("search: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: call endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("search: read response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("search: decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("search: api error %s: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	c.logger.Debug("web search completed", "query", query, "results", len(parsed.SearchResult))
	return formatResults(parsed.SearchResult, c.cfg.MaxResults), nil
}

// formatResults renders search items as a numbered digest. The fixed empty
// marker lets the model answer gracefully when nothing was found.
func formatResults(items []searchItem, limit int) string {
	if len(items) == 0 {
		return "未找到相关搜索结果"
	}
	if len(items) > limit {
		items = items[:limit]
	}

	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Title)
		if item.Content != "" {
			fmt.Fprintf(&b, "摘要：%s\n", item.Content)
		}
		if item.Link != "" {
			fmt.Fprintf(&b, "链接：%s\n", item.Link)
		}
		if item.Media != "" {
			fmt.Fprintf(&b, "来源：%s\n", item.Media)
		}
		if item.PublishDate != "" {
			fmt.Fprintf(&b, "发布时间：%s\n", item.PublishDate)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
