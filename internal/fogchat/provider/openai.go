package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 1000
	defaultTemperature = 1.0
)

// OpenAIConfig configures an OpenAI-compatible chat completions client.
// Gemini's OpenAI-compatibility endpoint, Ollama, and the real OpenAI API
// all speak this shape.
type OpenAIConfig struct {
	// Name identifies this provider in results and logs.
	Name string

	// APIKey is the bearer token.
	APIKey string

	// BaseURL is the API root, e.g.
	// "https://generativelanguage.googleapis.com/v1beta/openai".
	BaseURL string

	// Model is the chat model to request.
	Model string

	// MaxTokens caps the completion length. Defaults to 1000.
	MaxTokens int

	// Temperature is the sampling temperature. Defaults to 1.0.
	Temperature float64

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

type openAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by an OpenAI-compatible chat API.
// The returned provider is safe for concurrent use.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *openAIClient) Name() string {
	return c.cfg.Name
}

// --- chat completions wire types (shared with the Azure client) ---

type chatRequest struct {
	Model       string     `json:"model,omitempty"`
	Messages    []Message  `json:"messages"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float64    `json:"temperature"`
	Tools       []toolSpec `json:"tools,omitempty"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message, withTools bool) (*Completion, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if withTools {
		body.Tools = searchToolSpecs()
	}

	req, err := newJSONRequest(ctx, c.cfg.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", c.cfg.Name, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	return doChatRequest(c.client, c.cfg.Name, req)
}

// newJSONRequest marshals body and builds a POST request with the JSON
// content type set.
func newJSONRequest(ctx context.Context, url string, body chatRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doChatRequest executes a prepared chat completions request and decodes the
// first choice.
func doChatRequest(client *http.Client, name string, req *http.Request) (*Completion, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: http request: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: read response body: %w", name, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: decode response (HTTP %d): %w", name, resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("provider %s: API error (%s): %s", name, parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider %s: HTTP %d", name, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider %s: no choices returned (HTTP %d)", name, resp.StatusCode)
	}

	msg := parsed.Choices[0].Message
	return &Completion{Text: msg.Content, ToolCalls: msg.ToolCalls}, nil
}
