package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AzureConfig configures the Azure OpenAI chat completions client. Azure
// routes by deployment and authenticates with an api-key header instead of a
// bearer token; the payload is otherwise the same chat completions shape.
type AzureConfig struct {
	// APIKey is the Azure resource key.
	APIKey string

	// Endpoint is the resource endpoint, e.g.
	// "https://my-resource.openai.azure.com".
	Endpoint string

	// Deployment is the model deployment name.
	Deployment string

	// APIVersion selects the REST API version, e.g. "2025-01-01-preview".
	APIVersion string

	// MaxTokens caps the completion length. Defaults to 1000.
	MaxTokens int

	// Temperature is the sampling temperature. Defaults to 1.0.
	Temperature float64

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

type azureClient struct {
	cfg    AzureConfig
	url    string
	client *http.Client
}

// NewAzure returns a Provider backed by Azure OpenAI. The returned provider
// is safe for concurrent use.
func NewAzure(cfg AzureConfig) Provider {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(cfg.Endpoint, "/"), cfg.Deployment, cfg.APIVersion)
	return &azureClient{
		cfg:    cfg,
		url:    url,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *azureClient) Name() string {
	return "azure"
}

func (c *azureClient) Generate(ctx context.Context, messages []Message, withTools bool) (*Completion, error) {
	body := chatRequest{
		// Model is implied by the deployment in the URL.
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if withTools {
		body.Tools = searchToolSpecs()
	}

	req, err := newJSONRequest(ctx, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("provider azure: %w", err)
	}
	req.Header.Set("api-key", c.cfg.APIKey)

	return doChatRequest(c.client, "azure", req)
}
