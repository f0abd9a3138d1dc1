package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Provider represents the LLM provider type
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
)

const (
	claudeEndpoint = "https://api.anthropic.com/v1/messages"
	openAIEndpoint = "https://api.openai.com/v1/chat/completions"

	// maxTransientRetries bounds retries on network errors and 5xx
	maxTransientRetries = 2
)

// ClientConfig holds LLM client configuration
type ClientConfig struct {
	Provider    Provider      `json:"provider"`
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"` // Hard wall-clock cap per call
}

// DefaultClientConfig returns default configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Provider:    ProviderClaude,
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   4096,
		Temperature: 0.3,
		Timeout:     120 * time.Second,
	}
}

// Client is the multimodal LLM API client
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new LLM client
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Model returns the configured default model id
func (c *Client) Model() string {
	return c.config.Model
}

// Claude wire types

type claudeContentBlock struct {
	Type   string `json:"type"` // text | image
	Text   string `json:"text,omitempty"`
	Source *struct {
		Type      string `json:"type"` // base64
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAI wire types (image_url content parts with data URLs)

type openAIContentPart struct {
	Type     string `json:"type"` // text | image_url
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// AnalyzeWithImages sends a multimodal prompt with PNG images and
// returns the raw model text. model overrides the configured default
// when non-empty. Transient failures are retried up to
// maxTransientRetries under the configured wall-clock timeout.
func (c *Client) AnalyzeWithImages(ctx context.Context, prompt string, images [][]byte, model string) (string, error) {
	if model == "" {
		model = c.config.Model
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var result string
	operation := func() error {
		var err error
		switch c.config.Provider {
		case ProviderOpenAI:
			result, err = c.analyzeOpenAI(ctx, prompt, images, model)
		default:
			result, err = c.analyzeClaude(ctx, prompt, images, model)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTransientRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) analyzeClaude(ctx context.Context, prompt string, images [][]byte, model string) (string, error) {
	blocks := make([]claudeContentBlock, 0, len(images)+1)
	for _, img := range images {
		if len(img) == 0 {
			continue
		}
		block := claudeContentBlock{Type: "image"}
		block.Source = &struct {
			Type      string `json:"type"`
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		}{
			Type:      "base64",
			MediaType: "image/png",
			Data:      base64.StdEncoding.EncodeToString(img),
		}
		blocks = append(blocks, block)
	}
	blocks = append(blocks, claudeContentBlock{Type: "text", Text: prompt})

	req := claudeRequest{
		Model:       model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Messages: []claudeMessage{
			{Role: "user", Content: blocks},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if claudeResp.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("API error: %s - %s", claudeResp.Error.Type, claudeResp.Error.Message))
	}
	if len(claudeResp.Content) == 0 {
		return "", fmt.Errorf("empty response from Claude")
	}

	return claudeResp.Content[0].Text, nil
}

func (c *Client) analyzeOpenAI(ctx context.Context, prompt string, images [][]byte, model string) (string, error) {
	parts := make([]openAIContentPart, 0, len(images)+1)
	parts = append(parts, openAIContentPart{Type: "text", Text: prompt})
	for _, img := range images {
		if len(img) == 0 {
			continue
		}
		part := openAIContentPart{Type: "image_url"}
		part.ImageURL = &struct {
			URL string `json:"url"`
		}{
			URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
		}
		parts = append(parts, part)
	}

	req := openAIRequest{
		Model:       model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Messages: []openAIMessage{
			{Role: "user", Content: parts},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if openAIResp.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("API error: %s - %s", openAIResp.Error.Type, openAIResp.Error.Message))
	}
	if len(openAIResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	return openAIResp.Choices[0].Message.Content, nil
}
