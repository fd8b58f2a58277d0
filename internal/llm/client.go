// Package llm is a small client for OpenAI-compatible chat completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4-turbo"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 2000
)

// Request is one completion call. Zero Temperature and MaxTokens use the
// client defaults.
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Client talks to a chat completions endpoint.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// New builds a Client from the llm config section. An empty API key sends no
// Authorization header, which local OpenAI-compatible servers accept.
func New(cfg config.LLMConfig, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature == 0 {
		c.temperature = DefaultTemperature
	}
	if c.maxTokens == 0 {
		c.maxTokens = DefaultMaxTokens
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete returns the text of the first choice.
func (c *Client) Complete(ctx context.Context, r Request) (string, error) {
	return c.complete(ctx, r, nil)
}

// CompleteJSON asks for a JSON object response and decodes it.
func (c *Client) CompleteJSON(ctx context.Context, r Request) (map[string]any, error) {
	content, err := c.complete(ctx, r, &responseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, errors.NewError(errors.CategoryLLM, "completion is not a JSON object").
			WithCause(err).
			WithContext("model", c.model).
			Build()
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, r Request, format *responseFormat) (string, error) {
	body := chatRequest{
		Model:          c.model,
		Temperature:    r.Temperature,
		MaxTokens:      r.MaxTokens,
		ResponseFormat: format,
	}
	if body.Temperature == 0 {
		body.Temperature = c.temperature
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = c.maxTokens
	}
	if r.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: r.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: r.Prompt})

	req, err := c.newRequest(ctx, "chat/completions", body)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewError(errors.CategoryLLM, "completion returned no choices").
			WithContext("model", c.model).
			Build()
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.ConfigError("invalid llm base_url").
			WithCause(err).
			WithContext("base_url", c.baseURL).
			Build()
	}
	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), endpoint)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.InternalError("failed to marshal completion request").WithCause(err).Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to create completion request").
			WithCause(err).
			WithContext("url", u.String()).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pmbus/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.LLMError("completion request failed").
			WithCause(err).
			WithContext("url", req.URL.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		limitedBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		b := errors.NewError(errors.CategoryLLM, fmt.Sprintf("completion API error: %s", resp.Status)).
			WithContext("code", resp.StatusCode).
			WithContext("url", req.URL.String()).
			WithContext("response", strings.ReplaceAll(string(limitedBody), "\n", " "))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			b = b.Retryable()
		}
		return b.Build()
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return errors.LLMError("failed to decode completion response").WithCause(err).Build()
	}
	return nil
}
