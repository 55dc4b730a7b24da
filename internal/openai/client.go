// Package openai is a small client for the embeddings and chat completion APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EmbeddingDimensions matches the leads.embedding column.
const EmbeddingDimensions = 1536

var ErrNoAPIKey = errors.New("openai: no api key configured")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.Status, e.Body)
}

type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	HTTPClient     *http.Client
}

type Client struct {
	apiKey         string
	baseURL        string
	embeddingModel string
	chatModel      string
	http           *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		http:           cfg.HTTPClient,
	}
}

// WithKey returns a client that authenticates with key instead of the
// server key. An empty key keeps the current one.
func (c *Client) WithKey(key string) *Client {
	if key == "" {
		return c
	}
	clone := *c
	clone.apiKey = key
	return &clone
}

func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai: text cannot be empty")
	}
	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: no embedding returned")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != EmbeddingDimensions {
		return nil, fmt.Errorf("openai: expected %d dimensions, got %d", EmbeddingDimensions, len(vec))
	}
	return vec, nil
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// ChatJSON asks for a JSON object answer and decodes it into out.
func (c *Client) ChatJSON(ctx context.Context, system, user string, temperature float64, out any) error {
	req := chatRequest{
		Model:          c.chatModel,
		Messages:       []Message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature:    temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai: no choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("openai: decode model output: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}
