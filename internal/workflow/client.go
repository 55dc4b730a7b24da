// Package workflow dispatches events to the N8N automation webhook.
package workflow

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

var ErrNotConfigured = errors.New("workflow webhook not configured")

// StatusError is a non-2xx webhook answer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workflow webhook: status %d: %s", e.Status, e.Body)
}

type Client struct {
	url    string
	secret string
	http   *http.Client
}

func NewClient(url, secret string) *Client {
	return &Client{url: url, secret: secret, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) Configured() bool {
	return c.url != "" && c.secret != ""
}

// Event is the envelope every webhook call carries.
type Event struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatch posts event and returns the webhook's status code.
func (c *Client) Dispatch(ctx context.Context, event string, payload any) (int, error) {
	return c.post(ctx, Event{Event: event, Payload: payload, Timestamp: time.Now().UTC()})
}

// Probe sends a health-check event. Any 2xx counts as reachable.
func (c *Client) Probe(ctx context.Context) (int, error) {
	return c.post(ctx, Event{Event: "health_check", Payload: map[string]bool{"test": true}, Timestamp: time.Now().UTC()})
}

func (c *Client) post(ctx context.Context, body Event) (int, error) {
	if !c.Configured() {
		return 0, ErrNotConfigured
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("workflow: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("workflow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("X-Webhook-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("workflow: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
