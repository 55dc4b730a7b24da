// Package whatsapp talks to an Evolution-style WhatsApp gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
)

var ErrNotConfigured = errors.New("whatsapp gateway not configured")

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type TextMessage struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendResult is the gateway's acknowledgement of a queued message.
type SendResult struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Status string `json:"status"`
}

func (c *Client) SendText(ctx context.Context, instance, number, text string) (SendResult, error) {
	var out SendResult
	number = NormalizeNumber(number)
	if number == "" {
		return out, errors.New("whatsapp: number is required")
	}
	if strings.TrimSpace(text) == "" {
		return out, errors.New("whatsapp: message is required")
	}
	err := c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(instance), TextMessage{Number: number, Text: text}, &out)
	return out, err
}

type InstanceState struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
}

func (s InstanceState) Connected() bool {
	return s.State == "open"
}

func (c *Client) InstanceState(ctx context.Context, instance string) (InstanceState, error) {
	var raw struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
			State        string `json:"state"`
		} `json:"instance"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), nil, &raw); err != nil {
		return InstanceState{}, err
	}
	return InstanceState{Instance: raw.Instance.InstanceName, State: raw.Instance.State}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("whatsapp: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("apikey", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}

// NormalizeNumber keeps digits only, the form the gateway expects.
func NormalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
