// Package backend is the client for the leadflow API: auth under /auth/v1,
// table rows under /rest/v1 and named functions under /functions/v1.
package backend

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
	"sync"
	"time"
)

// Error is a failed call as reported by the server.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}

type Options struct {
	// AnonKey is sent as the apikey header on every request.
	AnonKey string
	Timeout time.Duration
	HTTP    *http.Client
}

type Client struct {
	baseURL string
	anonKey string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, opts Options) *Client {
	httpClient := opts.HTTP
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: opts.AnonKey,
		http:    httpClient,
	}
}

func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Select reads rows of table into out. query carries filters such as
// organization_id and limit.
func (c *Client) Select(ctx context.Context, table string, query url.Values, out any) error {
	path := "/rest/v1/" + url.PathEscape(table)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Insert(ctx context.Context, table string, row, out any) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), row, out)
}

func (c *Client) Update(ctx context.Context, table, id string, patch, out any) error {
	return c.do(ctx, http.MethodPatch, "/rest/v1/"+url.PathEscape(table)+"/"+url.PathEscape(id), patch, out)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/"+url.PathEscape(table)+"/"+url.PathEscape(id), nil, nil)
}

// Invoke calls the named function with req and decodes the success
// envelope into resp.
func (c *Client) Invoke(ctx context.Context, fn string, req, resp any) error {
	if req == nil {
		req = struct{}{}
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/functions/v1/"+url.PathEscape(fn), req, &raw); err != nil {
		return err
	}
	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("backend: decode %s envelope: %w", fn, err)
	}
	if !envelope.Success {
		return &Error{Status: http.StatusOK, Code: envelope.Code, Message: envelope.Error}
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", fn, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	out := &Error{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		out.Code = payload.Code
		out.Message = payload.Error
		return out
	}
	out.Message = strings.TrimSpace(string(raw))
	if out.Message == "" {
		out.Message = http.StatusText(resp.StatusCode)
	}
	return out
}
