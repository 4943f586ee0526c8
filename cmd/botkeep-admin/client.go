// ABOUTME: Minimal HTTP client for the botkeep API
// ABOUTME: Attaches admin or bot credentials and decodes JSON error bodies

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/botkeep/internal/auth"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to one botkeep server.
type Client struct {
	baseURL  string
	adminKey string
	botKey   string
	token    string
	http     *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, adminKey, botKey, token string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		botKey:   botKey,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// authorize sets the credential for class, preferring a bearer token for admin calls.
func (c *Client) authorize(req *http.Request, class auth.Class) error {
	switch class {
	case auth.ClassAdmin:
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
			return nil
		}
		if c.adminKey == "" {
			return fmt.Errorf("admin key required: set --admin-key or BOTKEEP_ADMIN_KEY")
		}
		req.Header.Set(auth.HeaderAdminKey, c.adminKey)
	case auth.ClassBot:
		if c.botKey == "" {
			return fmt.Errorf("bot key required: set --bot-key or BOTKEEP_BOT_KEY")
		}
		req.Header.Set(auth.HeaderBotKey, c.botKey)
	}
	return nil
}

// Do sends a request and decodes a JSON response into out when out is non-nil.
// An empty class sends no credential.
func (c *Client) Do(ctx context.Context, method, path string, class auth.Class, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if class != "" {
		if err := c.authorize(req, class); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Text sends an unauthenticated GET and returns the body as text.
func (c *Client) Text(ctx context.Context, path string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(data)), nil
}
