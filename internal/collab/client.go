package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/enoki-chat/backend/internal/model/chat"
)

const defaultTimeout = 30 * time.Second

// Client talks to the collaborator service over JSON/HTTP. It implements
// ConsentAPI, ChatAPI and SessionAPI. Every request carries the
// anti-forgery token and the tab identity.
type Client struct {
	baseURL   string
	csrfToken string
	tabID     string
	http      *http.Client
}

// NewClient builds a collaborator client scoped to one tab.
func NewClient(baseURL, csrfToken, tabID string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		csrfToken: csrfToken,
		tabID:     tabID,
		http:      &http.Client{Timeout: defaultTimeout},
	}
}

// errorBody is the collaborator's uniform error payload.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", c.csrfToken)
	req.Header.Set("X-Tab-ID", c.tabID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// statusError maps collaborator status codes onto the core error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retry := time.Duration(body.RetryAfter) * time.Second
		return &chat.RateLimitedError{RetryAfter: retry, FromServer: true}
	case http.StatusForbidden, http.StatusUnauthorized:
		return chat.ErrAuthRequired
	case http.StatusNotFound:
		return chat.ErrSessionNotFound
	default:
		msg := body.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("collaborator error: %s", msg)
	}
}

// Status implements ConsentAPI.
func (c *Client) Status(ctx context.Context) (*bool, error) {
	var out struct {
		Status *bool `json:"consent_status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/consent/status", nil, &out); err != nil {
		return nil, err
	}
	return out.Status, nil
}

// Update implements ConsentAPI.
func (c *Client) Update(ctx context.Context, consent bool) error {
	body := map[string]bool{"consent": consent}
	return c.do(ctx, http.MethodPost, "/api/consent", body, nil)
}

// Send implements ChatAPI.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewSession implements SessionAPI. Never retried: session creation is the
// one non-idempotent collaborator call.
func (c *Client) NewSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/new", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// SwitchSession implements SessionAPI.
func (c *Client) SwitchSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/chat/switch/"+id, nil, nil)
}

// GetSession implements SessionAPI.
func (c *Client) GetSession(ctx context.Context, id string) (*chat.ServerSession, error) {
	var out chat.ServerSession
	if err := c.do(ctx, http.MethodGet, "/api/chat/session/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession implements SessionAPI.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/session/"+id, nil, nil)
}

// History implements SessionAPI.
func (c *Client) History(ctx context.Context) ([]chat.SessionSummary, error) {
	var out struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/history", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ImportMessages implements SessionAPI.
func (c *Client) ImportMessages(ctx context.Context, sessionID string, messages []chat.Message) (int, error) {
	body := struct {
		SessionID string         `json:"session_id"`
		Messages  []chat.Message `json:"messages"`
	}{SessionID: sessionID, Messages: messages}

	var out struct {
		MessagesSaved int `json:"messages_saved"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/import", body, &out); err != nil {
		return 0, err
	}
	return out.MessagesSaved, nil
}

// ClearAnonymousCache implements SessionAPI.
func (c *Client) ClearAnonymousCache(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/chat/clear", nil, nil)
}
