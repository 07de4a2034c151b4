// ABOUTME: HTTP client for history, message create and user lookups
// ABOUTME: Maps transport and status failures onto the chat error sentinels

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/chat"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected is returned for any other non-success response.
	ErrRejected = errors.New("request rejected")
)

// CreateRequest is the body of POST /api/messages/{peerID}.
type CreateRequest struct {
	Text           string `json:"text,omitempty"`
	Image          string `json:"image,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ErrorResponse is the JSON error body returned by the server.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client talks to the chat server HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a client. Pass nil httpClient or logger for defaults.
func New(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  httpClient,
		logger:  logger.With("component", "api"),
	}
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (chat.User, error) {
	var u chat.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return chat.User{}, err
	}
	return u, nil
}

// Users returns every registered user.
func (c *Client) Users(ctx context.Context) ([]chat.User, error) {
	var users []chat.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns the conversation with peerID in server order.
func (c *Client) History(ctx context.Context, peerID string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, messagesPath(peerID), nil, &msgs); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].PeerID = peerID
		msgs[i].State = chat.Confirmed
	}
	return msgs, nil
}

// Create stores a message for peerID. idempotencyKey makes retries safe.
func (c *Client) Create(ctx context.Context, peerID string, draft chat.Draft, idempotencyKey string) (chat.Message, error) {
	req := CreateRequest{Text: draft.Text, Image: draft.Image, IdempotencyKey: idempotencyKey}
	var m chat.Message
	if err := c.do(ctx, http.MethodPost, messagesPath(peerID), req, &m); err != nil {
		return chat.Message{}, err
	}
	if m.ID == "" {
		return chat.Message{}, fmt.Errorf("%w: create returned a message without id", chat.ErrNetwork)
	}
	m.PeerID = peerID
	m.State = chat.Confirmed
	return m, nil
}

func messagesPath(peerID string) string {
	return "/api/messages/" + url.PathEscape(peerID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", chat.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(method, path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s response: %v", chat.ErrNetwork, method, path, err)
	}
	return nil
}

// handleErrorResponse maps a non-2xx response to a wrapped sentinel.
func (c *Client) handleErrorResponse(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	detail := strings.TrimSpace(string(raw))
	var errResp ErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		detail = errResp.Error
	}

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		sentinel = chat.ErrValidation
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		sentinel = chat.ErrNetwork
	default:
		sentinel = ErrRejected
	}

	c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode, "detail", detail)
	return fmt.Errorf("%w: %s %s: status %d: %s", sentinel, method, path, resp.StatusCode, detail)
}
