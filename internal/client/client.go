// Package client talks to the switchboard server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/turn"
)

// Client is an HTTP and websocket client for the switchboard server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses SWITCHBOARD_SERVER_URL env var or defaults to localhost:8585.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SWITCHBOARD_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// get sends a GET request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil, nil)
}

// Messages returns the reconciled message list of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.get(ctx, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Conversations lists a user's conversations.
func (c *Client) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.get(ctx, "/conversations", url.Values{"user_id": {userID}}, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.get(ctx, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// streamRequest mirrors the server's stream request message.
type streamRequest struct {
	Type   string `json:"type,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Action string `json:"action,omitempty"`
}

// streamFrame mirrors the server's stream frames.
type streamFrame struct {
	Type        string             `json:"type"`
	Text        string             `json:"text,omitempty"`
	Event       *turn.ControlEvent `json:"event,omitempty"`
	Message     *models.Message    `json:"message,omitempty"`
	UserMessage *models.Message    `json:"user_message,omitempty"`
	LoopCount   int                `json:"loop_count,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// StreamResult is the outcome of a streamed turn.
type StreamResult struct {
	UserMessage models.Message
	Message     models.Message
	LoopCount   int
	Warnings    []string
}

// StreamOption configures Stream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	action    models.ActionKind
	onControl func(turn.ControlEvent)
	onWarning func(string)
}

// WithAction forces the first action of the turn.
func WithAction(a models.ActionKind) StreamOption {
	return func(o *streamOptions) { o.action = a }
}

// OnControl receives control events such as action switches and research progress.
func OnControl(fn func(turn.ControlEvent)) StreamOption {
	return func(o *streamOptions) { o.onControl = fn }
}

// OnWarning receives non-blocking warnings such as failed saves.
func OnWarning(fn func(string)) StreamOption {
	return func(o *streamOptions) { o.onWarning = fn }
}

// Stream sends prompt to a conversation and streams the answer. onChunk is
// invoked for each text chunk; return an error from onChunk to abort.
// Cancelling ctx cancels the turn on the server.
func (c *Client) Stream(
	ctx context.Context,
	conversationID, userID, prompt string,
	onChunk func(chunk string) error,
	opts ...StreamOption,
) (*StreamResult, error) {
	var o streamOptions
	for _, opt := range opts {
		opt(&o)
	}

	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/conversations/" + url.PathEscape(conversationID) + "/stream")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	if err := conn.WriteJSON(streamRequest{
		UserID: userID,
		Prompt: prompt,
		Action: string(o.action),
	}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			if !closed {
				_ = conn.WriteJSON(streamRequest{Type: "cancel"})
			}
			mu.Unlock()
			closeConn()
		case <-done:
		}
	}()

	res := &StreamResult{}
	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case "chunk":
			if f.Text != "" && onChunk != nil {
				if err := onChunk(f.Text); err != nil {
					return nil, err
				}
			}

		case "control":
			if f.Event != nil && o.onControl != nil {
				o.onControl(*f.Event)
			}

		case "warning":
			res.Warnings = append(res.Warnings, f.Text)
			if o.onWarning != nil {
				o.onWarning(f.Text)
			}

		case "error":
			return nil, fmt.Errorf("stream error: %s", f.Error)

		case "done":
			if f.Message != nil {
				res.Message = *f.Message
			}
			if f.UserMessage != nil {
				res.UserMessage = *f.UserMessage
			}
			res.LoopCount = f.LoopCount
			return res, nil

		default:
			// Ignore unknown frame types
			continue
		}
	}
}
