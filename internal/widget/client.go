package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vovarama1992/pixode-support/internal/chat"
	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

// Client talks to the support server over its HTTP and WebSocket API and
// implements AgentBackend. Agent calls need an agent token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	dialer  *websocket.Dialer
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *Client) CreateSession(ctx context.Context, contact string) (*chat.Session, error) {
	var out chat.Session
	err := c.send(ctx, http.MethodPost, "/api/sessions", map[string]string{"customer_contact": contact}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResumeSession(ctx context.Context, id string) (*chat.Session, error) {
	var out chat.Session
	if err := c.send(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PostMessage(ctx context.Context, sessionID, text, clientID string) (*chat.Message, error) {
	var out chat.Message
	err := c.send(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", map[string]string{
		"text":      text,
		"client_id": clientID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LoadHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var out []chat.Message
	if err := c.send(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListOpenSessions(ctx context.Context) ([]chat.Session, error) {
	var out []chat.Session
	if err := c.send(ctx, http.MethodGet, "/api/agent/queue", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAssignedSessions(ctx context.Context) ([]chat.Session, error) {
	var out []chat.Session
	if err := c.send(ctx, http.MethodGet, "/api/agent/worklist", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClaimSession(ctx context.Context, id string) (*chat.Session, error) {
	var out chat.Session
	if err := c.send(ctx, http.MethodPost, "/api/agent/sessions/"+url.PathEscape(id)+"/claim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseSession(ctx context.Context, id string) (*chat.Session, error) {
	var out chat.Session
	if err := c.send(ctx, http.MethodPost, "/api/agent/sessions/"+url.PathEscape(id)+"/close", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Subscribe(ctx context.Context, sessionID string) (Feed, error) {
	return c.dial(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/ws")
}

func (c *Client) SubscribeSessions(ctx context.Context) (Feed, error) {
	return c.dial(ctx, "/api/agent/ws")
}

type apiError struct {
	Error   string        `json:"error"`
	Session *chat.Session `json:"session"`
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", chat.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return statusError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// statusError turns an API error response back into the chat error it was
// produced from.
func statusError(code int, body []byte) error {
	var e apiError
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(body))
	}

	var sentinel error
	switch code {
	case http.StatusBadRequest:
		sentinel = chat.ErrValidation
	case http.StatusNotFound:
		sentinel = chat.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		sentinel = chat.ErrForbidden
	case http.StatusConflict:
		if e.Session != nil {
			return &chat.ClaimConflictError{Session: e.Session}
		}
		sentinel = chat.ErrAlreadyAssigned
		if strings.Contains(e.Error, chat.ErrSessionClosed.Error()) {
			sentinel = chat.ErrSessionClosed
		}
	default:
		sentinel = chat.ErrUpstreamUnavailable
	}
	if e.Error == "" || e.Error == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, e.Error)
}

func (c *Client) dial(ctx context.Context, path string) (Feed, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			return nil, statusError(resp.StatusCode, body)
		}
		return nil, fmt.Errorf("%w: %w", chat.ErrUpstreamUnavailable, err)
	}

	f := &wsFeed{
		conn:   conn,
		events: make(chan realtime.Event, 64),
		done:   make(chan struct{}),
	}
	go f.run()
	return f, nil
}

type wsFeed struct {
	conn   *websocket.Conn
	events chan realtime.Event
	done   chan struct{}
	once   sync.Once
}

func (f *wsFeed) Events() <-chan realtime.Event { return f.events }

func (f *wsFeed) Close() {
	f.once.Do(func() {
		close(f.done)
		f.conn.Close()
	})
}

// run reads until the socket fails or closes. Pings are answered by the
// default ping handler while ReadJSON is blocked.
func (f *wsFeed) run() {
	defer close(f.events)
	for {
		var ev realtime.Event
		if err := f.conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case f.events <- ev:
		case <-f.done:
			return
		}
	}
}
