package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vovarama1992/pixode-support/internal/chat"
)

var (
	// ErrNotSent wraps the cause of a failed post. The message stays in the
	// transcript marked Failed until Retry.
	ErrNotSent = errors.New("message not sent")

	ErrNoSession = errors.New("no active session")
)

// Greeting is shown before the first message; it is never stored.
const Greeting = "Hello! I'm the PIXODE AI Assistant. How can I help you today?"

type CustomerOptions struct {
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Customer is the customer-facing widget: it resumes the stored session or
// starts a new one, and keeps the conversation in sync.
type Customer struct {
	backend      Backend
	tokens       TokenStore
	logger       *slog.Logger
	pollInterval time.Duration
	transcript   *Transcript
	updates      chan struct{}

	mu      sync.Mutex
	session *chat.Session
	contact string
	queued  []chat.Message
	view    *view
}

func NewCustomer(backend Backend, tokens TokenStore, opts CustomerOptions) *Customer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Customer{
		backend:      backend,
		tokens:       tokens,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		transcript:   NewTranscript(),
		updates:      make(chan struct{}, 1),
	}
}

// Start resumes the stored session. A stored session that is gone or closed
// is forgotten and, when the contact is known, replaced by a fresh one. It
// returns nil, nil when the widget has to ask for the contact first.
func (c *Customer) Start(ctx context.Context) (*chat.Session, error) {
	tok, err := c.tokens.Load()
	if err != nil {
		c.logger.Warn("stored session unreadable, starting fresh", "error", err)
		c.clearToken()
		return nil, nil
	}
	if tok == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.contact = tok.CustomerContact
	c.mu.Unlock()

	if tok.SessionID != "" {
		sess, err := c.backend.ResumeSession(ctx, tok.SessionID)
		switch {
		case err == nil && sess.Status != chat.StatusClosed:
			c.attach(ctx, sess)
			return sess, nil
		case err == nil, errors.Is(err, chat.ErrNotFound):
			c.logger.Info("stored session is over, starting fresh", "session_id", tok.SessionID)
			c.clearToken()
		default:
			return nil, err
		}
	}

	if tok.CustomerContact == "" {
		return nil, nil
	}
	return c.open(ctx, tok.CustomerContact)
}

// SubmitContact starts a session for contact and sends whatever was typed
// before it.
func (c *Customer) SubmitContact(ctx context.Context, contact string) (*chat.Session, error) {
	return c.open(ctx, contact)
}

// StartOver replaces the current session with a new one for the same contact.
func (c *Customer) StartOver(ctx context.Context) (*chat.Session, error) {
	c.mu.Lock()
	contact := c.contact
	c.mu.Unlock()
	if contact == "" {
		return nil, ErrNoSession
	}
	c.clearToken()
	return c.open(ctx, contact)
}

func (c *Customer) open(ctx context.Context, contact string) (*chat.Session, error) {
	sess, err := c.backend.CreateSession(ctx, contact)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.Save(Token{SessionID: sess.ID, CustomerContact: sess.CustomerContact}); err != nil {
		c.logger.Warn("session token not saved", "error", err)
	}

	c.mu.Lock()
	c.contact = sess.CustomerContact
	c.mu.Unlock()

	c.attach(ctx, sess)

	for {
		c.mu.Lock()
		queued := c.queued
		c.queued = nil
		c.mu.Unlock()
		if len(queued) == 0 {
			break
		}
		for _, msg := range queued {
			msg.SessionID = sess.ID
			c.transcript.AddPending(msg)
			if _, err := c.post(ctx, msg); err != nil {
				c.logger.Warn("queued message not sent", "message_id", msg.ID, "error", err)
			}
		}
	}
	return sess, nil
}

func (c *Customer) attach(ctx context.Context, sess *chat.Session) {
	c.mu.Lock()
	old := c.view
	c.view = nil
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}

	c.transcript.Clear()
	v := &view{
		src:          c.backend,
		sessionID:    sess.ID,
		transcript:   c.transcript,
		logger:       c.logger,
		pollInterval: c.pollInterval,
		notify:       c.changed,
		onMessage:    c.observe,
	}

	c.mu.Lock()
	c.session = sess
	c.view = v
	c.mu.Unlock()

	v.start(ctx)
	c.changed()
}

// observe refreshes the session after system notices, which accompany every
// status change.
func (c *Customer) observe(msg chat.Message) {
	if msg.Sender.Kind != chat.SenderSystem {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := c.backend.ResumeSession(ctx, msg.SessionID)
	if err != nil {
		c.logger.Debug("session refresh failed", "session_id", msg.SessionID, "error", err)
		return
	}

	c.mu.Lock()
	current := c.session != nil && c.session.ID == sess.ID
	if current {
		c.session = sess
	}
	c.mu.Unlock()

	if current && sess.Status == chat.StatusClosed {
		c.clearToken()
	}
}

// Send appends text to the transcript right away and posts it. Before the
// contact is known the message is queued and sent by SubmitContact.
func (c *Customer) Send(ctx context.Context, text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, fmt.Errorf("%w: message text is empty", chat.ErrValidation)
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		Sender:    chat.Customer(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.queued = append(c.queued, msg)
	}
	c.mu.Unlock()

	if sess == nil {
		c.transcript.AddPending(msg)
		c.changed()
		return Entry{Message: msg, State: Pending}, nil
	}

	msg.SessionID = sess.ID
	c.transcript.AddPending(msg)
	c.changed()
	return c.post(ctx, msg)
}

// Retry re-posts a failed message under its original id, so a post that did
// reach the server is not stored twice.
func (c *Customer) Retry(ctx context.Context, id string) (Entry, error) {
	e, ok := c.transcript.Get(id)
	if !ok || e.State != Failed {
		return e, fmt.Errorf("no failed message %s", id)
	}
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return e, ErrNoSession
	}

	msg := e.Message
	msg.SessionID = sess.ID
	c.transcript.MarkPending(id)
	c.changed()
	return c.post(ctx, msg)
}

func (c *Customer) post(ctx context.Context, msg chat.Message) (Entry, error) {
	stored, err := c.backend.PostMessage(ctx, msg.SessionID, msg.Text, msg.ID)
	if err != nil {
		c.transcript.MarkFailed(msg.ID)
		c.changed()
		return Entry{Message: msg, State: Failed}, fmt.Errorf("%w: %w", ErrNotSent, err)
	}
	c.transcript.Merge(*stored)
	c.changed()
	return Entry{Message: *stored, State: Delivered}, nil
}

// NeedsContact reports whether the widget has no session yet.
func (c *Customer) NeedsContact() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == nil
}

func (c *Customer) Session() *chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

func (c *Customer) Transcript() []Entry { return c.transcript.Entries() }

// Updates signals that the transcript or the session changed. Signals
// coalesce; readers re-read the state.
func (c *Customer) Updates() <-chan struct{} { return c.updates }

// Close stops live updates. The stored token is kept for the next visit.
func (c *Customer) Close() {
	c.mu.Lock()
	v := c.view
	c.view = nil
	c.mu.Unlock()
	if v != nil {
		v.stop()
	}
}

func (c *Customer) changed() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Customer) clearToken() {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Warn("session token not cleared", "error", err)
	}
}
