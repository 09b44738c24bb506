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

// Dashboard is an agent's view of the support queue: open sessions anyone
// may claim and the sessions this agent works on.
type Dashboard struct {
	backend      AgentBackend
	logger       *slog.Logger
	pollInterval time.Duration
	updates      chan struct{}

	mu       sync.Mutex
	queue    []chat.Session
	worklist []chat.Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDashboard(backend AgentBackend, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{
		backend:      backend,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		updates:      make(chan struct{}, 1),
	}
}

// Refresh recomputes the queue and the worklist from the store.
func (d *Dashboard) Refresh(ctx context.Context) error {
	queue, err := d.backend.ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	worklist, err := d.backend.ListAssignedSessions(ctx)
	if err != nil {
		return fmt.Errorf("load worklist: %w", err)
	}

	d.mu.Lock()
	d.queue = queue
	d.worklist = worklist
	d.mu.Unlock()

	select {
	case d.updates <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dashboard) Queue() []chat.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.Session(nil), d.queue...)
}

func (d *Dashboard) Worklist() []chat.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.Session(nil), d.worklist...)
}

func (d *Dashboard) Updates() <-chan struct{} { return d.updates }

// Watch refreshes the dashboard on every session status change until Stop.
// Without a live feed it refreshes on a timer.
func (d *Dashboard) Watch(ctx context.Context) error {
	if err := d.Refresh(ctx); err != nil {
		return err
	}
	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watch(ctx)
	}()
	return nil
}

func (d *Dashboard) watch(ctx context.Context) {
	for ctx.Err() == nil {
		feed, err := d.backend.SubscribeSessions(ctx)
		if err != nil {
			d.logger.Warn("session feed unavailable, polling", "error", err)
			d.pollFor(ctx, pollRounds)
			continue
		}
		d.refresh(ctx)

	events:
		for {
			select {
			case <-ctx.Done():
				break events
			case _, ok := <-feed.Events():
				if !ok {
					break events
				}
				d.refresh(ctx)
			}
		}
		feed.Close()

		if ctx.Err() == nil {
			d.pollFor(ctx, 1)
		}
	}
}

func (d *Dashboard) pollFor(ctx context.Context, rounds int) {
	t := time.NewTicker(d.pollInterval)
	defer t.Stop()
	for i := 0; i < rounds; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.refresh(ctx)
		}
	}
}

func (d *Dashboard) refresh(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("dashboard refresh failed", "error", err)
	}
}

func (d *Dashboard) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Claim takes an open session. A lost race still refreshes the dashboard so
// the session moves out of the queue; the returned error tells who won.
func (d *Dashboard) Claim(ctx context.Context, id string) (*chat.Session, error) {
	sess, err := d.backend.ClaimSession(ctx, id)
	if err != nil && !errors.Is(err, chat.ErrAlreadyAssigned) && !errors.Is(err, chat.ErrSessionClosed) {
		return nil, err
	}
	d.refresh(ctx)
	return sess, err
}

func (d *Dashboard) CloseSession(ctx context.Context, id string) (*chat.Session, error) {
	sess, err := d.backend.CloseSession(ctx, id)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx)
	return sess, nil
}

// Open starts following one session's conversation.
func (d *Dashboard) Open(ctx context.Context, id string) (*Conversation, error) {
	sess, err := d.backend.ResumeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c := &Conversation{
		backend:    d.backend,
		session:    sess,
		transcript: NewTranscript(),
		updates:    make(chan struct{}, 1),
	}
	c.view = &view{
		src:          d.backend,
		sessionID:    sess.ID,
		transcript:   c.transcript,
		logger:       d.logger,
		pollInterval: d.pollInterval,
		notify:       c.changed,
	}
	c.view.start(ctx)
	return c, nil
}

// Conversation is an agent's open chat window.
type Conversation struct {
	backend    AgentBackend
	session    *chat.Session
	transcript *Transcript
	updates    chan struct{}
	view       *view
}

func (c *Conversation) Session() *chat.Session {
	cp := *c.session
	return &cp
}

func (c *Conversation) Transcript() []Entry { return c.transcript.Entries() }

func (c *Conversation) Updates() <-chan struct{} { return c.updates }

// Reply posts as the agent with the same optimistic append the customer
// widget uses.
func (c *Conversation) Reply(ctx context.Context, text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, fmt.Errorf("%w: message text is empty", chat.ErrValidation)
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: c.session.ID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if c.session.AssignedAgentID != nil {
		msg.Sender = chat.Agent(*c.session.AssignedAgentID)
	}
	c.transcript.AddPending(msg)
	c.changed()

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

// Close stops following the conversation; it does not close the session.
func (c *Conversation) Close() { c.view.stop() }

func (c *Conversation) changed() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
