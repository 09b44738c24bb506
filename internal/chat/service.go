package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Vovarama1992/pixode-support/internal/ai"
	"github.com/Vovarama1992/pixode-support/internal/identity"
	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

const (
	// ClosedBySystem marks sessions closed by the server rather than an agent.
	ClosedBySystem = "system"

	MaxMessageLength = 4000

	joinedNotice = "Agent %s has joined the chat"
	closedNotice = "This chat has been closed."
)

type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// ReplyTimeout bounds one automated reply, generation included.
	ReplyTimeout time.Duration
	// ReplyDelay is waited before an automated reply is requested.
	ReplyDelay time.Duration
	Now        func() time.Time
}

type service struct {
	repo    Repo
	bus     Bus
	ai      ai.AI
	metrics *Metrics
	logger  *slog.Logger

	replyTimeout time.Duration
	replyDelay   time.Duration
	now          func() time.Time

	replies sync.WaitGroup
}

func NewService(repo Repo, bus Bus, aiClient ai.AI, opts Options) Service {
	if aiClient == nil {
		aiClient = ai.Disabled()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:         repo,
		bus:          bus,
		ai:           aiClient,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		replyTimeout: opts.ReplyTimeout,
		replyDelay:   opts.ReplyDelay,
		now:          opts.Now,
	}
}

func (s *service) CreateSession(ctx context.Context, customerContact string) (*Session, error) {
	contact, err := normalizeContact(customerContact)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:              uuid.NewString(),
		CustomerContact: contact,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, upstream("create session", err)
	}

	s.metrics.sessionCreated()
	s.logger.Info("session created", "session_id", sess.ID)
	s.publishSession(ctx, sess)
	return sess, nil
}

func (s *service) ResumeSession(ctx context.Context, id string) (*Session, error) {
	return s.getSession(ctx, id)
}

func (s *service) ClaimSession(ctx context.Context, id string, agent identity.Identity) (*Session, error) {
	if !agent.IsAgent {
		return nil, ErrForbidden
	}
	ctx = context.WithoutCancel(ctx)

	if _, err := s.getSession(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.claim("missing")
		}
		return nil, err
	}

	won, err := s.repo.ClaimSession(ctx, id, agent.ID, agent.DisplayName, s.now())
	if err != nil {
		return nil, upstream("claim session", err)
	}

	// Winners and losers both re-read: losers to learn who won.
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if !won {
		if sess.Status == StatusClosed {
			s.metrics.claim("closed")
			return nil, ErrSessionClosed
		}
		s.metrics.claim("lost")
		s.logger.Info("claim lost", "session_id", id, "agent_id", agent.ID)
		return nil, &ClaimConflictError{Session: sess}
	}

	s.metrics.claim("won")
	s.logger.Info("session claimed", "session_id", id, "agent_id", agent.ID)
	s.publishSession(ctx, sess)

	notice := &Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Sender:    System(),
		Text:      fmt.Sprintf(joinedNotice, agent.DisplayName),
		CreatedAt: s.now(),
	}
	if err := s.append(ctx, notice, StatusAssigned); err != nil {
		s.logger.Warn("join notice not posted", "session_id", id, "error", err)
	}
	return sess, nil
}

func (s *service) CloseSession(ctx context.Context, id, closedBy string) (*Session, error) {
	sess, _, err := s.closeSession(context.WithoutCancel(ctx), id, closedBy)
	return sess, err
}

func (s *service) closeSession(ctx context.Context, id, closedBy string) (*Session, bool, error) {
	if strings.TrimSpace(closedBy) == "" {
		closedBy = ClosedBySystem
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, ErrNotFound
	}

	changed, err := s.repo.CloseSession(ctx, id, closedBy, s.now())
	if err != nil {
		return nil, false, upstream("close session", err)
	}
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return sess, false, nil
	}

	by := "agent"
	if closedBy == ClosedBySystem {
		by = ClosedBySystem
	}
	s.metrics.closed(by)
	s.logger.Info("session closed", "session_id", id, "closed_by", closedBy)
	s.publishSession(ctx, sess)

	notice := &Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Sender:    System(),
		Text:      closedNotice,
		CreatedAt: s.now(),
	}
	if err := s.append(ctx, notice, StatusClosed); err != nil {
		s.logger.Warn("close notice not posted", "session_id", id, "error", err)
	}
	return sess, true, nil
}

func (s *service) ListOpenSessions(ctx context.Context) ([]Session, error) {
	out, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, upstream("list open sessions", err)
	}
	return out, nil
}

func (s *service) ListAssignedSessions(ctx context.Context, agentID string) ([]Session, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, validationf("agent id is empty")
	}
	out, err := s.repo.ListAssigned(ctx, agentID)
	if err != nil {
		return nil, upstream("list assigned sessions", err)
	}
	return out, nil
}

func (s *service) CloseIdle(ctx context.Context, before time.Time) (int, error) {
	idle, err := s.repo.ListIdle(ctx, before)
	if err != nil {
		return 0, upstream("list idle sessions", err)
	}

	closed := 0
	for _, sess := range idle {
		_, changed, err := s.closeSession(ctx, sess.ID, ClosedBySystem)
		if err != nil {
			s.logger.Warn("idle session not closed", "session_id", sess.ID, "error", err)
			continue
		}
		if changed {
			closed++
		}
	}
	return closed, nil
}

func (s *service) PostMessage(ctx context.Context, req PostRequest) (*Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, validationf("message text is empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, validationf("message longer than %d characters", MaxMessageLength)
	}
	if !req.Sender.valid() {
		return nil, validationf("invalid sender %q", req.Sender.Kind)
	}
	ctx = context.WithoutCancel(ctx)

	sess, err := s.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	allowed := []Status{StatusOpen, StatusAssigned}
	if req.Sender.Kind == SenderAgent {
		if sess.Status == StatusClosed {
			return nil, ErrSessionClosed
		}
		if sess.Status != StatusAssigned || *sess.AssignedAgentID != req.Sender.AgentID {
			return nil, ErrForbidden
		}
		allowed = []Status{StatusAssigned}
	}

	msg := &Message{
		ID:        messageID(req.ClientID),
		SessionID: sess.ID,
		Sender:    req.Sender,
		Text:      text,
		CreatedAt: s.now(),
	}

	err = s.append(ctx, msg, allowed...)
	var conflict *StatusConflictError
	switch {
	case errors.Is(err, ErrDuplicateMessage):
		existing, getErr := s.repo.GetMessage(ctx, msg.ID)
		if getErr != nil {
			return nil, upstream("get message", getErr)
		}
		if existing.SessionID != sess.ID {
			return nil, validationf("message id %s belongs to another session", msg.ID)
		}
		return existing, nil
	case errors.As(err, &conflict):
		if conflict.Status == StatusClosed {
			return nil, ErrSessionClosed
		}
		return nil, ErrForbidden
	case err != nil:
		return nil, err
	}

	if req.Sender.Kind == SenderCustomer && sess.Status == StatusOpen {
		s.scheduleReply(*msg)
	}
	return msg, nil
}

func (s *service) LoadHistory(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, upstream("load history", err)
	}
	return out, nil
}

func (s *service) Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	sub, err := s.bus.Subscribe(ctx, SessionTopic(sessionID))
	if err != nil {
		return nil, upstream("subscribe", err)
	}
	return sub, nil
}

func (s *service) SubscribeSessions(ctx context.Context) (*realtime.Subscription, error) {
	sub, err := s.bus.Subscribe(ctx, SessionsTopic)
	if err != nil {
		return nil, upstream("subscribe", err)
	}
	return sub, nil
}

func (s *service) Close() {
	s.replies.Wait()
}

// ------------------------------------------------------------

func (s *service) scheduleReply(trigger Message) {
	s.replies.Add(1)
	go func() {
		defer s.replies.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.replyDelay+s.replyTimeout)
		defer cancel()
		s.autoReply(ctx, trigger)
	}()
}

// autoReply checks the session twice: before asking the responder, and
// atomically with the append, since a claim may land while the reply is
// being generated.
func (s *service) autoReply(ctx context.Context, trigger Message) {
	log := s.logger.With("session_id", trigger.SessionID, "trigger_id", trigger.ID)

	if s.replyDelay > 0 {
		t := time.NewTimer(s.replyDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}

	sess, err := s.repo.GetSession(ctx, trigger.SessionID)
	if err != nil {
		s.metrics.autoReply("failed")
		log.Warn("automated reply: session lookup failed", "error", err)
		return
	}
	if sess.Status != StatusOpen {
		s.metrics.autoReply("suppressed")
		log.Debug("automated reply skipped", "status", sess.Status)
		return
	}

	history, err := s.repo.ListMessages(ctx, trigger.SessionID)
	if err != nil {
		s.metrics.autoReply("failed")
		log.Warn("automated reply: history failed", "error", err)
		return
	}

	reply, err := s.ai.GetReply(ctx, toTurns(history, trigger.ID), trigger.Text)
	if errors.Is(err, ai.ErrDisabled) {
		s.metrics.autoReply("disabled")
		return
	}
	if err != nil {
		s.metrics.autoReply("failed")
		log.Warn("automated reply failed", "error", err)
		return
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		s.metrics.autoReply("empty")
		return
	}

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: trigger.SessionID,
		Sender:    AutomatedAssistant(),
		Text:      reply,
		CreatedAt: s.now(),
	}
	err = s.append(ctx, msg, StatusOpen)
	var conflict *StatusConflictError
	if errors.As(err, &conflict) {
		s.metrics.autoReply("suppressed")
		log.Info("automated reply suppressed", "status", conflict.Status)
		return
	}
	if err != nil {
		s.metrics.autoReply("failed")
		log.Warn("automated reply not stored", "error", err)
		return
	}
	s.metrics.autoReply("posted")
}

// toTurns converts the log preceding the trigger message into responder
// turns. System notices are not part of the dialogue.
func toTurns(history []Message, triggerID string) []ai.Message {
	turns := make([]ai.Message, 0, len(history))
	for _, m := range history {
		if m.ID == triggerID {
			break
		}
		switch m.Sender.Kind {
		case SenderCustomer:
			turns = append(turns, ai.Message{Role: ai.RoleUser, Text: m.Text})
		case SenderAgent, SenderAI:
			turns = append(turns, ai.Message{Role: ai.RoleAssistant, Text: m.Text})
		}
	}
	return turns
}

func (s *service) append(ctx context.Context, msg *Message, allowed ...Status) error {
	err := s.repo.AppendMessage(ctx, msg, allowed...)
	if err != nil {
		var conflict *StatusConflictError
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateMessage) || errors.As(err, &conflict) {
			return err
		}
		return upstream("append message", err)
	}

	s.metrics.message(msg.Sender.Kind)
	ev, err := messageEvent(msg)
	if err == nil {
		err = s.bus.Publish(context.WithoutCancel(ctx), ev)
	}
	if err != nil {
		// Stored; viewers catch up from history.
		s.logger.Warn("message publish failed", "session_id", msg.SessionID, "message_id", msg.ID, "error", err)
	}
	return nil
}

func (s *service) publishSession(ctx context.Context, sess *Session) {
	ev, err := sessionEvent(sess)
	if err == nil {
		err = s.bus.Publish(context.WithoutCancel(ctx), ev)
	}
	if err != nil {
		s.logger.Warn("session publish failed", "session_id", sess.ID, "error", err)
	}
}

func (s *service) getSession(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	sess, err := s.repo.GetSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, upstream("get session", err)
	}
	return sess, nil
}

func messageID(clientID string) string {
	if id, err := uuid.Parse(strings.TrimSpace(clientID)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// normalizeContact accepts a bare email address.
func normalizeContact(contact string) (string, error) {
	contact = strings.ToLower(strings.TrimSpace(contact))
	if contact == "" {
		return "", validationf("customer contact is empty")
	}
	addr, err := mail.ParseAddress(contact)
	if err != nil || addr.Address != contact {
		return "", validationf("customer contact %q is not an email address", contact)
	}
	at := strings.LastIndex(contact, "@")
	if at < 1 || !strings.Contains(contact[at+1:], ".") {
		return "", validationf("customer contact %q is not an email address", contact)
	}
	return contact, nil
}
