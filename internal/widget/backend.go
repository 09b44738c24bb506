package widget

import (
	"context"

	"github.com/Vovarama1992/pixode-support/internal/chat"
	"github.com/Vovarama1992/pixode-support/internal/identity"
	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

// Feed is a live event stream scoped to one view. The channel is closed when
// the server drops the subscriber; the view then reloads history.
type Feed interface {
	Events() <-chan realtime.Event
	Close()
}

// Backend is what the customer widget needs from the chat core.
type Backend interface {
	CreateSession(ctx context.Context, contact string) (*chat.Session, error)
	ResumeSession(ctx context.Context, id string) (*chat.Session, error)
	PostMessage(ctx context.Context, sessionID, text, clientID string) (*chat.Message, error)
	LoadHistory(ctx context.Context, sessionID string) ([]chat.Message, error)
	Subscribe(ctx context.Context, sessionID string) (Feed, error)
}

// AgentBackend adds the dashboard operations, acting as one agent.
type AgentBackend interface {
	Backend
	ListOpenSessions(ctx context.Context) ([]chat.Session, error)
	ListAssignedSessions(ctx context.Context) ([]chat.Session, error)
	ClaimSession(ctx context.Context, id string) (*chat.Session, error)
	CloseSession(ctx context.Context, id string) (*chat.Session, error)
	SubscribeSessions(ctx context.Context) (Feed, error)
}

// LocalBackend calls a chat.Service in the same process as the given
// identity. Messages are posted as the agent when the identity is an agent,
// the same rule the HTTP API applies.
type LocalBackend struct {
	svc chat.Service
	who identity.Identity
}

func NewLocalBackend(svc chat.Service, who identity.Identity) *LocalBackend {
	return &LocalBackend{svc: svc, who: who}
}

func (b *LocalBackend) CreateSession(ctx context.Context, contact string) (*chat.Session, error) {
	return b.svc.CreateSession(ctx, contact)
}

func (b *LocalBackend) ResumeSession(ctx context.Context, id string) (*chat.Session, error) {
	return b.svc.ResumeSession(ctx, id)
}

func (b *LocalBackend) PostMessage(ctx context.Context, sessionID, text, clientID string) (*chat.Message, error) {
	sender := chat.Customer()
	if b.who.IsAgent {
		sender = chat.Agent(b.who.ID)
	}
	return b.svc.PostMessage(ctx, chat.PostRequest{
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		ClientID:  clientID,
	})
}

func (b *LocalBackend) LoadHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return b.svc.LoadHistory(ctx, sessionID)
}

func (b *LocalBackend) Subscribe(ctx context.Context, sessionID string) (Feed, error) {
	sub, err := b.svc.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *LocalBackend) ListOpenSessions(ctx context.Context) ([]chat.Session, error) {
	return b.svc.ListOpenSessions(ctx)
}

func (b *LocalBackend) ListAssignedSessions(ctx context.Context) ([]chat.Session, error) {
	return b.svc.ListAssignedSessions(ctx, b.who.ID)
}

func (b *LocalBackend) ClaimSession(ctx context.Context, id string) (*chat.Session, error) {
	return b.svc.ClaimSession(ctx, id, b.who)
}

func (b *LocalBackend) CloseSession(ctx context.Context, id string) (*chat.Session, error) {
	if !b.who.IsAgent {
		return nil, chat.ErrForbidden
	}
	return b.svc.CloseSession(ctx, id, b.who.ID)
}

func (b *LocalBackend) SubscribeSessions(ctx context.Context) (Feed, error) {
	sub, err := b.svc.SubscribeSessions(ctx)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
