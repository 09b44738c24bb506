package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/pixode-support/internal/identity"
	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusAssigned Status = "assigned"
	StatusClosed   Status = "closed"
)

// Session is one support conversation. AssignedAgentID is set iff Status is
// StatusAssigned.
type Session struct {
	ID                string    `json:"id"`
	CustomerContact   string    `json:"customer_contact"`
	Status            Status    `json:"status"`
	AssignedAgentID   *string   `json:"assigned_agent_id"`
	AssignedAgentName string    `json:"assigned_agent_name,omitempty"`
	ClosedBy          string    `json:"closed_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderAgent    SenderKind = "agent"
	SenderSystem   SenderKind = "system"
	SenderAI       SenderKind = "ai"
)

// Sender tags who wrote a message. AgentID is only set for SenderAgent.
type Sender struct {
	Kind    SenderKind `json:"kind"`
	AgentID string     `json:"agent_id,omitempty"`
}

func Customer() Sender { return Sender{Kind: SenderCustomer} }
func Agent(id string) Sender { return Sender{Kind: SenderAgent, AgentID: id} }
func System() Sender { return Sender{Kind: SenderSystem} }
func AutomatedAssistant() Sender { return Sender{Kind: SenderAI} }

func (s Sender) valid() bool {
	switch s.Kind {
	case SenderCustomer, SenderSystem, SenderAI:
		return s.AgentID == ""
	case SenderAgent:
		return s.AgentID != ""
	}
	return false
}

// Message is an entry of a session's append-only log, ordered by
// (CreatedAt, Seq).
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PostRequest carries a new message. ClientID, when it is a UUID, becomes the
// message id so that a sender can reconcile its optimistic copy.
type PostRequest struct {
	SessionID string
	Sender    Sender
	Text      string
	ClientID  string
}

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("session not found")
	ErrAlreadyAssigned     = errors.New("session already assigned")
	ErrSessionClosed       = errors.New("session closed")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDuplicateMessage is returned by Repo.AppendMessage when the id is
	// already stored.
	ErrDuplicateMessage = errors.New("duplicate message id")
)

// ClaimConflictError is returned to the losers of a claim race. Session is
// the state written by the winner.
type ClaimConflictError struct {
	Session *Session
}

func (e *ClaimConflictError) Error() string {
	if e.Session != nil && e.Session.AssignedAgentName != "" {
		return fmt.Sprintf("%s: taken by %s", ErrAlreadyAssigned, e.Session.AssignedAgentName)
	}
	return ErrAlreadyAssigned.Error()
}

func (e *ClaimConflictError) Unwrap() error { return ErrAlreadyAssigned }

// StatusConflictError is returned by Repo.AppendMessage when the session is
// not in one of the allowed statuses at write time.
type StatusConflictError struct {
	Status Status
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("session is %s", e.Status)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

// Repo is the session and message store. It is the only shared mutable state
// and the only synchronisation point between agents.
type Repo interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns ErrNotFound when the id is unknown.
	GetSession(ctx context.Context, id string) (*Session, error)
	// ClaimSession assigns the session only if it is still open. It reports
	// whether this call performed the transition.
	ClaimSession(ctx context.Context, id, agentID, agentName string, at time.Time) (bool, error)
	// CloseSession closes a session that is not closed yet and reports
	// whether this call performed the transition.
	CloseSession(ctx context.Context, id, closedBy string, at time.Time) (bool, error)
	ListOpen(ctx context.Context) ([]Session, error)
	ListAssigned(ctx context.Context, agentID string) ([]Session, error)
	// ListIdle returns non-closed sessions last updated before t.
	ListIdle(ctx context.Context, before time.Time) ([]Session, error)

	// AppendMessage stores msg and assigns its Seq, provided the owning
	// session's status is one of allowed. Otherwise it returns ErrNotFound,
	// ErrDuplicateMessage or a *StatusConflictError.
	AppendMessage(ctx context.Context, msg *Message, allowed ...Status) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}

// Bus is the realtime transport.
type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
}

// Service is the chat core: session lifecycle plus the message channel.
type Service interface {
	CreateSession(ctx context.Context, customerContact string) (*Session, error)
	ResumeSession(ctx context.Context, id string) (*Session, error)
	ClaimSession(ctx context.Context, id string, agent identity.Identity) (*Session, error)
	CloseSession(ctx context.Context, id, closedBy string) (*Session, error)
	ListOpenSessions(ctx context.Context) ([]Session, error)
	ListAssignedSessions(ctx context.Context, agentID string) ([]Session, error)
	// CloseIdle closes every session untouched since before, as "system".
	CloseIdle(ctx context.Context, before time.Time) (int, error)

	PostMessage(ctx context.Context, req PostRequest) (*Message, error)
	LoadHistory(ctx context.Context, sessionID string) ([]Message, error)
	Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error)
	SubscribeSessions(ctx context.Context) (*realtime.Subscription, error)

	// Close waits for in-flight automated replies.
	Close()
}
