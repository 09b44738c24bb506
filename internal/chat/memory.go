package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps sessions and messages in process. It is used for local
// development and tests; the mutex plays the part of the database's
// conditional update.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
	byID     map[string]*Message
	seq      int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		byID:     make(map[string]*Message),
	}
}

func (r *MemoryRepo) CreateSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *MemoryRepo) GetSession(_ context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *MemoryRepo) ClaimSession(_ context.Context, id, agentID, agentName string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusOpen {
		return false, nil
	}
	s.Status = StatusAssigned
	s.AssignedAgentID = &agentID
	s.AssignedAgentName = agentName
	s.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepo) CloseSession(_ context.Context, id, closedBy string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status == StatusClosed {
		return false, nil
	}
	s.Status = StatusClosed
	s.AssignedAgentID = nil
	s.AssignedAgentName = ""
	s.ClosedBy = closedBy
	s.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepo) ListOpen(_ context.Context) ([]Session, error) {
	out := r.filter(func(s *Session) bool { return s.Status == StatusOpen })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) ListAssigned(_ context.Context, agentID string) ([]Session, error) {
	out := r.filter(func(s *Session) bool {
		return s.Status == StatusAssigned && s.AssignedAgentID != nil && *s.AssignedAgentID == agentID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryRepo) ListIdle(_ context.Context, before time.Time) ([]Session, error) {
	out := r.filter(func(s *Session) bool {
		return s.Status != StatusClosed && s.UpdatedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryRepo) filter(keep func(*Session) bool) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Session{}
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, *cloneSession(s))
		}
	}
	return out
}

func (r *MemoryRepo) AppendMessage(_ context.Context, msg *Message, allowed ...Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[msg.SessionID]
	if !ok {
		return ErrNotFound
	}
	if !statusIn(s.Status, allowed) {
		return &StatusConflictError{Status: s.Status}
	}
	if _, dup := r.byID[msg.ID]; dup {
		return ErrDuplicateMessage
	}

	r.seq++
	msg.Seq = r.seq
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], *msg)
	stored := *msg
	r.byID[msg.ID] = &stored
	if s.Status != StatusClosed {
		s.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (r *MemoryRepo) GetMessage(_ context.Context, id string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepo) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	r.mu.Lock()
	out := append([]Message{}, r.messages[sessionID]...)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	if s.AssignedAgentID != nil {
		id := *s.AssignedAgentID
		cp.AssignedAgentID = &id
	}
	return &cp
}
