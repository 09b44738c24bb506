package widget

import (
	"sort"
	"sync"

	"github.com/Vovarama1992/pixode-support/internal/chat"
)

type DeliveryState int

const (
	Delivered DeliveryState = iota
	Pending
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "delivered"
	}
}

type Entry struct {
	chat.Message
	State DeliveryState
}

// Transcript is a view's copy of a session log. Entries are unique by
// message id: the optimistic copy, the post response, the live event and a
// history reload of the same message collapse into one entry.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

func NewTranscript() *Transcript { return &Transcript{} }

// AddPending appends a message that has not been confirmed yet.
func (t *Transcript) AddPending(msg chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.find(msg.ID) >= 0 {
		return
	}
	t.entries = append(t.entries, Entry{Message: msg, State: Pending})
	t.sortLocked()
}

// Merge records a stored message and reports whether the view changed.
func (t *Transcript) Merge(msg chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.find(msg.ID); i >= 0 {
		if t.entries[i].State == Delivered {
			return false
		}
		t.entries[i] = Entry{Message: msg, State: Delivered}
	} else {
		t.entries = append(t.entries, Entry{Message: msg, State: Delivered})
	}
	t.sortLocked()
	return true
}

// MarkFailed flags an unconfirmed message. Delivered messages stay delivered.
func (t *Transcript) MarkFailed(id string) {
	t.setState(id, Failed)
}

func (t *Transcript) MarkPending(id string) {
	t.setState(id, Pending)
}

func (t *Transcript) setState(id string, state DeliveryState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.find(id); i >= 0 && t.entries[i].State != Delivered {
		t.entries[i].State = state
	}
}

func (t *Transcript) Get(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.find(id); i >= 0 {
		return t.entries[i], true
	}
	return Entry{}, false
}

// Entries returns delivered messages in log order followed by unconfirmed
// ones in the order they were typed.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops everything, for a view switching to another session.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

func (t *Transcript) find(id string) int {
	for i := range t.entries {
		if t.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if (a.State == Delivered) != (b.State == Delivered) {
			return a.State == Delivered
		}
		if a.State != Delivered {
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}
