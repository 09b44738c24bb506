package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Vovarama1992/pixode-support/internal/ai"
	"github.com/Vovarama1992/pixode-support/internal/identity"
	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

type stubAI struct {
	reply   string
	err     error
	called  chan struct{}
	release chan struct{}

	mu      sync.Mutex
	history []ai.Message
	latest  string
}

func (s *stubAI) GetReply(ctx context.Context, history []ai.Message, latest string) (string, error) {
	s.mu.Lock()
	s.history = history
	s.latest = latest
	s.mu.Unlock()

	if s.called != nil {
		s.called <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

type fixture struct {
	svc     Service
	repo    *MemoryRepo
	hub     *realtime.Hub
	metrics *Metrics
}

func newFixture(t *testing.T, responder ai.AI) *fixture {
	t.Helper()
	f := &fixture{
		repo:    NewMemoryRepo(),
		hub:     realtime.NewHub(nil),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewService(f.repo, f.hub, responder, Options{
		Metrics:      f.metrics,
		ReplyTimeout: 2 * time.Second,
	})
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	sess, err := f.svc.CreateSession(context.Background(), "visitor@example.com")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func agent(id string) identity.Identity {
	return identity.New(id, "Agent "+id, identity.RoleEmployee)
}

func senders(msgs []Message) []SenderKind {
	out := make([]SenderKind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sender.Kind
	}
	return out
}

func TestCreateSessionContact(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"visitor@example.com", "visitor@example.com", true},
		{"  Visitor@Example.COM ", "visitor@example.com", true},
		{"", "", false},
		{"not-an-email", "", false},
		{"a@localhost", "", false},
		{"Visitor <visitor@example.com>", "", false},
	}
	for _, tt := range tests {
		sess, err := f.svc.CreateSession(ctx, tt.in)
		if !tt.ok {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("CreateSession(%q) err = %v, want validation error", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("CreateSession(%q): %v", tt.in, err)
			continue
		}
		if sess.CustomerContact != tt.want || sess.Status != StatusOpen || sess.AssignedAgentID != nil {
			t.Errorf("CreateSession(%q) = %+v", tt.in, sess)
		}
	}
	if got := testutil.ToFloat64(f.metrics.SessionsCreated); got != 2 {
		t.Fatalf("sessions created = %v, want 2", got)
	}
}

func TestResumeSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)

	got, err := f.svc.ResumeSession(ctx, sess.ID)
	if err != nil || got.ID != sess.ID {
		t.Fatalf("resume: %+v %v", got, err)
	}
	if _, err := f.svc.ResumeSession(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	if _, err := f.svc.ResumeSession(ctx, "garbage"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("malformed id: %v", err)
	}
}

func TestClaimExactlyOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  []*ClaimConflictError
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			got, err := f.svc.ClaimSession(context.Background(), sess.ID, agent(id))
			mu.Lock()
			defer mu.Unlock()
			var conflict *ClaimConflictError
			switch {
			case err == nil:
				winners = append(winners, *got.AssignedAgentID)
			case errors.As(err, &conflict):
				losers = append(losers, conflict)
			default:
				t.Errorf("claim %s: %v", id, err)
			}
		}(uuid.NewString())
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %d, want 1", len(winners))
	}
	if len(losers) != n-1 {
		t.Fatalf("losers = %d, want %d", len(losers), n-1)
	}
	for _, l := range losers {
		if !errors.Is(l, ErrAlreadyAssigned) {
			t.Fatalf("loser error does not unwrap to ErrAlreadyAssigned")
		}
		if l.Session == nil || *l.Session.AssignedAgentID != winners[0] {
			t.Fatalf("loser sees %+v, winner %s", l.Session, winners[0])
		}
	}

	history, _ := f.svc.LoadHistory(context.Background(), sess.ID)
	if len(history) != 1 || history[0].Sender.Kind != SenderSystem || !strings.Contains(history[0].Text, "has joined") {
		t.Fatalf("history = %+v, want one join notice", history)
	}
	if got := testutil.ToFloat64(f.metrics.Claims.WithLabelValues("lost")); got != n-1 {
		t.Fatalf("lost claims metric = %v", got)
	}
}

func TestClaimRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)

	customer := identity.New("c1", "Visitor", identity.RoleCustomer)
	if _, err := f.svc.ClaimSession(ctx, sess.ID, customer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("customer claim: %v", err)
	}
	if _, err := f.svc.ClaimSession(ctx, uuid.NewString(), agent("a1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing session claim: %v", err)
	}

	if _, err := f.svc.CloseSession(ctx, sess.ID, "a1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.svc.ClaimSession(ctx, sess.ID, agent("a1")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("closed session claim: %v", err)
	}
}

func TestPostMessageAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)

	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Agent("a1"), Text: "hello"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("agent post to open session: %v", err)
	}
	if _, err := f.svc.ClaimSession(ctx, sess.ID, agent("a1")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Agent("a2"), Text: "hi"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other agent post: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Agent("a1"), Text: "hi"}); err != nil {
		t.Fatalf("assigned agent post: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "thanks"}); err != nil {
		t.Fatalf("customer post: %v", err)
	}

	if _, err := f.svc.CloseSession(ctx, sess.ID, "a1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "still there?"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("post to closed session: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Agent("a1"), Text: "bye"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("agent post to closed session: %v", err)
	}
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)

	tests := []struct {
		name string
		req  PostRequest
	}{
		{"empty", PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "   "}},
		{"too long", PostRequest{SessionID: sess.ID, Sender: Customer(), Text: strings.Repeat("я", MaxMessageLength+1)}},
		{"agent without id", PostRequest{SessionID: sess.ID, Sender: Sender{Kind: SenderAgent}, Text: "x"}},
		{"unknown sender", PostRequest{SessionID: sess.ID, Sender: Sender{Kind: "bot"}, Text: "x"}},
	}
	for _, tt := range tests {
		if _, err := f.svc.PostMessage(ctx, tt.req); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}

	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: strings.Repeat("я", MaxMessageLength)}); err != nil {
		t.Fatalf("max length message rejected: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: uuid.NewString(), Sender: Customer(), Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestPostMessageClientIDIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)
	clientID := uuid.NewString()

	first, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "hello", ClientID: clientID})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if first.ID != clientID {
		t.Fatalf("id = %s, want client id %s", first.ID, clientID)
	}
	again, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "hello", ClientID: clientID})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if again.Seq != first.Seq {
		t.Fatalf("retry stored a new message: %+v vs %+v", again, first)
	}

	other := f.session(t)
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: other.ID, Sender: Customer(), Text: "hello", ClientID: clientID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("reused id across sessions: %v", err)
	}

	history, _ := f.svc.LoadHistory(ctx, sess.ID)
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
}

func TestHistoryOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)

	for _, text := range []string{"one", "two", "three"} {
		if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: text}); err != nil {
			t.Fatalf("post %s: %v", text, err)
		}
	}
	history, err := f.svc.LoadHistory(ctx, sess.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var got []string
	for _, m := range history {
		got = append(got, m.Text)
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Fatalf("order = %v", got)
	}
}

func TestAutomatedReplyPosted(t *testing.T) {
	responder := &stubAI{reply: "  We usually reply within a day.  "}
	f := newFixture(t, responder)
	ctx := context.Background()
	sess := f.session(t)

	sub, err := f.svc.Subscribe(ctx, sess.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "How fast can you start?"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	f.svc.Close()

	history, _ := f.svc.LoadHistory(ctx, sess.ID)
	if got := senders(history); len(got) != 2 || got[1] != SenderAI {
		t.Fatalf("senders = %v", got)
	}
	if history[1].Text != "We usually reply within a day." {
		t.Fatalf("reply text = %q", history[1].Text)
	}
	if responder.latest != "How fast can you start?" || len(responder.history) != 0 {
		t.Fatalf("responder saw %v / %q", responder.history, responder.latest)
	}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			if _, err := DecodeMessage(ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	if got := testutil.ToFloat64(f.metrics.AutoReplies.WithLabelValues("posted")); got != 1 {
		t.Fatalf("posted replies = %v", got)
	}
}

func TestAutomatedReplySuppressedAfterClaim(t *testing.T) {
	responder := &stubAI{
		reply:   "automated answer",
		called:  make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, responder)
	ctx := context.Background()
	sess := f.session(t)

	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "hello?"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	select {
	case <-responder.called:
	case <-time.After(time.Second):
		t.Fatalf("responder not called")
	}

	if _, err := f.svc.ClaimSession(ctx, sess.ID, agent("a1")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	close(responder.release)
	f.svc.Close()

	history, _ := f.svc.LoadHistory(ctx, sess.ID)
	for _, m := range history {
		if m.Sender.Kind == SenderAI {
			t.Fatalf("automated reply posted after hand-off: %+v", history)
		}
	}
	if got := testutil.ToFloat64(f.metrics.AutoReplies.WithLabelValues("suppressed")); got != 1 {
		t.Fatalf("suppressed replies = %v", got)
	}
}

func TestAutomatedReplyNotRequestedForAssignedSession(t *testing.T) {
	responder := &stubAI{reply: "x", called: make(chan struct{}, 1)}
	f := newFixture(t, responder)
	ctx := context.Background()
	sess := f.session(t)

	if _, err := f.svc.ClaimSession(ctx, sess.ID, agent("a1")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "hi"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	f.svc.Close()

	select {
	case <-responder.called:
		t.Fatalf("responder called for an assigned session")
	default:
	}
}

func TestAutomatedReplyFailuresAreSilent(t *testing.T) {
	tests := []struct {
		name   string
		ai     ai.AI
		result string
	}{
		{"disabled", ai.Disabled(), "disabled"},
		{"error", &stubAI{err: errors.New("quota exceeded")}, "failed"},
		{"empty", &stubAI{reply: "   "}, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ai)
			ctx := context.Background()
			sess := f.session(t)

			if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: sess.ID, Sender: Customer(), Text: "hi"}); err != nil {
				t.Fatalf("post: %v", err)
			}
			f.svc.Close()

			history, _ := f.svc.LoadHistory(ctx, sess.ID)
			if len(history) != 1 {
				t.Fatalf("history = %+v", history)
			}
			if got := testutil.ToFloat64(f.metrics.AutoReplies.WithLabelValues(tt.result)); got != 1 {
				t.Fatalf("%s replies = %v", tt.result, got)
			}
		})
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.session(t)

	if _, err := f.svc.ClaimSession(ctx, sess.ID, agent("a1")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	first, err := f.svc.CloseSession(ctx, sess.ID, "a1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if first.Status != StatusClosed || first.AssignedAgentID != nil || first.ClosedBy != "a1" {
		t.Fatalf("closed session = %+v", first)
	}
	second, err := f.svc.CloseSession(ctx, sess.ID, "a2")
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if second.ClosedBy != "a1" {
		t.Fatalf("second close overwrote closed_by: %q", second.ClosedBy)
	}

	history, _ := f.svc.LoadHistory(ctx, sess.ID)
	notices := 0
	for _, m := range history {
		if m.Text == closedNotice {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("close notices = %d, want 1", notices)
	}
	if _, err := f.svc.CloseSession(ctx, uuid.NewString(), "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("close unknown: %v", err)
	}
}

func TestSessionListings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b, c := f.session(t), f.session(t), f.session(t)

	if _, err := f.svc.ClaimSession(ctx, b.ID, agent("a1")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.svc.CloseSession(ctx, c.ID, ""); err != nil {
		t.Fatalf("close: %v", err)
	}

	open, _ := f.svc.ListOpenSessions(ctx)
	if len(open) != 1 || open[0].ID != a.ID {
		t.Fatalf("open = %+v", open)
	}
	mine, _ := f.svc.ListAssignedSessions(ctx, "a1")
	if len(mine) != 1 || mine[0].ID != b.ID {
		t.Fatalf("assigned = %+v", mine)
	}
	theirs, _ := f.svc.ListAssignedSessions(ctx, "a2")
	if len(theirs) != 0 {
		t.Fatalf("other agent worklist = %+v", theirs)
	}
	if _, err := f.svc.ListAssignedSessions(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty agent id: %v", err)
	}
}

func TestSubscribeSessionsSeesLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.svc.SubscribeSessions(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sess := f.session(t)
	if _, err := f.svc.ClaimSession(ctx, sess.ID, agent("a1")); err != nil {
		t.Fatalf("claim: %v", err)
	}

	var statuses []Status
	for len(statuses) < 2 {
		select {
		case ev := <-sub.Events():
			s, err := DecodeSession(ev)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			statuses = append(statuses, s.Status)
		case <-time.After(time.Second):
			t.Fatalf("got %v", statuses)
		}
	}
	if statuses[0] != StatusOpen || statuses[1] != StatusAssigned {
		t.Fatalf("statuses = %v", statuses)
	}
}

func TestCloseIdle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	stale := f.session(t)
	fresh := f.session(t)

	cutoff := time.Now().UTC().Add(time.Minute)
	if _, err := f.svc.PostMessage(ctx, PostRequest{SessionID: fresh.ID, Sender: Customer(), Text: "hi"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	// Move fresh past the cutoff.
	f.repo.mu.Lock()
	f.repo.sessions[fresh.ID].UpdatedAt = cutoff.Add(time.Minute)
	f.repo.mu.Unlock()

	n, err := f.svc.CloseIdle(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("CloseIdle = %d, %v", n, err)
	}
	got, _ := f.svc.ResumeSession(ctx, stale.ID)
	if got.Status != StatusClosed || got.ClosedBy != ClosedBySystem {
		t.Fatalf("stale session = %+v", got)
	}
	got, _ = f.svc.ResumeSession(ctx, fresh.ID)
	if got.Status != StatusOpen {
		t.Fatalf("fresh session = %+v", got)
	}
}

func TestToTurns(t *testing.T) {
	history := []Message{
		{ID: "1", Sender: Customer(), Text: "hi"},
		{ID: "2", Sender: AutomatedAssistant(), Text: "hello"},
		{ID: "3", Sender: System(), Text: "Agent Sam has joined the chat"},
		{ID: "4", Sender: Agent("a1"), Text: "Sam here"},
		{ID: "5", Sender: Customer(), Text: "trigger"},
		{ID: "6", Sender: Customer(), Text: "later"},
	}
	turns := toTurns(history, "5")
	want := []ai.Message{
		{Role: ai.RoleUser, Text: "hi"},
		{Role: ai.RoleAssistant, Text: "hello"},
		{Role: ai.RoleAssistant, Text: "Sam here"},
	}
	if len(turns) != len(want) {
		t.Fatalf("turns = %+v", turns)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d = %+v, want %+v", i, turns[i], want[i])
		}
	}
}
