package widget

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Vovarama1992/pixode-support/internal/chat"
	"github.com/Vovarama1992/pixode-support/internal/identity"
)

func newServer(t *testing.T) (*httptest.Server, chat.Service, *identity.JWTResolver) {
	t.Helper()
	svc := newChat(t)
	resolver := identity.NewJWTResolver("widget-test", time.Hour)

	r := chi.NewRouter()
	r.Use(identity.Middleware(resolver, nil))
	chat.RegisterRoutes(r, chat.NewHandler(svc, nil))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, resolver
}

func agentClient(t *testing.T, srv *httptest.Server, resolver *identity.JWTResolver, id, name string) *Client {
	t.Helper()
	tok, err := resolver.Issue(id, name, identity.RoleEmployee)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return NewClient(srv.URL, tok)
}

func TestClientErrors(t *testing.T) {
	srv, _, resolver := newServer(t)
	ctx := context.Background()
	anon := NewClient(srv.URL+"/", "")

	if _, err := anon.ResumeSession(ctx, uuid.NewString()); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("resume unknown = %v", err)
	}
	if _, err := anon.CreateSession(ctx, "not an email"); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("bad contact = %v", err)
	}
	if _, err := anon.ListOpenSessions(ctx); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("anonymous queue = %v", err)
	}

	sess, err := anon.CreateSession(ctx, "ivy@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sam := agentClient(t, srv, resolver, "a1", "Sam")
	kim := agentClient(t, srv, resolver, "a2", "Kim")
	if _, err := sam.ClaimSession(ctx, sess.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = kim.ClaimSession(ctx, sess.ID)
	var conflict *chat.ClaimConflictError
	if !errors.As(err, &conflict) || conflict.Session.AssignedAgentName != "Sam" {
		t.Fatalf("lost claim = %v", err)
	}

	if _, err := sam.CloseSession(ctx, sess.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := anon.PostMessage(ctx, sess.ID, "hello?", ""); !errors.Is(err, chat.ErrSessionClosed) {
		t.Fatalf("post to closed = %v", err)
	}

	down := NewClient("http://127.0.0.1:1", "")
	if _, err := down.ResumeSession(ctx, sess.ID); !errors.Is(err, chat.ErrUpstreamUnavailable) {
		t.Fatalf("unreachable server = %v", err)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		body string
		want error
	}{
		{http.StatusBadRequest, `{"error":"validation error: message text is empty"}`, chat.ErrValidation},
		{http.StatusNotFound, `{"error":"session not found"}`, chat.ErrNotFound},
		{http.StatusForbidden, `{"error":"agent role required"}`, chat.ErrForbidden},
		{http.StatusConflict, `{"error":"session closed"}`, chat.ErrSessionClosed},
		{http.StatusConflict, `{"error":"session already assigned"}`, chat.ErrAlreadyAssigned},
		{http.StatusServiceUnavailable, `{"error":"Service Unavailable"}`, chat.ErrUpstreamUnavailable},
		{http.StatusBadGateway, `<html>bad gateway</html>`, chat.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		if err := statusError(tt.code, []byte(tt.body)); !errors.Is(err, tt.want) {
			t.Errorf("statusError(%d, %s) = %v, want %v", tt.code, tt.body, err, tt.want)
		}
	}
}

func TestWidgetOverHTTP(t *testing.T) {
	srv, _, resolver := newServer(t)
	ctx := context.Background()

	c := newCustomer(t, NewClient(srv.URL, ""), &MemoryTokenStore{})
	sess, err := c.SubmitContact(ctx, "jack@example.com")
	if err != nil {
		t.Fatalf("submit contact: %v", err)
	}
	if _, err := c.Send(ctx, "what does a landing page cost?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	sam := agentClient(t, srv, resolver, "a1", "Sam")
	d := NewDashboard(sam, nil)
	t.Cleanup(d.Stop)
	if err := d.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if q := d.Queue(); len(q) != 1 || q[0].ID != sess.ID {
		t.Fatalf("queue = %+v", q)
	}

	if _, err := d.Claim(ctx, sess.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	conv, err := d.Open(ctx, sess.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conv.Close()
	if !hasText(conv.Transcript(), "what does a landing page cost?") {
		t.Fatalf("agent transcript = %+v", conv.Transcript())
	}
	if _, err := conv.Reply(ctx, "Depends on scope, let's talk"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	waitFor(t, "agent reply over websocket", func() bool {
		return hasText(c.Transcript(), "Depends on scope, let's talk")
	})
	waitFor(t, "assigned status", func() bool { return c.Session().Status == chat.StatusAssigned })
	if w := d.Worklist(); len(w) != 1 || w[0].ID != sess.ID {
		t.Fatalf("worklist = %+v", w)
	}
}
