package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisBridgeRelaysBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newBridge := func() *RedisBridge {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		b := NewRedisBridge(NewHub(nil), client, nil)
		go b.Run(ctx)
		return b
	}
	a := newBridge()
	b := newBridge()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumPat() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("bridges never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	subA, _ := a.Subscribe(ctx, "session:x")
	subB, _ := b.Subscribe(ctx, "session:x")

	if err := a.Publish(ctx, Event{Type: EventMessageCreated, Topic: "session:x", Payload: []byte(`{"id":"1"}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if ev := recv(t, subB); string(ev.Payload) != `{"id":"1"}` {
		t.Fatalf("remote subscriber got %s", ev.Payload)
	}
	if ev := recv(t, subA); ev.Topic != "session:x" {
		t.Fatalf("local subscriber got %+v", ev)
	}

	// The echo from Redis must not reach the publishing instance twice.
	select {
	case ev := <-subA.Events():
		t.Fatalf("duplicate local delivery: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
