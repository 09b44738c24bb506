package widget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Vovarama1992/pixode-support/internal/chat"
)

const (
	DefaultPollInterval = 3 * time.Second

	// pollRounds is how many polls a view makes before trying the live
	// subscription again.
	pollRounds = 10
)

type historySource interface {
	LoadHistory(ctx context.Context, sessionID string) ([]chat.Message, error)
	Subscribe(ctx context.Context, sessionID string) (Feed, error)
}

// view keeps a Transcript of one session current. It owns the live
// subscription for as long as it runs; stop releases it.
type view struct {
	src          historySource
	sessionID    string
	transcript   *Transcript
	logger       *slog.Logger
	pollInterval time.Duration
	notify       func()
	onMessage    func(chat.Message)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// start loads the history synchronously and follows the session in the
// background. A failed first load is retried by the follower.
func (v *view) start(ctx context.Context) {
	v.sync(ctx)
	ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.follow(ctx)
	}()
}

func (v *view) stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
}

// follow alternates between the live feed and polling. A dropped feed means
// events may have been lost, so history is reloaded before resubscribing.
func (v *view) follow(ctx context.Context) {
	for ctx.Err() == nil {
		feed, err := v.src.Subscribe(ctx, v.sessionID)
		if err != nil {
			v.logger.Warn("live updates unavailable, polling", "session_id", v.sessionID, "error", err)
			v.poll(ctx, pollRounds)
			continue
		}

		// Anything posted between the last load and the subscription.
		v.sync(ctx)
		v.consume(ctx, feed)
		feed.Close()

		if ctx.Err() != nil {
			return
		}
		v.logger.Info("live updates dropped, resyncing", "session_id", v.sessionID)
		v.poll(ctx, 1)
	}
}

func (v *view) consume(ctx context.Context, feed Feed) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed.Events():
			if !ok {
				return
			}
			msg, err := chat.DecodeMessage(ev)
			if err != nil {
				v.logger.Debug("ignoring event", "type", ev.Type, "error", err)
				continue
			}
			v.merge(msg)
		}
	}
}

func (v *view) poll(ctx context.Context, rounds int) {
	t := time.NewTicker(v.pollInterval)
	defer t.Stop()
	for i := 0; i < rounds; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.sync(ctx)
		}
	}
}

func (v *view) sync(ctx context.Context) error {
	history, err := v.src.LoadHistory(ctx, v.sessionID)
	if err != nil {
		v.logger.Warn("history reload failed", "session_id", v.sessionID, "error", err)
		return err
	}
	for _, m := range history {
		v.merge(m)
	}
	return nil
}

func (v *view) merge(msg chat.Message) {
	if msg.SessionID != v.sessionID || !v.transcript.Merge(msg) {
		return
	}
	if v.onMessage != nil {
		v.onMessage(msg)
	}
	if v.notify != nil {
		v.notify()
	}
}
