package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "pixode:support:"

// RedisBridge shares events between server instances. Local publishes go to
// the local hub and to Redis; events read back from Redis are delivered to
// the local hub unless this instance produced them.
type RedisBridge struct {
	hub    *Hub
	client *redis.Client
	origin string
	logger *slog.Logger
}

// NewRedisClient connects to url and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}
	return client, nil
}

func NewRedisBridge(hub *Hub, client *redis.Client, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{
		hub:    hub,
		client: client,
		origin: uuid.NewString(),
		logger: logger,
	}
}

func (b *RedisBridge) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return b.hub.Subscribe(ctx, topic)
}

// Publish delivers locally first so local viewers never wait on Redis.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	b.hub.Deliver(ev)

	ev.Origin = b.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannelPrefix+ev.Topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run relays remote events into the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	b.logger.Info("redis bridge started", "origin", b.origin)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("redis bridge: bad payload", "channel", msg.Channel, "error", err)
				continue
			}
			if ev.Origin == b.origin {
				continue
			}
			b.hub.Deliver(ev)
		}
	}
}
