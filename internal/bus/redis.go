// Package bus bridges the gateway's in-memory channel fabric to an external
// Redis-compatible pub/sub bus.
//
// Purpose:
// - Publish every decoded client frame onto "from:<channel>:<event>" so
//   external systems can observe gateway traffic
// - Optionally subscribe to "<channel>:<event>" topics and feed whatever
//   is published there back into the gateway as broadcast frames
//
// Implementation Details:
// - Uses go-redis client with connection pooling
// - 3 retry attempts with 8-512ms exponential backoff
// - 5-second dial timeout, 3-second read/write timeouts
// - When the bus is disabled (Enabled: false), Publish is a no-op and
//   Subscribe returns an error
//
// Thread Safety:
// - Redis client is thread-safe; Publish and Subscribe are safe for
//   concurrent use.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamspace-dev/phoenixbridge/internal/logger"
)

// Config holds external bus connection settings.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// Bus wraps a pool-configured Redis client scoped to publish/subscribe.
type Bus struct {
	client *redis.Client
}

// New creates a Bus. When config.Enabled is false, the returned Bus has a
// nil client: Publish and Close are no-ops and Subscribe returns an error —
// the gateway runs fine with no external bus attached; the bridge is
// optional plumbing, not a hard dependency of the channel fabric.
func New(config Config) (*Bus, error) {
	if !config.Enabled {
		return &Bus{client: nil}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: failed to ping redis: %w", err)
	}

	logger.Bus().Info().Str("addr", config.Host+":"+config.Port).Msg("connected to external bus")
	return &Bus{client: client}, nil
}

// Close closes the underlying Redis connection.
func (b *Bus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// IsEnabled reports whether the bus has a live backing client.
func (b *Bus) IsEnabled() bool {
	return b.client != nil
}

// OutboundTopic builds the "from:<channel>:<event>" topic every decoded
// client frame is unconditionally published to.
func OutboundTopic(channelName, event string) string {
	return fmt.Sprintf("from:%s:%s", channelName, event)
}

// InboundTopic builds the "<channel>:<event>" topic an external producer
// publishes to in order to have the gateway rebroadcast into a channel.
func InboundTopic(channelName, event string) string {
	return fmt.Sprintf("%s:%s", channelName, event)
}

// Publish writes payload to topic. A disabled bus silently drops the
// publish — the caller's own delivery to local subscribers is unaffected.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.IsEnabled() {
		return nil
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("bus: failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscription is a single topic subscription; call Channel to read
// incoming payloads and Close to release the underlying connection.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription to topic. Returns an error if the bus is
// disabled — subscribing with nothing to subscribe to is a caller bug, not
// a recoverable no-op like Publish.
func (b *Bus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if !b.IsEnabled() {
		return nil, fmt.Errorf("bus: not enabled")
	}
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: failed to subscribe to %s: %w", topic, err)
	}
	return &Subscription{pubsub: ps}, nil
}

// Channel returns the stream of incoming payloads for this subscription.
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

// Close releases the subscription's connection.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
