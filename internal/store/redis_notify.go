package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joescharf/crm/internal/models"
)

// RedisConfig holds connection settings for RedisNotifier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // channel prefix, default "crm:changes"
}

// RedisNotifier publishes change signals on Redis pub/sub so that every
// process sharing a database (CLI invocations, the API server) sees the
// writes of the others.
type RedisNotifier struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	closed bool
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "crm:changes"
	}
	return &RedisNotifier{client: client, prefix: prefix}, nil
}

func (n *RedisNotifier) channel(ownerID string, kind models.Kind) string {
	return n.prefix + ":" + changeKey(ownerID, kind)
}

func (n *RedisNotifier) Notify(ctx context.Context, ownerID string, kind models.Kind) error {
	if err := n.client.Publish(ctx, n.channel(ownerID, kind), time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Listen(ctx context.Context, ownerID string, kind models.Kind) (<-chan struct{}, func(), error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil, nil, fmt.Errorf("redis notifier closed")
	}

	pubsub := n.client.Subscribe(ctx, n.channel(ownerID, kind))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to changes: %w", err)
	}

	out := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() { _ = pubsub.Close() })
	}
	return out, stop, nil
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return n.client.Close()
}
