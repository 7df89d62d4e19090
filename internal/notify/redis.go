package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes notifications as JSON on a per-user pub/sub channel
// named "<prefix>:<user id>".
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier creates a RedisNotifier from a redis:// URL.
func NewRedisNotifier(url, prefix string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisNotifierWithClient(redis.NewClient(opts), prefix), nil
}

// NewRedisNotifierWithClient creates a RedisNotifier over an existing client.
func NewRedisNotifierWithClient(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "scry:notifications"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel returns the channel a user's notifications are published on.
func (r *RedisNotifier) Channel(n Notification) string {
	return r.prefix + ":" + n.UserID.String()
}

// Notify implements Notifier.
func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(n), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisNotifier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
