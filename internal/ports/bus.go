package ports

import (
	"context"
	"time"
)

// BusMessage is one published message received by a subscription.
type BusMessage struct {
	Channel string
	Payload string
}

// Subscription is an independent pub/sub consumer. Closing it releases the
// underlying connection; the Messages channel is closed afterwards.
type Subscription interface {
	Messages() <-chan BusMessage
	Close() error
}

// Bus is the shared-state and pub/sub fabric. All operations are
// best-effort: callers log and continue on failure unless stated otherwise.
// Get and HGet return ErrNotFound for missing keys or fields.
type Bus interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Keys(ctx context.Context, pattern string) ([]string, error)

	// Publish delivers message to current subscribers of channel with
	// at-most-once semantics; publish order is preserved per channel.
	Publish(ctx context.Context, channel, message string) error

	// Subscribe returns an independent subscription for the given channels.
	Subscribe(ctx context.Context, channels ...string) Subscription

	Close() error
}
