package redisbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redworks/red/internal/ports"
)

// Bus implements ports.Bus on a Redis connection pool. Every Subscribe call
// owns an independent PubSub connection, so one stalled consumer cannot
// block command traffic.
type Bus struct {
	client *redis.Client
}

func New(url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Bus{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client; the caller keeps ownership.
func NewWithClient(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) Get(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ports.ErrNotFound
	}
	return v, err
}

func (b *Bus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *Bus) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *Bus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *Bus) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := b.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ports.ErrNotFound
	}
	return v, err
}

func (b *Bus) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.client.HSet(ctx, key, fields).Err()
}

func (b *Bus) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

func (b *Bus) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.client.HDel(ctx, key, fields...).Err()
}

func (b *Bus) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return b.client.RPush(ctx, key, args...).Err()
}

func (b *Bus) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return b.client.LRange(ctx, key, start, stop).Result()
}

func (b *Bus) LLen(ctx context.Context, key string) (int64, error) {
	return b.client.LLen(ctx, key).Result()
}

func (b *Bus) LTrim(ctx context.Context, key string, start, stop int64) error {
	return b.client.LTrim(ctx, key, start, stop).Err()
}

func (b *Bus) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SAdd(ctx, key, args...).Err()
}

func (b *Bus) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SRem(ctx, key, args...).Err()
}

func (b *Bus) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.client.SMembers(ctx, key).Result()
}

func (b *Bus) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		found  []string
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		found = append(found, keys...)
		if next == 0 {
			return found, nil
		}
		cursor = next
	}
}

func (b *Bus) Publish(ctx context.Context, channel, message string) error {
	return b.client.Publish(ctx, channel, message).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) ports.Subscription {
	ps := b.client.Subscribe(ctx, channels...)
	sub := &subscription{ps: ps, out: make(chan ports.BusMessage, 64)}
	go sub.pump()
	return sub
}

func (b *Bus) Close() error {
	return b.client.Close()
}

type subscription struct {
	ps  *redis.PubSub
	out chan ports.BusMessage
}

func (s *subscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- ports.BusMessage{Channel: msg.Channel, Payload: msg.Payload}
	}
}

func (s *subscription) Messages() <-chan ports.BusMessage {
	return s.out
}

func (s *subscription) Close() error {
	return s.ps.Close()
}
