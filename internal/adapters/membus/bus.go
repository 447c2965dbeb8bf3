package membus

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/redworks/red/internal/ports"
)

// Bus is an in-memory ports.Bus for tests and single-process runs. It keeps
// the semantics of the redisbus adapter: lazy TTL expiry, per-channel publish
// order, at-most-once delivery with a bounded per-subscriber buffer.
type Bus struct {
	mu     sync.Mutex
	strs   map[string]string
	hashes map[string]map[string]string
	lists  map[string][]string
	sets   map[string]map[string]struct{}
	ttl    map[string]time.Time
	subs   map[string][]*subscription

	nowFunc func() time.Time
}

func New() *Bus {
	return &Bus{
		strs:    make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		ttl:     make(map[string]time.Time),
		subs:    make(map[string][]*subscription),
		nowFunc: time.Now,
	}
}

// expire drops key if its TTL has passed. Caller holds mu.
func (b *Bus) expire(key string) {
	if at, ok := b.ttl[key]; ok && b.nowFunc().After(at) {
		b.drop(key)
	}
}

func (b *Bus) drop(key string) {
	delete(b.strs, key)
	delete(b.hashes, key)
	delete(b.lists, key)
	delete(b.sets, key)
	delete(b.ttl, key)
}

func (b *Bus) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	v, ok := b.strs[key]
	if !ok {
		return "", ports.ErrNotFound
	}
	return v, nil
}

func (b *Bus) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strs[key] = value
	if ttl > 0 {
		b.ttl[key] = b.nowFunc().Add(ttl)
	} else {
		delete(b.ttl, key)
	}
	return nil
}

func (b *Bus) Del(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		b.drop(k)
	}
	return nil
}

func (b *Bus) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	if b.exists(key) {
		b.ttl[key] = b.nowFunc().Add(ttl)
	}
	return nil
}

// exists reports whether key holds any value. Caller holds mu.
func (b *Bus) exists(key string) bool {
	if _, ok := b.strs[key]; ok {
		return true
	}
	if _, ok := b.hashes[key]; ok {
		return true
	}
	if _, ok := b.lists[key]; ok {
		return true
	}
	if _, ok := b.sets[key]; ok {
		return true
	}
	return false
}

func (b *Bus) HGet(_ context.Context, key, field string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	v, ok := b.hashes[key][field]
	if !ok {
		return "", ports.ErrNotFound
	}
	return v, nil
}

func (b *Bus) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (b *Bus) HGetAll(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	out := make(map[string]string, len(b.hashes[key]))
	for f, v := range b.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (b *Bus) HDel(_ context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	for _, f := range fields {
		delete(b.hashes[key], f)
	}
	return nil
}

func (b *Bus) RPush(_ context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	b.lists[key] = append(b.lists[key], values...)
	return nil
}

func (b *Bus) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	l := b.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (b *Bus) LLen(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	return int64(len(b.lists[key])), nil
}

func (b *Bus) LTrim(_ context.Context, key string, start, stop int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	l := b.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 {
		return nil
	}
	if start > stop || start >= n {
		delete(b.lists, key)
		return nil
	}
	kept := make([]string, stop-start+1)
	copy(kept, l[start:stop+1])
	b.lists[key] = kept
	return nil
}

func (b *Bus) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	s, ok := b.sets[key]
	if !ok {
		s = make(map[string]struct{})
		b.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (b *Bus) SRem(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	for _, m := range members {
		delete(b.sets[key], m)
	}
	return nil
}

func (b *Bus) SMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(key)
	out := make([]string, 0, len(b.sets[key]))
	for m := range b.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Bus) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	match := func(key string) {
		b.expire(key)
		if !b.exists(key) {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	for k := range b.strs {
		match(k)
	}
	for k := range b.hashes {
		match(k)
	}
	for k := range b.lists {
		match(k)
	}
	for k := range b.sets {
		match(k)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Bus) Publish(_ context.Context, channel, message string) error {
	b.mu.Lock()
	targets := make([]*subscription, len(b.subs[channel]))
	copy(targets, b.subs[channel])
	b.mu.Unlock()
	for _, s := range targets {
		s.deliver(ports.BusMessage{Channel: channel, Payload: message})
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, channels ...string) ports.Subscription {
	sub := &subscription{
		bus:      b,
		channels: channels,
		out:      make(chan ports.BusMessage, 256),
	}
	b.mu.Lock()
	for _, ch := range channels {
		b.subs[ch] = append(b.subs[ch], sub)
	}
	b.mu.Unlock()
	return sub
}

func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()
	seen := make(map[*subscription]struct{})
	for _, list := range subs {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			_ = s.Close()
		}
	}
	return nil
}

type subscription struct {
	bus      *Bus
	channels []string

	mu     sync.Mutex
	closed bool
	out    chan ports.BusMessage
}

// deliver hands one message to the subscriber. A full buffer drops the
// message; delivery is at most once.
func (s *subscription) deliver(m ports.BusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- m:
	default:
	}
}

func (s *subscription) Messages() <-chan ports.BusMessage {
	return s.out
}

func (s *subscription) Close() error {
	s.bus.mu.Lock()
	for _, ch := range s.channels {
		list := s.bus.subs[ch]
		for i, candidate := range list {
			if candidate == s {
				s.bus.subs[ch] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.out)
	return nil
}
