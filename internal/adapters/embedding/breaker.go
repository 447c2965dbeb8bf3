package embedding

import (
	"errors"
	"sync"
	"time"
)

var errEndpointSuspended = errors.New("embedding endpoint suspended after repeated failures")

// breaker suspends calls to the embeddings endpoint once consecutive
// failures reach the threshold. After the cooldown the next call goes
// through as a probe; its success closes the circuit again.
type breaker struct {
	mu        sync.Mutex
	failures  int
	lastError time.Time

	threshold int
	cooldown  time.Duration

	nowFunc func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}
}

func (b *breaker) call(fn func() error) error {
	b.mu.Lock()
	if b.failures >= b.threshold && b.nowFunc().Sub(b.lastError) < b.cooldown {
		b.mu.Unlock()
		return errEndpointSuspended
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastError = b.nowFunc()
		return err
	}
	b.failures = 0
	return nil
}
