package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// retryPolicy drives the backoff loop around one embeddings request.
type retryPolicy struct {
	initial  time.Duration
	ceiling  time.Duration
	attempts int // additional tries after the first
	factor   float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		initial:  time.Second,
		ceiling:  30 * time.Second,
		attempts: 3,
		factor:   2.0,
	}
}

// do runs fn until it returns a 2xx status, a non-retryable outcome, or
// the attempts are spent.
func (p retryPolicy) do(ctx context.Context, fn func() (int, error)) error {
	var lastErr error
	var lastStatus int
	interval := p.initial

	for attempt := 0; attempt <= p.attempts; attempt++ {
		status, err := fn()
		lastStatus = status
		lastErr = err

		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err != nil && !retryableError(err) {
			return fmt.Errorf("embeddings request failed: %w", err)
		}
		if err == nil && !retryableStatus(status) {
			return fmt.Errorf("embeddings request rejected with status %d", status)
		}
		if attempt == p.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * p.factor)
		if interval > p.ceiling {
			interval = p.ceiling
		}
	}

	if lastErr != nil {
		return fmt.Errorf("embeddings request failed after %d tries: %w", p.attempts+1, lastErr)
	}
	return fmt.Errorf("embeddings request failed after %d tries, last status %d", p.attempts+1, lastStatus)
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status < 600:
		return true
	}
	return false
}

// retryableError reports whether a transport failure is worth another
// try. Context cancellation and definitive DNS misses are not.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
