// Package search provides discovery.SearchClient backends: an LLM-backed
// client and an HTTP client for a hosted search service.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/dshills/aidgraph/graph/model"
)

// RetryPolicy retries transient backend failures with exponential backoff
// and jitter. Retries happen inside one Search call, so the graph still sees
// a single external call per node execution.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// BaseDelay is doubled on every retry, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether an error is worth another attempt. Nil uses
	// IsRecoverable.
	Retryable func(error) bool

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRecoverable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, computeBackoff(attempt-1, p.BaseDelay, p.MaxDelay, rng)); serr != nil {
				return errors.Join(err, serr)
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// computeBackoff returns min(base*2^attempt, maxDelay) plus up to base of
// jitter.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << attempt
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	return delay + time.Duration(rng.Int63n(int64(base)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StatusError is a non-2xx response from a search service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service returned status %d: %s", e.StatusCode, e.Body)
}

// IsRecoverable reports whether e is worth retrying.
func (e *StatusError) IsRecoverable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRecoverable reports whether err is transient: rate limits, server
// errors, timeouts and dropped connections. Cancellation never is.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var recoverable interface{ IsRecoverable() bool }
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	var provider *model.ProviderError
	if errors.As(err, &provider) {
		return provider.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		if IsRecoverable(urlErr.Err) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"service unavailable",
		"bad gateway",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
