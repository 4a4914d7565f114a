// Package backoff decides when a failed chunk send is retried and how long to wait.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/bitrise-io/go-resumable/transport"
)

// Policy is an exponential backoff with jitter.
type Policy struct {
	// MaxTries is the number of attempts per chunk, the first one included.
	MaxTries int
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps every wait, server hints included.
	MaxDelay time.Duration
	// Jitter is the upper bound of the random time added to each wait.
	Jitter time.Duration
	// NoSleep turns every wait into a context check. Used by tests.
	NoSleep bool
}

// Default returns the default policy.
func Default() Policy {
	return Policy{
		MaxTries:     3,
		InitialDelay: time.Second,
		MaxDelay:     32 * time.Second,
		Jitter:       time.Second,
	}
}

// ShouldRetry reports whether the outcome of the given attempt (1 based) may be retried.
// Only retryable failures are, and only while the attempt budget lasts.
func (p Policy) ShouldRetry(outcome transport.Outcome, attempt int) bool {
	if _, ok := outcome.(transport.RetryableFailure); !ok {
		return false
	}
	return attempt < p.MaxTries
}

// DelayFor returns the wait after the given failed attempt (1 based).
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = math.MaxInt64
	}

	delay := retryablehttp.DefaultBackoff(p.InitialDelay, maxDelay, attempt-1, nil)
	if p.Jitter > 0 {
		delay += randDuration(p.Jitter)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Delay returns the wait before retrying outcome. The server's Retry-After hint wins when present.
func (p Policy) Delay(outcome transport.Outcome, attempt int) time.Duration {
	if failure, ok := outcome.(transport.RetryableFailure); ok && failure.RetryAfter > 0 {
		if p.MaxDelay > 0 && failure.RetryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return failure.RetryAfter
	}
	return p.DelayFor(attempt)
}

// Wait blocks for d or until ctx is done, in which case the context error is returned.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.NoSleep || d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	rnd   = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMu sync.Mutex
)

func randDuration(n time.Duration) time.Duration {
	rndMu.Lock()
	defer rndMu.Unlock()
	return time.Duration(rnd.Int63n(int64(n)))
}
