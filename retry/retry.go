// Package retry bounds transient upstream failures. Only rate limiting
// (HTTP 429) is considered transient; permanent errors such as 401/404 fail
// on the first attempt so no retry budget is spent on them.
//
// The policy is read-only by design: mutation commits must never pass
// through here, since replaying a non-idempotent call whose response was
// lost risks double submission.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config tunes the retry loop. Zero values mean defaults.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt. 0 => 3.
	MaxRetries int
	// InitialDelay is the first backoff delay; each retry doubles it. 0 => 1s.
	InitialDelay time.Duration
	// OnRetry is called before each backoff wait with the 1-based retry
	// attempt, the computed delay, and the error that triggered it. This is
	// the observability side channel; nothing is reported on the fail-fast
	// path.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// statusCoder is the shape of transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// RateLimited reports whether err is a rate-limit signal: a transport error
// with status 429, or any error whose message mentions it.
func RateLimited(err error) bool {
	if err == nil {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() == http.StatusTooManyRequests
	}
	return strings.Contains(err.Error(), "429")
}

// Do runs fn, retrying rate-limited failures with exponential backoff
// (InitialDelay * 2^attempt) up to MaxRetries times. Any other failure is
// returned immediately. After exhaustion the last error is returned. Backoff
// waits respect ctx cancellation.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !RateLimited(err) {
			return zero, err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}

		wait := delay << attempt
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}
