// Package retry runs operations with exponential backoff, retrying only
// errors that look like transient network conditions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	MaxDelay          = time.Hour
)

// Policy configures retry behavior. MaxRetries counts retries after the
// initial attempt, so a call makes at most MaxRetries+1 attempts.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep overrides the cooperative wait between attempts. Tests use it to
	// observe delays without waiting.
	Sleep func(ctx context.Context, delay time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// ExhaustedError is returned after every attempt failed with a recoverable error.
type ExhaustedError struct {
	Attempts  int
	Elapsed   time.Duration
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.Elapsed, e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// StatusError carries an upstream HTTP status so callers can classify it.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Service, e.StatusCode, e.Message)
}

// Delay returns the wait before retry n (0-indexed): base * 2^n, capped at
// MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay > MaxDelay/2 {
			return MaxDelay
		}
		delay *= 2
	}
	return min(delay, MaxDelay)
}

// Do runs fn until it succeeds, fails with a non-recoverable error, or the
// retry budget runs out.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	_, err := WithBackoff(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithBackoff is Do for operations that return a value.
func WithBackoff[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !IsRecoverable(err) {
			return zero, err
		}
		if attempt == policy.MaxRetries {
			break
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{
		Attempts:  policy.MaxRetries + 1,
		Elapsed:   time.Since(start),
		LastError: lastErr,
	}
}

// IsRecoverable reports whether err is a transient network-class failure.
// Caller cancellation is never recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range recoverableMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

var recoverableMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"econnreset",
	"econnrefused",
	"etimedout",
	"enotfound",
	"eai_again",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"temporar",
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
