package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrExhausted wraps the last failure once every attempt was used.
	ErrExhausted = errors.New("retry: attempts exhausted")
	// ErrPermanent wraps a failure that was not worth retrying.
	ErrPermanent = errors.New("retry: non-retryable error")
)

// Config is the retry policy shared by the search executor, the summarizer
// and the publishers.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to Jitter*BaseDelay of random delay to each wait.
	Jitter float64
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.5,
	}
}

// Delay returns the wait before attempt n+1 (n counts from zero).
func (c Config) Delay(n int) time.Duration {
	delay := c.BaseDelay * time.Duration(1<<n)
	if c.MaxDelay > 0 && (delay > c.MaxDelay || delay <= 0) {
		delay = c.MaxDelay
	}
	if c.Jitter > 0 && c.BaseDelay > 0 {
		if span := int64(float64(c.BaseDelay) * c.Jitter); span > 0 {
			delay += time.Duration(rand.Int63n(span))
		}
	}
	return delay
}

// WithBackoff executes a function with exponential backoff retry logic
func WithBackoff(ctx context.Context, config Config, operation func(context.Context) error) error {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !IsRetryable(err) {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}

		if attempt == attempts-1 {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.Delay(attempt)):
		}
	}

	return nil
}

// IsRetryable determines if an error is worth retrying. Errors that
// classify themselves through a Transient method decide on their own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var classified interface{ Transient() bool }
	if errors.As(err, &classified) {
		return classified.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Network-level errors are generally retryable
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// Only 5xx server errors and 429 rate limiting should be retried
	if strings.Contains(errStr, "status 5") ||
		strings.Contains(errStr, "status 429") {
		return true
	}

	if strings.Contains(errStr, "status 4") {
		return false
	}

	// For unknown errors, err on the side of caution and retry
	return true
}

// HTTPStatusRetryable checks if an HTTP status code is retryable
func HTTPStatusRetryable(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout
}
