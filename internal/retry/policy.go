// Package retry implements the backoff policy used when replaying queued mutations:
// delay computation, transient error classification and a bounded retry loop.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultInitialDelay is the delay before the first retry
	DefaultInitialDelay = time.Second

	// DefaultMaxDelay caps every computed delay
	DefaultMaxDelay = 30 * time.Second

	// DefaultBackoffMultiplier is the growth factor between attempts
	DefaultBackoffMultiplier = 2.0

	// DefaultMaxAttempts is the number of attempts made by Execute when unset
	DefaultMaxAttempts = 3
)

// Options configures delay computation and the retry loop
type Options struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	MaxAttempts       int

	// ShouldRetry decides whether a failed attempt is retried. When nil every error is retried.
	ShouldRetry func(error) bool
}

// DefaultOptions returns the default policy with jitter enabled
func DefaultOptions() Options {
	return Options{
		InitialDelay:      DefaultInitialDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		Jitter:            true,
		MaxAttempts:       DefaultMaxAttempts,
	}
}

func (o Options) withDefaults() Options {
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Delay returns the wait before retry attempt n (0-based):
// min(initialDelay * multiplier^n, maxDelay), optionally scaled by a uniform
// factor in [0.5, 1.0], floored to whole milliseconds.
func Delay(n int, opts Options) time.Duration {
	opts = opts.withDefaults()
	if n < 0 {
		n = 0
	}

	initialMs := float64(opts.InitialDelay) / float64(time.Millisecond)
	maxMs := float64(opts.MaxDelay) / float64(time.Millisecond)

	delayMs := initialMs * math.Pow(opts.BackoffMultiplier, float64(n))
	if math.IsInf(delayMs, 0) || math.IsNaN(delayMs) || delayMs > maxMs {
		delayMs = maxMs
	}

	if opts.Jitter {
		//nolint:gosec // G404: Non-cryptographic randomness is sufficient for backoff jitter
		delayMs *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(math.Floor(delayMs)) * time.Millisecond
}

// ShouldRetryStatusCode reports whether an HTTP status code signals a transient failure
func ShouldRetryStatusCode(code int) bool {
	return code >= 500 || code == 429
}

// statusCoder is implemented by transport errors that carry an HTTP status code
type statusCoder interface {
	HTTPStatusCode() int
}

var (
	transientMarkers = []string{
		"network",
		"timeout",
		"timed out",
		"connection",
		"econnrefused",
		"econnreset",
		"enotfound",
		"rate limit",
		"too many requests",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"temporarily unavailable",
	}

	transientStatusPattern = regexp.MustCompile(`\b(5\d{2}|429)\b`)
)

// IsRetryableError classifies err as transient (network, timeout, connection,
// rate limit, 5xx) or permanent. Typed errors are inspected before the message.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return ShouldRetryStatusCode(sc.HTTPStatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return transientStatusPattern.MatchString(msg)
}
