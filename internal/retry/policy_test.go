package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_NoJitter(t *testing.T) {
	t.Parallel()

	opts := Options{
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            false,
	}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{n: 0, want: 1 * time.Second},
		{n: 1, want: 2 * time.Second},
		{n: 2, want: 4 * time.Second},
		{n: 3, want: 8 * time.Second},
		{n: 4, want: 16 * time.Second},
		{n: 5, want: 30 * time.Second},
		{n: 60, want: 30 * time.Second},
		{n: 5000, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.n), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Delay(tt.n, opts))
		})
	}
}

func TestDelay_MonotonicAndCapped(t *testing.T) {
	t.Parallel()

	opts := Options{InitialDelay: 150 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffMultiplier: 1.7}

	prev := time.Duration(0)
	for n := 0; n < 40; n++ {
		d := Delay(n, opts)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, opts.MaxDelay, "attempt %d", n)
		prev = d
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	t.Parallel()

	opts := Options{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2, Jitter: true}

	for n := 0; n < 8; n++ {
		base := Delay(n, Options{InitialDelay: opts.InitialDelay, MaxDelay: opts.MaxDelay, BackoffMultiplier: 2})
		for i := 0; i < 50; i++ {
			d := Delay(n, opts)
			assert.GreaterOrEqual(t, d, base/2-time.Millisecond)
			assert.LessOrEqual(t, d, base)
			assert.Zero(t, d%time.Millisecond, "delay is floored to whole milliseconds")
		}
	}
}

func TestDelay_Defaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMaxDelay, Delay(100, Options{InitialDelay: time.Second}))
	assert.Equal(t, time.Duration(0), Delay(3, Options{}))
	assert.Equal(t, time.Second, Delay(-1, Options{InitialDelay: time.Second}))
}

func TestShouldRetryStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{409, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{599, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldRetryStatusCode(tt.code), "code %d", tt.code)
	}
}

type codeError struct{ code int }

func (e *codeError) Error() string       { return fmt.Sprintf("remote returned %d", e.code) }
func (e *codeError) HTTPStatusCode() int { return e.code }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o deadline" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "network message", err: errors.New("Network request failed"), want: true},
		{name: "timeout message", err: errors.New("request timeout"), want: true},
		{name: "connection message", err: errors.New("connection reset by peer"), want: true},
		{name: "rate limit message", err: errors.New("rate limit exceeded"), want: true},
		{name: "5xx in message", err: errors.New("server responded 503"), want: true},
		{name: "429 in message", err: errors.New("got 429 from upstream"), want: true},
		{name: "validation message", err: errors.New("name is required"), want: false},
		{name: "4xx in message", err: errors.New("server responded 404"), want: false},
		{name: "typed 500", err: &codeError{code: 500}, want: true},
		{name: "typed 429", err: &codeError{code: 429}, want: true},
		{name: "typed 400", err: &codeError{code: 400}, want: false},
		{name: "wrapped typed 422", err: fmt.Errorf("apply: %w", &codeError{code: 422}), want: false},
		{name: "net timeout", err: timeoutError{}, want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "econnrefused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
