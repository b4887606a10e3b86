package warmer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allClasses = []ErrorClass{
	ErrorNetworkTimeout,
	ErrorNetworkReset,
	ErrorServer5xx,
	ErrorRateLimited429,
	ErrorClient4xx,
	ErrorUnknown,
}

func TestShouldRetryStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	for _, class := range allClasses {
		require.False(t, ShouldRetry(3, 3, class), "class %s at max", class)
		require.False(t, ShouldRetry(4, 3, class), "class %s past max", class)
	}
}

func TestShouldRetryByClass(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 3; attempt++ {
		require.True(t, ShouldRetry(attempt, 3, ErrorNetworkTimeout))
		require.True(t, ShouldRetry(attempt, 3, ErrorNetworkReset))
		require.True(t, ShouldRetry(attempt, 3, ErrorServer5xx))
		require.True(t, ShouldRetry(attempt, 3, ErrorRateLimited429))
		require.False(t, ShouldRetry(attempt, 3, ErrorClient4xx))
		require.False(t, ShouldRetry(attempt, 3, ErrorUnknown))
	}
}

func TestBackoffMonotonicUntilCap(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(WithJitterSource(func(time.Duration) time.Duration { return 0 }))
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	prev := time.Duration(0)
	for n, expected := range want {
		got := p.Backoff(n)
		require.Equal(t, expected, got, "attempt %d", n)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestBackoffBoundedByCapPlusJitter(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()
	for n := 0; n < 20; n++ {
		for i := 0; i < 25; i++ {
			got := p.Backoff(n)
			require.LessOrEqual(t, got, DefaultBackoffCap+DefaultJitter)
			require.GreaterOrEqual(t, got, time.Duration(0))
		}
	}
}

func TestBackoffCustomSettings(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(
		WithMaxRetries(1),
		WithBackoff(10*time.Millisecond, 15*time.Millisecond, 0),
	)
	require.Equal(t, 1, p.MaxRetries())
	require.Equal(t, 10*time.Millisecond, p.Backoff(0))
	require.Equal(t, 15*time.Millisecond, p.Backoff(1))
	require.True(t, p.ShouldRetry(0, ErrorServer5xx))
	require.False(t, p.ShouldRetry(1, ErrorServer5xx))
}

func TestRandomJitterRange(t *testing.T) {
	t.Parallel()

	require.Zero(t, randomJitter(0))
	for i := 0; i < 100; i++ {
		j := randomJitter(300 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.LessOrEqual(t, j, 300*time.Millisecond)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorNone},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), ErrorNetworkTimeout},
		{"net timeout", &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}, ErrorNetworkTimeout},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrorNetworkReset},
		{"aborted", fmt.Errorf("dial: %w", syscall.ECONNABORTED), ErrorNetworkReset},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "x", IsTimeout: true}, ErrorNetworkTimeout},
		{"dns temporary", &net.DNSError{Err: "server misbehaving", Name: "x", IsTemporary: true}, ErrorNetworkReset},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, ErrorUnknown},
		{"canceled", context.Canceled, ErrorUnknown},
		{"other", errors.New("boom"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrorNone, ClassifyStatus(http.StatusOK))
	require.Equal(t, ErrorNone, ClassifyStatus(http.StatusMovedPermanently))
	require.Equal(t, ErrorClient4xx, ClassifyStatus(http.StatusNotFound))
	require.Equal(t, ErrorRateLimited429, ClassifyStatus(http.StatusTooManyRequests))
	require.Equal(t, ErrorServer5xx, ClassifyStatus(http.StatusBadGateway))
}
