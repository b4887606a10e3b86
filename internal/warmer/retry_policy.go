package warmer

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrorClass buckets a failed attempt for retry decisions.
type ErrorClass string

// Attempt failure classes. Only the first four are retryable.
const (
	ErrorNone           ErrorClass = ""
	ErrorNetworkTimeout ErrorClass = "network_timeout"
	ErrorNetworkReset   ErrorClass = "network_reset"
	ErrorServer5xx      ErrorClass = "server_error_5xx"
	ErrorRateLimited429 ErrorClass = "rate_limited_429"
	ErrorClient4xx      ErrorClass = "client_error_4xx"
	ErrorUnknown        ErrorClass = "unknown_failure"
)

// Retryable reports whether the class may be retried at all.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorNetworkTimeout, ErrorNetworkReset, ErrorServer5xx, ErrorRateLimited429:
		return true
	default:
		return false
	}
}

// Retry policy defaults.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 10 * time.Second
	DefaultJitter      = 300 * time.Millisecond
)

// RetryPolicy decides whether an attempt should be retried and how long to
// wait before the next one.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxJitter  time.Duration
	jitter     func(limit time.Duration) time.Duration
}

// RetryOption customizes a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) RetryOption {
	return func(p *RetryPolicy) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the exponential base, the cap and the jitter ceiling.
func WithBackoff(base, maxDelay, jitter time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		if base > 0 {
			p.baseDelay = base
		}
		if maxDelay > 0 {
			p.maxDelay = maxDelay
		}
		if jitter >= 0 {
			p.maxJitter = jitter
		}
	}
}

// WithJitterSource replaces the random jitter generator.
func WithJitterSource(fn func(limit time.Duration) time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		if fn != nil {
			p.jitter = fn
		}
	}
}

// NewRetryPolicy builds a policy with the warmer defaults.
func NewRetryPolicy(opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBackoffBase,
		maxDelay:   DefaultBackoffCap,
		maxJitter:  DefaultJitter,
		jitter:     randomJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxRetries returns the configured retry budget.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry reports whether attempt (zero-based) may be followed by another.
func ShouldRetry(attempt, maxAttempts int, class ErrorClass) bool {
	if attempt >= maxAttempts {
		return false
	}
	return class.Retryable()
}

// ShouldRetry applies the package-level rule with the policy's budget.
func (p *RetryPolicy) ShouldRetry(attempt int, class ErrorClass) bool {
	return ShouldRetry(attempt, p.maxRetries, class)
}

// Backoff returns the wait before the retry that follows attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay) + p.jitter(p.maxJitter)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// ClassifyError maps a transport error to an ErrorClass.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorNetworkTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return ErrorNetworkReset
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsTimeout:
			return ErrorNetworkTimeout
		case dnsErr.IsTemporary:
			return ErrorNetworkReset
		default:
			return ErrorUnknown
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorNetworkTimeout
	}
	return ErrorUnknown
}

// ClassifyStatus maps an HTTP status code to an ErrorClass. Success and
// redirect codes map to ErrorNone.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorRateLimited429
	case code >= 500:
		return ErrorServer5xx
	case code >= 400:
		return ErrorClient4xx
	default:
		return ErrorNone
	}
}
