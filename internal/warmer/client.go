package warmer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/clock/system"
	"github.com/JakeFAU/edge-cache-warmer/internal/metrics"
)

// Client wraps a single-attempt Fetcher with the retry policy.
type Client struct {
	fetcher Fetcher
	policy  *RetryPolicy
	limiter Limiter
	sleeper Sleeper
	logger  *zap.Logger
}

// NewClient constructs a Client. A nil policy uses the defaults, a nil limiter
// disables throttling and a nil sleeper uses the system clock.
func NewClient(fetcher Fetcher, policy *RetryPolicy, limiter Limiter, sleeper Sleeper, logger *zap.Logger) *Client {
	if policy == nil {
		policy = NewRetryPolicy()
	}
	if sleeper == nil {
		sleeper = system.Clock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		policy:  policy,
		limiter: limiter,
		sleeper: sleeper,
		logger:  logger,
	}
}

// Fetch runs the attempt sequence for one URL. Failures are reported in the
// outcome; Fetch itself never fails. HTTP responses, including 4xx and 5xx,
// are successful outcomes. A 5xx or 429 response is retried, and if the
// retries run out the last response is returned.
func (c *Client) Fetch(ctx context.Context, request FetchRequest) FetchOutcome {
	var (
		lastResp FetchResponse
		haveResp bool
		lastErr  error
		class    ErrorClass
		attempts int
	)
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, request.URL); err != nil {
				lastErr, class, haveResp = err, ErrorUnknown, false
				break
			}
		}
		attempts++
		resp, err := c.fetcher.Fetch(ctx, request)
		if err != nil {
			lastErr, haveResp = err, false
			if ctx.Err() != nil {
				class = ErrorUnknown
				break
			}
			class = ClassifyError(err)
		} else {
			lastResp, haveResp = resp, true
			class = ClassifyStatus(resp.StatusCode)
			if !class.Retryable() {
				return FetchOutcome{Response: resp, Attempts: attempts, ErrorClass: class}
			}
		}

		if !c.policy.ShouldRetry(attempt, class) {
			break
		}
		delay := c.policy.Backoff(attempt)
		metrics.ObserveRetry(request.Country, string(class))
		c.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.String("country", request.Country),
			zap.Int("attempt", attempts),
			zap.String("class", string(class)),
			zap.Duration("backoff", delay),
		)
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			if !haveResp {
				lastErr = err
			}
			break
		}
	}

	if haveResp {
		return FetchOutcome{Response: lastResp, Attempts: attempts, ErrorClass: class}
	}
	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return FetchOutcome{
		Attempts:     attempts,
		Errored:      true,
		ErrorClass:   class,
		ErrorMessage: fmt.Sprintf("fetch %s: %v", request.URL, lastErr),
	}
}
