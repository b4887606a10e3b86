package warmer

import (
	"context"
	"time"
)

// Fetcher performs one HTTP GET attempt. Transport failures are returned as
// errors; any HTTP status is a response.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Recorder receives every WarmResult produced by the pool. Implementations
// must be safe for concurrent use.
type Recorder interface {
	Record(result WarmResult)
}

// Limiter throttles outbound requests per URL host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper pauses for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
