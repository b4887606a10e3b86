// Package warmer defines the core types shared across the warming pipeline.
package warmer

import (
	"net/http"
	"time"
)

// CacheStatus is the classified origin cache outcome of one warm request.
type CacheStatus string

// Cache outcomes recorded per URL.
const (
	CacheHit     CacheStatus = "hit"
	CacheMiss    CacheStatus = "miss"
	CacheUnknown CacheStatus = "unknown"
)

// UnknownSignal is recorded for any cache header that is absent or malformed.
const UnknownSignal = "unknown"

// WarmResult is produced once per URL after its attempt sequence ends.
type WarmResult struct {
	URL             string
	Country         string
	HTTPStatus      int
	CacheStatus     CacheStatus
	OriginCache     string
	EdgeCacheStatus string
	EdgeRayID       string
	EdgeLocation    string
	Latency         time.Duration
	Attempts        int
	Errored         bool
	ErrorClass      ErrorClass
	ErrorMessage    string
}

// NeedsPurge reports whether the URL must be purged after warming.
func (r WarmResult) NeedsPurge() bool {
	return r.CacheStatus != CacheHit
}

// FetchRequest describes a single GET attempt.
type FetchRequest struct {
	URL     string
	Country string
}

// FetchResponse is returned by a Fetcher for any completed HTTP exchange,
// including 4xx and 5xx responses.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FetchOutcome is the final result of a retried fetch.
type FetchOutcome struct {
	Response     FetchResponse
	Attempts     int
	Errored      bool
	ErrorClass   ErrorClass
	ErrorMessage string
}
