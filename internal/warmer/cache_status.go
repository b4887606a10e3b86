package warmer

import (
	"net/http"
	"strings"
)

// Response headers inspected after each warm request.
const (
	HeaderEdgeCache   = "Cf-Cache-Status"
	HeaderOriginCache = "X-Litespeed-Cache"
	HeaderEdgeRay     = "Cf-Ray"
)

// CacheSignals holds the three cache headers of a response.
type CacheSignals struct {
	EdgeCache    string
	OriginCache  string
	RayID        string
	EdgeLocation string
}

// ExtractSignals reads the cache headers, substituting UnknownSignal for any
// header that is missing. A nil header set is valid.
func ExtractSignals(h http.Header) CacheSignals {
	s := CacheSignals{
		EdgeCache:   headerOrUnknown(h, HeaderEdgeCache),
		OriginCache: headerOrUnknown(h, HeaderOriginCache),
		RayID:       headerOrUnknown(h, HeaderEdgeRay),
	}
	s.EdgeLocation = EdgeLocation(s.RayID)
	return s
}

// EdgeLocation returns the data-center segment of a ray id such as
// "8a1b2c3d4e5f-SIN", or UnknownSignal when the id has no such segment.
func EdgeLocation(rayID string) string {
	parts := strings.Split(rayID, "-")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return UnknownSignal
	}
	return parts[1]
}

// ClassifyCache decides the cache outcome from the origin cache header only.
// An edge hit with an origin miss is still a miss.
func ClassifyCache(originHeader string) CacheStatus {
	v := strings.TrimSpace(originHeader)
	switch {
	case strings.EqualFold(v, "hit"):
		return CacheHit
	case v == "" || v == UnknownSignal:
		return CacheUnknown
	default:
		return CacheMiss
	}
}

func headerOrUnknown(h http.Header, key string) string {
	if h == nil {
		return UnknownSignal
	}
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return UnknownSignal
	}
	return v
}
