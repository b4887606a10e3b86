package warmer

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyCache(t *testing.T) {
	t.Parallel()

	require.Equal(t, CacheHit, ClassifyCache("hit"))
	require.Equal(t, CacheHit, ClassifyCache("HIT"))
	require.Equal(t, CacheHit, ClassifyCache(" Hit "))
	require.Equal(t, CacheMiss, ClassifyCache("miss"))
	require.Equal(t, CacheMiss, ClassifyCache("STALE"))
	require.Equal(t, CacheMiss, ClassifyCache("hit,miss"))
	require.Equal(t, CacheUnknown, ClassifyCache(""))
	require.Equal(t, CacheUnknown, ClassifyCache(UnknownSignal))
}

func TestExtractSignals(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("cf-cache-status", "HIT")
	h.Set("x-litespeed-cache", "miss")
	h.Set("cf-ray", "8a1b2c3d4e5f-SIN")

	s := ExtractSignals(h)
	require.Equal(t, "HIT", s.EdgeCache)
	require.Equal(t, "miss", s.OriginCache)
	require.Equal(t, "8a1b2c3d4e5f-SIN", s.RayID)
	require.Equal(t, "SIN", s.EdgeLocation)
}

func TestExtractSignalsMissingHeaders(t *testing.T) {
	t.Parallel()

	for _, h := range []http.Header{nil, {}} {
		s := ExtractSignals(h)
		require.Equal(t, UnknownSignal, s.EdgeCache)
		require.Equal(t, UnknownSignal, s.OriginCache)
		require.Equal(t, UnknownSignal, s.RayID)
		require.Equal(t, UnknownSignal, s.EdgeLocation)
		require.Equal(t, CacheUnknown, ClassifyCache(s.OriginCache))
	}
}

func TestEdgeLocationMalformed(t *testing.T) {
	t.Parallel()

	require.Equal(t, UnknownSignal, EdgeLocation("8a1b2c3d"))
	require.Equal(t, UnknownSignal, EdgeLocation("8a1b2c3d-"))
	require.Equal(t, "AMS", EdgeLocation("abc-AMS-extra"))
}

func TestNeedsPurge(t *testing.T) {
	t.Parallel()

	require.False(t, WarmResult{CacheStatus: CacheHit}.NeedsPurge())
	require.True(t, WarmResult{CacheStatus: CacheMiss}.NeedsPurge())
	require.True(t, WarmResult{CacheStatus: CacheUnknown}.NeedsPurge())
	require.True(t, WarmResult{CacheStatus: CacheUnknown, Errored: true}.NeedsPurge())
}
