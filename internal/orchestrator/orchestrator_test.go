package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/clock/system"
	collyfetcher "github.com/JakeFAU/edge-cache-warmer/internal/fetcher/colly"
	"github.com/JakeFAU/edge-cache-warmer/internal/publisher/memory"
	"github.com/JakeFAU/edge-cache-warmer/internal/purge"
	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
	"github.com/JakeFAU/edge-cache-warmer/internal/sitemap"
	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
	"github.com/JakeFAU/edge-cache-warmer/internal/worker"
)

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

type captureSink struct {
	mu      sync.Mutex
	batches []runlog.Batch
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Write(_ context.Context, batch runlog.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) rows() []runlog.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []runlog.Row
	for _, b := range s.batches {
		out = append(out, b.Rows...)
	}
	return out
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// siteFetcher serves a one-level sitemap and pages from memory.
type siteFetcher struct {
	domain string
	pages  int
	misses map[int]bool
}

func (f siteFetcher) Fetch(_ context.Context, req warmer.FetchRequest) (warmer.FetchResponse, error) {
	switch req.URL {
	case f.domain + sitemap.DefaultIndexPath:
		body := fmt.Sprintf(`<sitemapindex><sitemap><loc>%s/page-sitemap.xml</loc></sitemap></sitemapindex>`, f.domain)
		return warmer.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
	case f.domain + "/page-sitemap.xml":
		var b strings.Builder
		b.WriteString("<urlset>")
		for i := 0; i < f.pages; i++ {
			fmt.Fprintf(&b, "<url><loc>%s/p/%d</loc></url>", f.domain, i)
		}
		b.WriteString("</urlset>")
		return warmer.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(b.String())}, nil
	}
	var idx int
	if _, err := fmt.Sscanf(strings.TrimPrefix(req.URL, f.domain), "/p/%d", &idx); err != nil {
		return warmer.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound, Headers: http.Header{}}, nil
	}
	h := http.Header{}
	h.Set(warmer.HeaderOriginCache, "hit")
	if f.misses[idx] {
		h.Set(warmer.HeaderOriginCache, "miss")
	}
	return warmer.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Headers: h}, nil
}

type recordingPurger struct {
	mu    sync.Mutex
	calls [][]string
}

func (p *recordingPurger) Purge(_ context.Context, urls []string) purge.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), urls...))
	if len(urls) == 0 {
		return purge.Report{}
	}
	return purge.Report{Requested: len(urls), Batches: 1, Purged: len(urls)}
}

func newRunLog(t *testing.T, sink runlog.Sink) *runlog.Logger {
	t.Helper()
	l, err := runlog.New(sink, system.New(), fixedIDs("run-1"), runlog.Config{}, zap.NewNop())
	require.NoError(t, err)
	return l
}

func baseDeps(t *testing.T, sink runlog.Sink, factory FetcherFactory, purger Purger) Deps {
	t.Helper()
	return Deps{
		NewFetcher: factory,
		Source:     sitemap.New(sitemap.Config{NoShuffle: true}, nil),
		Clock:      system.New(),
		Sleeper:    noSleep{},
		Pool:       worker.Config{Concurrency: 3},
		Purger:     purger,
		Log:        newRunLog(t, sink),
	}
}

func TestRunWarmsAndPurgesEndToEnd(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		switch r.URL.Path {
		case "/sitemap_index.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><sitemap><loc>%s/post-sitemap.xml</loc></sitemap></sitemapindex>`, base)
		case "/post-sitemap.xml":
			fmt.Fprint(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
			for i := 0; i < 10; i++ {
				fmt.Fprintf(w, "<url><loc>%s/post/%d</loc></url>", base, i)
			}
			fmt.Fprint(w, "</urlset>")
		default:
			status := "hit"
			if r.URL.Path == "/post/3" || r.URL.Path == "/post/7" {
				status = "miss"
			}
			w.Header().Set(warmer.HeaderOriginCache, status)
			w.Header().Set(warmer.HeaderEdgeCache, "MISS")
			w.Header().Set(warmer.HeaderEdgeRay, "8a1b2c3d4e5f-SIN")
			fmt.Fprint(w, "<html></html>")
		}
	}))
	t.Cleanup(origin.Close)

	purged := make(chan []string, 4)
	cf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Files []string `json:"files"`
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		purged <- body.Files
		fmt.Fprint(w, `{"success":true,"errors":[]}`)
	}))
	t.Cleanup(cf.Close)

	cloudflare, err := purge.NewCloudflare(purge.CloudflareConfig{BaseURL: cf.URL, ZoneID: "zone", APIToken: "token"}, cf.Client())
	require.NoError(t, err)
	batcher := purge.NewBatcher(cloudflare, noSleep{}, purge.Config{}, nil)

	var (
		mu      sync.Mutex
		targets []Target
	)
	factory := func(target Target) (warmer.Fetcher, error) {
		mu.Lock()
		targets = append(targets, target)
		mu.Unlock()
		return collyfetcher.New(collyfetcher.Config{UserAgent: target.UserAgent, Timeout: 5 * time.Second})
	}

	sink := &captureSink{}
	deps := baseDeps(t, sink, factory, batcher)
	pub := memory.New()
	deps.Publisher = pub
	orch, err := New(deps)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []Target{
		{Code: "id", Domain: origin.URL, Proxy: "http://proxy.invalid:3128", UserAgent: "warmer-test"},
	})
	require.NoError(t, err)
	require.False(t, summary.Canceled)
	require.Equal(t, "run-1", summary.RunID)
	require.Len(t, summary.Countries, 1)

	result := summary.Countries[0]
	require.Equal(t, 10, result.URLs)
	require.Equal(t, 10, result.Processed)
	require.Equal(t, 8, result.Hits)
	require.Equal(t, 2, result.NonHits)
	require.Equal(t, 2, result.Purged)
	require.Equal(t, 1, result.PurgeBatches)
	require.Len(t, targets, 1)
	require.Equal(t, "warmer-test", targets[0].UserAgent)

	select {
	case files := <-purged:
		require.ElementsMatch(t, []string{origin.URL + "/post/3", origin.URL + "/post/7"}, files)
	default:
		t.Fatal("purge endpoint was not called")
	}

	log := deps.Log.(*runlog.Logger)
	require.NoError(t, log.Close(context.Background()))
	rows := sink.rows()
	// found-row, ten url rows, purge row
	require.Len(t, rows, 12)
	require.Equal(t, "Found 10 URLs", rows[0].Message)
	require.Equal(t, "Purged 2 URLs in 1 batches", rows[len(rows)-1].Message)
	for _, row := range rows[1:11] {
		require.Equal(t, "id", row.Country)
		require.Equal(t, http.StatusOK, row.Status)
		require.Equal(t, "8a1b2c3d4e5f-SIN", row.EdgeRay)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, EventRunFinished, msgs[0].Event)
}

func TestRunSkipsCountriesWithoutProxy(t *testing.T) {
	t.Parallel()

	var built []string
	factory := func(target Target) (warmer.Fetcher, error) {
		built = append(built, target.Code)
		return siteFetcher{domain: target.Domain, pages: 4}, nil
	}
	purger := &recordingPurger{}
	sink := &captureSink{}
	orch, err := New(baseDeps(t, sink, factory, purger))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []Target{
		{Code: "tw", Domain: "https://tw.example"},
		{Code: "id", Domain: "https://id.example", Proxy: "http://p:1"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, built)
	require.Len(t, summary.Countries, 2)
	require.True(t, summary.Countries[0].Skipped)
	require.Equal(t, "no proxy defined", summary.Countries[0].SkipReason)
	require.NoError(t, orch.deps.Log.(*runlog.Logger).Close(context.Background()))
	require.Equal(t, "Skipped: no proxy defined", sink.rows()[0].Message)
	require.Equal(t, "tw", sink.rows()[0].Country)
	require.Equal(t, 4, summary.Countries[1].Hits)
	// all hits: the batcher still sees an empty set
	require.Len(t, purger.calls, 1)
	require.Empty(t, purger.calls[0])
	// tw skip row, id found row, four url rows, id closing row
	rows := sink.rows()
	require.Len(t, rows, 7)
	last := rows[len(rows)-1]
	require.Equal(t, "id", last.Country)
	require.Equal(t, "https://id.example", last.URL)
	require.Equal(t, "Purge skipped: all 4 URLs hit", last.Message)
	require.False(t, last.Errored)
}

func TestRunSkipsCountryWhenFetcherFails(t *testing.T) {
	t.Parallel()

	factory := func(Target) (warmer.Fetcher, error) { return nil, errors.New("bad proxy url") }
	orch, err := New(baseDeps(t, &captureSink{}, factory, &recordingPurger{}))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []Target{{Code: "id", Domain: "https://id.example", Proxy: "::"}})
	require.NoError(t, err)
	require.True(t, summary.Countries[0].Skipped)
	require.Contains(t, summary.Countries[0].SkipReason, "bad proxy url")
}

func TestRunProcessesCountriesInOrder(t *testing.T) {
	t.Parallel()

	factory := func(target Target) (warmer.Fetcher, error) {
		return siteFetcher{domain: target.Domain, pages: 5, misses: map[int]bool{1: true}}, nil
	}
	purger := &recordingPurger{}
	orch, err := New(baseDeps(t, &captureSink{}, factory, purger))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []Target{
		{Code: "id", Domain: "https://id.example", Proxy: "http://p:1"},
		{Code: "tw", Domain: "https://tw.example", Proxy: "http://p:2"},
	})
	require.NoError(t, err)
	require.Equal(t, "id", summary.Countries[0].Country)
	require.Equal(t, "tw", summary.Countries[1].Country)
	require.Len(t, purger.calls, 2)
	require.Equal(t, []string{"https://id.example/p/1"}, purger.calls[0])
	require.Equal(t, []string{"https://tw.example/p/1"}, purger.calls[1])
}

func TestRunStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	factory := func(target Target) (warmer.Fetcher, error) {
		return siteFetcher{domain: target.Domain, pages: 3}, nil
	}
	purger := &recordingPurger{}
	orch, err := New(baseDeps(t, &captureSink{}, factory, purger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := orch.Run(ctx, []Target{{Code: "id", Domain: "https://id.example", Proxy: "http://p:1"}})
	require.NoError(t, err)
	require.True(t, summary.Canceled)
	require.Empty(t, summary.Countries)
	require.Empty(t, purger.calls)
}

func TestRunRejectsEmptyTargets(t *testing.T) {
	t.Parallel()

	orch, err := New(baseDeps(t, &captureSink{}, func(Target) (warmer.Fetcher, error) { return nil, nil }, &recordingPurger{}))
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoCountries)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	factory := func(target Target) (warmer.Fetcher, error) {
		return siteFetcher{domain: target.Domain, pages: 1}, nil
	}
	deps := baseDeps(t, &captureSink{}, factory, &recordingPurger{})
	pub := memory.New()
	pub.FailWith(errors.New("topic not found"))
	deps.Publisher = pub
	orch, err := New(deps)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), []Target{{Code: "id", Domain: "https://id.example", Proxy: "http://p:1"}})
	require.NoError(t, err)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{})
	require.Error(t, err)
}

func TestPurgeMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Purge skipped for 3 URLs (purge not configured)", purgeMessage(purge.Report{Requested: 3, Skipped: true}, 5))
	require.Equal(t, "Purged 30/40 URLs, 1 of 2 batches failed",
		purgeMessage(purge.Report{Requested: 40, Batches: 2, FailedBatches: 1, Purged: 30}, 50))
	require.Equal(t, "Purge skipped: all 7 URLs hit", purgeMessage(purge.Report{Skipped: true}, 7))
}
