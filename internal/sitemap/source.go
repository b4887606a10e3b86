// Package sitemap discovers the URLs to warm from a site's sitemap index.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
)

// Source defaults.
const (
	DefaultIndexPath   = "/sitemap_index.xml"
	DefaultMaxURLs     = 5000
	DefaultParallelism = 4
)

// Config controls discovery.
type Config struct {
	IndexPath   string
	MaxURLs     int
	Parallelism int
	NoShuffle   bool
}

type document struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// Source reads a sitemap index and its child sitemaps through a Fetcher.
type Source struct {
	cfg     Config
	shuffle func([]string)
	logger  *zap.Logger
}

// New constructs a Source.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.IndexPath == "" {
		cfg.IndexPath = DefaultIndexPath
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = DefaultMaxURLs
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, shuffle: shuffleStrings, logger: logger.Named("sitemap")}
}

// URLs returns the filtered, deduplicated and shuffled page list for domain.
// Fetch failures are logged and yield fewer (possibly zero) URLs; only
// cancellation is returned as an error.
func (s *Source) URLs(ctx context.Context, fetcher warmer.Fetcher, domain, country string) ([]string, error) {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	indexURL := domain + s.cfg.IndexPath

	index, err := s.fetch(ctx, fetcher, indexURL, country)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("sitemap index unavailable", zap.String("country", country), zap.String("url", indexURL), zap.Error(err))
		return nil, nil
	}

	found := make([][]string, len(index.Sitemaps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, child := range index.Sitemaps {
		if child == "" {
			continue
		}
		g.Go(func() error {
			doc, err := s.fetch(gctx, fetcher, child, country)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("child sitemap unavailable", zap.String("country", country), zap.String("url", child), zap.Error(err))
				return nil
			}
			found[i] = doc.URLs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read sitemaps: %w", err)
	}

	var all []string
	for _, urls := range found {
		all = append(all, urls...)
	}
	urls := Dedup(FilterSkips(SameHost(all, domain)))
	if !s.cfg.NoShuffle {
		s.shuffle(urls)
	}
	if len(urls) > s.cfg.MaxURLs {
		s.logger.Info("trimming url list",
			zap.String("country", country),
			zap.Int("found", len(urls)),
			zap.Int("max", s.cfg.MaxURLs),
		)
		urls = urls[:s.cfg.MaxURLs]
	}
	s.logger.Info("sitemap discovery finished",
		zap.String("country", country),
		zap.Int("sitemaps", len(index.Sitemaps)),
		zap.Int("raw", len(all)),
		zap.Int("urls", len(urls)),
	)
	return urls, nil
}

func (s *Source) fetch(ctx context.Context, fetcher warmer.Fetcher, url, country string) (document, error) {
	resp, err := fetcher.Fetch(ctx, warmer.FetchRequest{URL: url, Country: country})
	if err != nil {
		return document{}, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return document{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parse(url, resp.Body)
}

func parse(url string, body []byte) (document, error) {
	gzipped := strings.HasSuffix(strings.ToLower(url), ".gz") || (len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b)
	if gzipped {
		if gz, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
			if unzipped, err := io.ReadAll(gz); err == nil {
				body = unzipped
			}
			_ = gz.Close()
		}
	}
	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return document{}, fmt.Errorf("parse sitemap: %w", err)
	}
	for i := range doc.URLs {
		doc.URLs[i] = strings.TrimSpace(doc.URLs[i])
	}
	for i := range doc.Sitemaps {
		doc.Sitemaps[i] = strings.TrimSpace(doc.Sitemaps[i])
	}
	return doc, nil
}

func shuffleStrings(urls []string) {
	rand.Shuffle(len(urls), func(i, j int) {
		urls[i], urls[j] = urls[j], urls[i]
	})
}
