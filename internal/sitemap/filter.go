package sitemap

import (
	"net/url"
	"regexp"
	"strings"
)

var skipExtension = regexp.MustCompile(`(?i)\.(pdf|zip|rar|7z|png|jpe?g|gif|webp|svg|mp4|mp3|webm)$`)

// SameHost keeps URLs whose host equals base's host.
func SameHost(urls []string, base string) []string {
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return nil
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host != b.Host {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// FilterSkips drops binary assets and AMP variants.
func FilterSkips(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if skipExtension.MatchString(u) || strings.Contains(u, "?amp") {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Dedup removes repeats, keeping first occurrences in order.
func Dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
