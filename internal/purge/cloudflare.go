package purge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCloudflareBaseURL is the Cloudflare v4 API root.
const DefaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// CloudflareConfig holds the zone credentials.
type CloudflareConfig struct {
	BaseURL  string
	ZoneID   string
	APIToken string
	Timeout  time.Duration
}

// Cloudflare purges files by URL through the zone purge_cache endpoint.
type Cloudflare struct {
	endpoint string
	token    string
	client   *http.Client
}

type purgeRequest struct {
	Files []string `json:"files"`
}

type purgeResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// NewCloudflare returns a Cloudflare purger, or ErrNotConfigured when the zone
// or token is missing.
func NewCloudflare(cfg CloudflareConfig, client *http.Client) (*Cloudflare, error) {
	if cfg.ZoneID == "" || cfg.APIToken == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultCloudflareBaseURL
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Cloudflare{
		endpoint: fmt.Sprintf("%s/zones/%s/purge_cache", base, cfg.ZoneID),
		token:    cfg.APIToken,
		client:   client,
	}, nil
}

// Purge submits one batch. It succeeds only when the API answers 2xx with
// success set.
func (c *Cloudflare) Purge(ctx context.Context, urls []string) error {
	body, err := json.Marshal(purgeRequest{Files: urls})
	if err != nil {
		return fmt.Errorf("encode purge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("purge request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read purge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("purge rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded purgeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode purge response: %w", err)
	}
	if !decoded.Success {
		if len(decoded.Errors) > 0 {
			return fmt.Errorf("purge rejected: %d %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
		}
		return errors.New("purge rejected: success=false")
	}
	return nil
}
