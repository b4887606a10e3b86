package purge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCloudflareRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewCloudflare(CloudflareConfig{ZoneID: "zone"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewCloudflare(CloudflareConfig{APIToken: "token"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestCloudflarePurgeSuccess(t *testing.T) {
	t.Parallel()

	type captured struct {
		path  string
		auth  string
		files []string
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body purgeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen <- captured{path: r.URL.Path, auth: r.Header.Get("Authorization"), files: body.Files}
		_, _ = w.Write([]byte(`{"success":true,"errors":[],"result":{"id":"zone"}}`))
	}))
	defer srv.Close()

	cf, err := NewCloudflare(CloudflareConfig{BaseURL: srv.URL + "/", ZoneID: "zone-1", APIToken: "secret"}, srv.Client())
	require.NoError(t, err)

	require.NoError(t, cf.Purge(context.Background(), []string{"https://a/1", "https://a/2"}))
	got := <-seen
	require.Equal(t, "/zones/zone-1/purge_cache", got.path)
	require.Equal(t, "Bearer secret", got.auth)
	require.Equal(t, []string{"https://a/1", "https://a/2"}, got.files)
}

func TestCloudflarePurgeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusTooManyRequests, `{"success":false}`},
		{"success false", http.StatusOK, `{"success":false,"errors":[{"code":1134,"message":"rate limited"}]}`},
		{"success false without errors", http.StatusOK, `{"success":false}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			cf, err := NewCloudflare(CloudflareConfig{BaseURL: srv.URL, ZoneID: "z", APIToken: "t"}, srv.Client())
			require.NoError(t, err)
			require.Error(t, cf.Purge(context.Background(), []string{"https://a/1"}))
		})
	}
}
