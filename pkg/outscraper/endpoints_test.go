package outscraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointWrappersOverHTTP(t *testing.T) {
	var hits atomic.Int32
	var lastQuery atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")

		if r.Header.Get("X-API-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":true,"errorMessage":"invalid api key"}`))
			return
		}

		switch r.URL.Path {
		case "/maps/search":
			lastQuery.Store(r.URL.RawQuery)
			_, _ = w.Write([]byte(`{"id":"task-1","status":"Pending"}`))
		case "/requests/task-1":
			_, _ = w.Write([]byte(`{"id":"task-1","status":"Success","data":[["place"]]}`))
		case "/phones-enricher":
			lastQuery.Store(r.URL.RawQuery)
			_, _ = w.Write([]byte(`{"id":"sync-1","status":"Success","data":[{"carrier":"acme"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":true,"errorMessage":"not found"}`))
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		APIKey:       "secret",
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
	})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("task wrapper waits", func(t *testing.T) {
		raw, err := c.GoogleMapsSearchV1(ctx, []string{"cafe, Paris", "bar, Rome"}, MapsSearchOptions{Limit: 5}, TaskOptions{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"task-1","status":"Success","data":[["place"]]}`, string(raw))

		q, err := url.ParseQuery(lastQuery.Load().(string))
		require.NoError(t, err)
		assert.Equal(t, []string{"cafe, Paris", "bar, Rome"}, q["query"])
		assert.Equal(t, "5", q.Get("organizationsPerQueryLimit"))
		assert.Equal(t, "0", q.Get("async"))
	})

	t.Run("task wrapper async", func(t *testing.T) {
		before := hits.Load()
		raw, err := c.GoogleMapsSearchV1(ctx, []string{"cafe"}, MapsSearchOptions{}, TaskOptions{Async: true})
		require.NoError(t, err)
		assert.Equal(t, before+1, hits.Load())

		task, err := DecodeTask(raw)
		require.NoError(t, err)
		assert.Equal(t, "task-1", task.ID)
		assert.True(t, task.Pending())
	})

	t.Run("ui forces async", func(t *testing.T) {
		before := hits.Load()
		_, err := c.GoogleMapsSearchV1(ctx, []string{"cafe"}, MapsSearchOptions{}, TaskOptions{UI: true})
		require.NoError(t, err)
		assert.Equal(t, before+1, hits.Load())

		q, err := url.ParseQuery(lastQuery.Load().(string))
		require.NoError(t, err)
		assert.Equal(t, "1", q.Get("ui"))
		assert.Equal(t, "1", q.Get("async"))
	})

	t.Run("immediate wrapper extracts data", func(t *testing.T) {
		raw, err := c.PhonesEnricher(ctx, []string{"+1 281 236 8208"})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"carrier":"acme"}]`, string(raw))

		q, err := url.ParseQuery(lastQuery.Load().(string))
		require.NoError(t, err)
		assert.Equal(t, []string{"+1 281 236 8208"}, q["query"])
	})

	t.Run("error envelope on non-2xx", func(t *testing.T) {
		_, err := c.RequestArchive(ctx, "missing")

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "not found", apiErr.Message)
	})

	t.Run("empty queries", func(t *testing.T) {
		_, err := c.EmailsAndContacts(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestWrongCredentialSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": true, "errorMessage": "invalid api key"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "wrong", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.RequestsHistory(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid api key", apiErr.Message)
}

func TestRateLimitedTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Config().Burst)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.RequestsHistory(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OUTSCRAPER_TEST_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "outscraper.yaml")
	content := `
api_key: ${OUTSCRAPER_TEST_KEY}
base_url: http://localhost:8080
poll_interval: 2s
max_wait: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.MaxWait)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, 300, cfg.pollBudget())
}

func TestLoadConfigMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outscraper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://localhost\n"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
