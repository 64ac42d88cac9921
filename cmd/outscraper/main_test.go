package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/georgeshao/outscraper-go/pkg/outscraper"
)

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var archiveHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "k" {
			_, _ = w.Write([]byte(`{"error":true,"errorMessage":"Invalid API key"}`))
			return
		}
		switch r.URL.Path {
		case "/maps/search":
			_, _ = w.Write([]byte(`{"id":"t-1","status":"Pending"}`))
		case "/google-search-v3":
			_, _ = w.Write([]byte(`{"id":"t-2","status":"Success","data":[["` + r.URL.Query().Get("query") + `"]]}`))
		case "/requests/t-1":
			archiveHits.Add(1)
			_, _ = w.Write([]byte(`{"id":"t-1","status":"Success","data":[["done"]]}`))
		case "/requests":
			_, _ = w.Write([]byte(`{"requests":[],"total":0}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":true,"errorMessage":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &archiveHits
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestCallImmediateDataOnly(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := runCLI(t, "call", "-base-url", srv.URL, "-api-key", "k",
		"-mode", "immediate", "-data", "-p", "query=coffee", "google-search-v3")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !strings.Contains(out, `"coffee"`) || strings.Contains(out, `"status"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCallSubmitOnly(t *testing.T) {
	srv, hits := newTestServer(t)

	out, err := runCLI(t, "call", "-base-url", srv.URL, "-api-key", "k", "-mode", "submit", "-p", "query=a", "maps/search")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !strings.Contains(out, `"Pending"`) {
		t.Errorf("expected submission envelope, got %s", out)
	}
	if hits.Load() != 0 {
		t.Errorf("submit mode must not poll, archive hits = %d", hits.Load())
	}
}

func TestWaitPollsArchive(t *testing.T) {
	srv, hits := newTestServer(t)
	t.Setenv("OUTSCRAPER_BASE_URL", srv.URL)
	t.Setenv("OUTSCRAPER_API_KEY", "k")

	out, err := runCLI(t, "wait", "-poll", "10ms", "t-1")
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !strings.Contains(out, `"done"`) {
		t.Errorf("unexpected output: %s", out)
	}
	if hits.Load() != 1 {
		t.Errorf("archive hits = %d, want 1", hits.Load())
	}
}

func TestHistoryAndArchive(t *testing.T) {
	srv, _ := newTestServer(t)

	if _, err := runCLI(t, "history", "-base-url", srv.URL, "-api-key", "k"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	out, err := runCLI(t, "archive", "-base-url", srv.URL, "-api-key", "k", "t-1")
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if !strings.Contains(out, `"t-1"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := runCLI(t, "archive", "-base-url", srv.URL, "-api-key", "wrong", "t-1")
	var apiErr *outscraper.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid API key" {
		t.Errorf("err = %v, want APIError", err)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"bogus"},
		{"call"},
		{"archive"},
	}
	for _, args := range cases {
		_, err := runCLI(t, args...)
		var usage usageError
		if !errors.As(err, &usage) {
			t.Errorf("run(%v) err = %v, want usage error", args, err)
		}
	}

	if _, err := runCLI(t, "call", "-api-key", "k", "-mode", "later", "maps/search"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := runCLI(t, "call", "-api-key", "k", "-p", "novalue", "maps/search"); err == nil {
		t.Error("expected error for malformed parameter")
	}
}

func TestCallRawPrintsErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := runCLI(t, "call", "-base-url", srv.URL, "-api-key", "wrong", "-raw", "-p", "query=a", "maps/search")
	if err != nil {
		t.Fatalf("raw call should not fail on an error envelope: %v", err)
	}
	if !strings.Contains(out, `"Invalid API key"`) {
		t.Errorf("expected the envelope verbatim, got %s", out)
	}

	_, err = runCLI(t, "call", "-base-url", srv.URL, "-api-key", "wrong", "-p", "query=a", "maps/search")
	if err == nil || !strings.Contains(err.Error(), "Invalid API key") {
		t.Errorf("expected API error without -raw, got %v", err)
	}
}

func TestCallRawRejectsDataFlag(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := runCLI(t, "call", "-base-url", srv.URL, "-api-key", "k", "-raw", "-data", "maps/search")
	if err == nil {
		t.Fatal("expected usage error")
	}
}
