package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestFetcher_ETagRevalidation(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	ctx := context.Background()

	feed, err := f.Fetch(ctx, srv.URL+"/holidays.ics?token=secret")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if feed.FromCache || string(feed.Body) != holidayFeed {
		t.Fatalf("unexpected first feed: cache=%v", feed.FromCache)
	}

	feed, err = f.Fetch(ctx, srv.URL+"/holidays.ics?token=secret")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !feed.FromCache || string(feed.Body) != holidayFeed {
		t.Fatal("expected 304 to reuse the cached body")
	}

	down.Store(true)
	feed, err = f.Fetch(ctx, srv.URL+"/holidays.ics?token=secret")
	if err != nil {
		t.Fatalf("fetch with upstream down: %v", err)
	}
	if !feed.FromCache {
		t.Fatal("expected cached body when upstream fails")
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
}

func TestFetcher_FailureWithoutCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewFetcher("").Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error without cached body")
	}
}

func TestFetcher_LocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.ics")
	if err := os.WriteFile(path, []byte(holidayFeed), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	feed, err := NewFetcher("").Fetch(context.Background(), path)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(feed.Body) != holidayFeed {
		t.Fatal("file body mismatch")
	}
	if _, err := NewFetcher("").Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	if got := redactURL("https://cal.example.com/private/x.ics?token=abc"); got != "https://cal.example.com/...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
}
