package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/share-gate/share-gate/internal/cache"
)

func TestOriginResolveKeepsQuery(t *testing.T) {
	base, _ := url.Parse("https://origin.example")
	origin := NewOrigin(http.DefaultClient, base, 0)

	target, err := origin.Resolve("/app/index.html?v=2")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if target.String() != "https://origin.example/app/index.html?v=2" {
		t.Fatalf("unexpected target %s", target)
	}
	for _, bad := range []string{"app.js", "//evil.example/app.js", "https://evil.example/"} {
		if _, err := origin.Resolve(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestOriginFetchSnapshot(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "other")
	}))
	defer other.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/styles.css":
			w.Header().Set("Content-Type", "text/css")
			w.Header().Set("Connection", "close")
			_, _ = io.WriteString(w, "body{}")
		case "/moved":
			http.Redirect(w, r, other.URL+"/", http.StatusFound)
		case "/large":
			_, _ = io.WriteString(w, strings.Repeat("x", 32))
		}
	}))
	defer upstream.Close()

	base, _ := url.Parse(upstream.URL)
	origin := NewOrigin(upstream.Client(), base, 16)

	snap, err := origin.FetchSnapshot(context.Background(), cache.GetKey("/styles.css"))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if snap.Status != http.StatusOK || string(snap.Body) != "body{}" {
		t.Fatalf("unexpected snapshot %d %q", snap.Status, snap.Body)
	}
	if snap.Header.Get("Connection") != "" || snap.Header.Get("Content-Length") != "" {
		t.Fatalf("hop-by-hop and length headers must be stripped: %v", snap.Header)
	}
	if snap.StoredAt.IsZero() {
		t.Fatalf("stored_at should be set")
	}

	if _, err := origin.FetchSnapshot(context.Background(), cache.GetKey("/moved")); err == nil {
		t.Fatalf("cross-origin redirect should fail")
	}
	if _, err := origin.FetchSnapshot(context.Background(), cache.GetKey("/large")); err == nil {
		t.Fatalf("oversized body should fail")
	}
}
