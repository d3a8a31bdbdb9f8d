package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/share-gate/share-gate/internal/logging"
)

func TestManagerInstallPopulatesCurrentGeneration(t *testing.T) {
	store := newTestStore(t)
	fetcher := newStubFetcher(map[string]int{"/": 200, "/index.html": 200, "/app.js": 200})
	manager := newTestManager(t, store, fetcher, "v1")

	ctx := context.Background()
	if err := manager.Install(ctx, []string{"/", "/index.html", "/app.js", "/app.js"}); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if fetcher.count("/app.js") != 1 {
		t.Fatalf("duplicate manifest entries should be fetched once, got %d", fetcher.count("/app.js"))
	}
	for _, uri := range []string{"/", "/index.html", "/app.js"} {
		snap, err := store.Get(ctx, Generation{Site: "share", Version: "v1"}, GetKey(uri))
		if err != nil {
			t.Fatalf("expected %s in generation: %v", uri, err)
		}
		if string(snap.Body) != "body:"+uri {
			t.Fatalf("unexpected body for %s: %s", uri, snap.Body)
		}
		if snap.StoredAt.IsZero() {
			t.Fatalf("stored_at should be set for %s", uri)
		}
	}
	if manager.Active() != "" {
		t.Fatalf("install alone must not activate, got %q", manager.Active())
	}
}

func TestManagerInstallIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	fetcher := newStubFetcher(map[string]int{"/": 200, "/index.html": 200, "/app.js": 404})
	manager := newTestManager(t, store, fetcher, "v1")

	ctx := context.Background()
	err := manager.Install(ctx, []string{"/", "/index.html", "/app.js"})
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	for _, uri := range []string{"/", "/index.html", "/app.js"} {
		if _, err := store.Get(ctx, Generation{Site: "share", Version: "v1"}, GetKey(uri)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s must not be cached after failed install, got %v", uri, err)
		}
	}
}

func TestManagerInstallFailsOnTransportError(t *testing.T) {
	store := newTestStore(t)
	fetcher := newStubFetcher(map[string]int{"/": 200})
	fetcher.failures["/offline.css"] = errors.New("connection refused")
	manager := newTestManager(t, store, fetcher, "v1")

	if err := manager.Install(context.Background(), []string{"/", "/offline.css"}); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	versions, err := store.Versions(context.Background(), "share")
	if err != nil {
		t.Fatalf("versions error: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("failed install must not create a generation, got %v", versions)
	}
}

func TestManagerActivateRemovesStaleGenerations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, version := range []string{"v1", "v2"} {
		if err := store.PutBatch(ctx, Generation{Site: "share", Version: version}, []Record{{Key: GetKey("/"), Snapshot: Snapshot{Status: 200}}}); err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}
	if err := store.PutBatch(ctx, Generation{Site: "neighbour", Version: "v1"}, nil); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	manager := newTestManager(t, store, newStubFetcher(nil), "v2")
	if err := manager.Activate(ctx); err != nil {
		t.Fatalf("activate error: %v", err)
	}

	versions, err := manager.Generations(ctx)
	if err != nil {
		t.Fatalf("generations error: %v", err)
	}
	if len(versions) != 1 || versions[0] != "v2" {
		t.Fatalf("expected only v2 after activation, got %v", versions)
	}
	if manager.Active() != "v2" {
		t.Fatalf("expected v2 active, got %q", manager.Active())
	}
	persisted, err := store.ActiveVersion(ctx, "share")
	if err != nil || persisted != "v2" {
		t.Fatalf("expected persisted v2, got %q / %v", persisted, err)
	}
	others, err := store.Versions(ctx, "neighbour")
	if err != nil || len(others) != 1 {
		t.Fatalf("other sites must be untouched, got %v / %v", others, err)
	}
}

func TestManagerActivateIsBestEffort(t *testing.T) {
	base := newTestStore(t)
	ctx := context.Background()
	for _, version := range []string{"v1", "v2", "v3"} {
		if err := base.PutBatch(ctx, Generation{Site: "share", Version: version}, nil); err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}
	store := &failingDeleteStore{Store: base, failOn: "v1"}

	manager := newTestManager(t, store, newStubFetcher(nil), "v3")
	err := manager.Activate(ctx)
	if err == nil {
		t.Fatalf("expected joined deletion error")
	}

	versions, listErr := base.Versions(ctx, "share")
	if listErr != nil {
		t.Fatalf("versions error: %v", listErr)
	}
	if len(versions) != 2 || versions[0] != "v1" || versions[1] != "v3" {
		t.Fatalf("v2 should still be deleted despite v1 failure, got %v", versions)
	}
	if manager.Active() != "v3" {
		t.Fatalf("activation must still claim v3, got %q", manager.Active())
	}
}

func TestManagerRestoreKeepsPreviousGenerationServing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := Generation{Site: "share", Version: "v1"}
	if err := store.PutBatch(ctx, old, []Record{{Key: GetKey("/index.html"), Snapshot: Snapshot{Status: 200, Body: []byte("old shell")}}}); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if err := store.SetActiveVersion(ctx, "share", "v1"); err != nil {
		t.Fatalf("seed active error: %v", err)
	}

	manager := newTestManager(t, store, newStubFetcher(map[string]int{"/index.html": 500}), "v2")
	if err := manager.Restore(ctx); err != nil {
		t.Fatalf("restore error: %v", err)
	}
	if err := manager.Install(ctx, []string{"/index.html"}); err == nil {
		t.Fatalf("expected install failure")
	}

	snap, err := manager.Lookup(ctx, GetKey("/index.html"))
	if err != nil {
		t.Fatalf("previous generation should still serve: %v", err)
	}
	if string(snap.Body) != "old shell" {
		t.Fatalf("unexpected body: %s", snap.Body)
	}
}

func TestManagerLookupAndStore(t *testing.T) {
	store := newTestStore(t)
	manager := newTestManager(t, store, newStubFetcher(nil), "v1")
	ctx := context.Background()

	if err := manager.Store(ctx, GetKey("/app.js"), Snapshot{Status: 200}); !errors.Is(err, ErrNoActiveGeneration) {
		t.Fatalf("expected ErrNoActiveGeneration before activation, got %v", err)
	}
	if _, err := manager.Lookup(ctx, GetKey("/app.js")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss before activation, got %v", err)
	}

	if err := manager.Activate(ctx); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if err := manager.Store(ctx, GetKey("/app.js"), Snapshot{Status: 200, Body: []byte("one")}); err != nil {
		t.Fatalf("store error: %v", err)
	}
	if err := manager.Store(ctx, GetKey("/app.js"), Snapshot{Status: 200, Body: []byte("two")}); err != nil {
		t.Fatalf("store error: %v", err)
	}
	snap, err := manager.Lookup(ctx, GetKey("/app.js"))
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if string(snap.Body) != "two" {
		t.Fatalf("store should overwrite, got %s", snap.Body)
	}

	post := Key{Method: http.MethodPost, URL: "/app.js"}
	if _, err := manager.Lookup(ctx, post); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-GET lookup must miss, got %v", err)
	}
	if err := manager.Store(ctx, post, Snapshot{Status: 200}); err == nil {
		t.Fatalf("non-GET store must fail")
	}
}

func TestCacheable(t *testing.T) {
	testCases := []struct {
		status     int
		sameOrigin bool
		want       bool
	}{
		{http.StatusOK, true, true},
		{http.StatusOK, false, false},
		{http.StatusNotFound, true, false},
		{http.StatusPartialContent, true, false},
	}
	for _, tc := range testCases {
		if got := Cacheable(tc.status, tc.sameOrigin); got != tc.want {
			t.Fatalf("Cacheable(%d, %v) = %v, want %v", tc.status, tc.sameOrigin, got, tc.want)
		}
	}
}

func TestNewManagerValidatesOptions(t *testing.T) {
	if _, err := NewManager(ManagerOptions{Site: "share", Version: "v1"}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewManager(ManagerOptions{Site: "share", Version: "a/b", Store: newTestStore(t), Fetcher: newStubFetcher(nil), Logger: logging.Discard()}); err == nil {
		t.Fatalf("expected error for unsafe version")
	}
}

func newTestManager(t *testing.T, store Store, fetcher Fetcher, version string) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerOptions{
		Site:    "share",
		Version: version,
		Store:   store,
		Fetcher: fetcher,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

type stubFetcher struct {
	statuses map[string]int
	failures map[string]error

	mu    sync.Mutex
	calls map[string]int
}

func newStubFetcher(statuses map[string]int) *stubFetcher {
	return &stubFetcher{
		statuses: statuses,
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *stubFetcher) FetchSnapshot(ctx context.Context, key Key) (Snapshot, error) {
	f.mu.Lock()
	f.calls[key.URL]++
	f.mu.Unlock()

	if err, ok := f.failures[key.URL]; ok {
		return Snapshot{}, err
	}
	status, ok := f.statuses[key.URL]
	if !ok {
		return Snapshot{}, fmt.Errorf("no stub for %s", key.URL)
	}
	return Snapshot{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte("body:" + key.URL),
	}, nil
}

func (f *stubFetcher) count(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[uri]
}

type failingDeleteStore struct {
	Store
	failOn string
}

func (s *failingDeleteStore) DeleteGeneration(ctx context.Context, gen Generation) error {
	if gen.Version == s.failOn {
		return errors.New("disk busy")
	}
	return s.Store.DeleteGeneration(ctx, gen)
}
