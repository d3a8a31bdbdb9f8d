package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/share-gate/share-gate/internal/cache"
	"github.com/share-gate/share-gate/internal/logging"
)

func TestWorkerActivatesAfterInstall(t *testing.T) {
	store := newStore(t)
	worker := newWorker(t, store, "share", "v2", statusFetcher{"/": 200, "/index.html": 200})

	seed := cache.Generation{Site: "share", Version: "v1"}
	if err := store.PutBatch(context.Background(), seed, nil); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if worker.State() != StateActivated {
		t.Fatalf("expected activated, got %s", worker.State())
	}
	status := worker.Status()
	if status.Active != "v2" || status.Error != "" {
		t.Fatalf("unexpected status: %+v", status)
	}
	versions, err := store.Versions(context.Background(), "share")
	if err != nil || len(versions) != 1 || versions[0] != "v2" {
		t.Fatalf("expected only v2, got %v / %v", versions, err)
	}
}

func TestWorkerInstallFailureBecomesRedundant(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	old := cache.Generation{Site: "share", Version: "v1"}
	if err := store.PutBatch(ctx, old, []cache.Record{{Key: cache.GetKey("/index.html"), Snapshot: cache.Snapshot{Status: 200, Body: []byte("old")}}}); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if err := store.SetActiveVersion(ctx, "share", "v1"); err != nil {
		t.Fatalf("seed active error: %v", err)
	}

	worker := newWorker(t, store, "share", "v2", statusFetcher{"/index.html": 404})
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("install failure must not be fatal: %v", err)
	}
	if worker.State() != StateRedundant {
		t.Fatalf("expected redundant, got %s", worker.State())
	}
	status := worker.Status()
	if status.Active != "v1" {
		t.Fatalf("previous generation should keep serving, got %q", status.Active)
	}
	if !strings.Contains(status.Error, cache.ErrInstallFailed.Error()) {
		t.Fatalf("status should carry the install error, got %q", status.Error)
	}
	versions, err := store.Versions(ctx, "share")
	if err != nil || len(versions) != 1 || versions[0] != "v1" {
		t.Fatalf("failed install must not delete or create generations, got %v / %v", versions, err)
	}
}

func TestSupervisorRunsAllSites(t *testing.T) {
	store := newStore(t)
	supervisor := NewSupervisor(logging.Discard(), 0)

	good := newWorker(t, store, "share", "v1", statusFetcher{"/": 200})
	bad := newWorker(t, store, "playground", "v1", statusFetcher{"/": 500})
	for _, w := range []*Worker{good, bad} {
		if err := supervisor.Add(w); err != nil {
			t.Fatalf("add error: %v", err)
		}
	}
	if err := supervisor.Add(good); err == nil {
		t.Fatalf("duplicate site should be rejected")
	}

	if err := supervisor.RunAll(context.Background()); err != nil {
		t.Fatalf("run all error: %v", err)
	}

	snapshot := supervisor.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected two statuses, got %d", len(snapshot))
	}
	if snapshot[0].State != StateActivated || snapshot[1].State != StateRedundant {
		t.Fatalf("unexpected states: %+v", snapshot)
	}
	if _, ok := supervisor.Manager("share"); !ok {
		t.Fatalf("manager lookup failed")
	}
	if _, ok := supervisor.Status("missing"); ok {
		t.Fatalf("unknown site should not resolve")
	}
}

func newStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	return store
}

func newWorker(t *testing.T, store cache.Store, site, version string, fetcher cache.Fetcher) *Worker {
	t.Helper()
	manager, err := cache.NewManager(cache.ManagerOptions{
		Site:    site,
		Version: version,
		Store:   store,
		Fetcher: fetcher,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	manifest := make([]string, 0, len(fetcher.(statusFetcher)))
	for uri := range fetcher.(statusFetcher) {
		manifest = append(manifest, uri)
	}
	worker, err := NewWorker(manager, manifest, logging.Discard())
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}
	if worker.State() != StateParsed {
		t.Fatalf("new worker should start parsed, got %s", worker.State())
	}
	return worker
}

type statusFetcher map[string]int

func (f statusFetcher) FetchSnapshot(_ context.Context, key cache.Key) (cache.Snapshot, error) {
	status, ok := f[key.URL]
	if !ok {
		return cache.Snapshot{}, errors.New("unexpected fetch")
	}
	return cache.Snapshot{Status: status, Header: http.Header{}, Body: []byte(key.URL)}, nil
}
