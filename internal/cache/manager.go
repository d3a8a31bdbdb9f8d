package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/share-gate/share-gate/internal/logging"
)

const installConcurrency = 8

// Fetcher 从源站拉取完整响应快照，供安装阶段批量预取。
type Fetcher interface {
	FetchSnapshot(ctx context.Context, key Key) (Snapshot, error)
}

// ManagerOptions 显式注入站点、版本与依赖，避免全局常量。
type ManagerOptions struct {
	Site    string
	Version string
	Store   Store
	Fetcher Fetcher
	Logger  *logrus.Logger
}

// Manager 管理单个站点的缓存代际：安装当前版本、激活并清理旧版本、提供读写。
type Manager struct {
	site    string
	version string
	store   Store
	fetcher Fetcher
	logger  *logrus.Logger
	now     func() time.Time

	mu     sync.RWMutex
	active string
}

// NewManager 校验依赖并构造 Manager，此时尚无活跃代际。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if err := validateGeneration(Generation{Site: opts.Site, Version: opts.Version}); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Manager{
		site:    opts.Site,
		version: opts.Version,
		store:   opts.Store,
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
		now:     time.Now,
	}, nil
}

// Site 返回站点名称。
func (m *Manager) Site() string { return m.site }

// Version 返回配置中的当前版本字符串。
func (m *Manager) Version() string { return m.version }

// Active 返回正在对外服务的版本，尚未激活任何代际时为空。
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Restore 读取持久化的活跃版本，使上一代在新版本安装期间（或安装失败后）继续服务。
func (m *Manager) Restore(ctx context.Context) error {
	version, err := m.store.ActiveVersion(ctx, m.site)
	if err != nil {
		return fmt.Errorf("restore active generation: %w", err)
	}
	if version == "" {
		return nil
	}
	m.mu.Lock()
	m.active = version
	m.mu.Unlock()
	m.logger.WithFields(logging.GenerationFields("cache_restore", m.site, version)).Info("active generation restored")
	return nil
}

// Install 并发拉取清单中的全部资产，只有全部成功才一次性写入当前代际。
func (m *Manager) Install(ctx context.Context, manifest []string) error {
	started := m.now()
	fields := logging.GenerationFields("cache_install", m.site, m.version)
	fields["assets"] = len(manifest)

	records, err := m.fetchManifest(ctx, manifest)
	if err == nil {
		err = m.store.PutBatch(ctx, m.generation(m.version), records)
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error("cache_install_failed")
		return fmt.Errorf("%w: %s/%s: %w", ErrInstallFailed, m.site, m.version, err)
	}

	m.logger.WithFields(fields).Info("cache_install_complete")
	return nil
}

func (m *Manager) fetchManifest(ctx context.Context, manifest []string) ([]Record, error) {
	keys := dedupeManifest(manifest)
	records := make([]Record, len(keys))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(installConcurrency)
	for i, key := range keys {
		group.Go(func() error {
			snap, err := m.fetcher.FetchSnapshot(groupCtx, key)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key.URL, err)
			}
			if snap.Status < 200 || snap.Status > 299 {
				return fmt.Errorf("fetch %s: unexpected status %d", key.URL, snap.Status)
			}
			if snap.StoredAt.IsZero() {
				snap.StoredAt = m.now().UTC()
			}
			records[i] = Record{Key: key, Snapshot: snap}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// Activate 删除当前版本以外的所有代际（逐个尽力删除），然后立即接管服务。
func (m *Manager) Activate(ctx context.Context) error {
	versions, listErr := m.store.Versions(ctx, m.site)
	if listErr != nil {
		m.logger.WithError(listErr).
			WithFields(logging.GenerationFields("cache_activate", m.site, m.version)).
			Warn("cache_list_failed")
	}

	var errs []error
	if listErr != nil {
		errs = append(errs, listErr)
	}
	for _, version := range versions {
		if version == m.version {
			continue
		}
		if err := m.store.DeleteGeneration(ctx, m.generation(version)); err != nil {
			m.logger.WithError(err).
				WithFields(logging.GenerationFields("cache_evict", m.site, version)).
				Warn("cache_evict_failed")
			errs = append(errs, fmt.Errorf("delete %s: %w", version, err))
			continue
		}
		m.logger.WithFields(logging.GenerationFields("cache_evict", m.site, version)).Info("stale generation deleted")
	}

	if err := m.store.SetActiveVersion(ctx, m.site, m.version); err != nil {
		errs = append(errs, fmt.Errorf("persist active version: %w", err))
	}
	m.mu.Lock()
	m.active = m.version
	m.mu.Unlock()

	m.logger.WithFields(logging.GenerationFields("cache_activate", m.site, m.version)).Info("cache_activate_complete")
	return errors.Join(errs...)
}

// Lookup 只读查询活跃代际，非 GET 或无活跃代际时视为未命中。
func (m *Manager) Lookup(ctx context.Context, key Key) (*Snapshot, error) {
	if key.Method != http.MethodGet {
		return nil, ErrNotFound
	}
	active := m.Active()
	if active == "" {
		return nil, ErrNotFound
	}
	return m.store.Get(ctx, m.generation(active), key)
}

// Store 将合格响应写回活跃代际，覆盖同键旧值。
func (m *Manager) Store(ctx context.Context, key Key, snap Snapshot) error {
	if key.Method != http.MethodGet {
		return fmt.Errorf("refusing to cache %s request", key.Method)
	}
	active := m.Active()
	if active == "" {
		return ErrNoActiveGeneration
	}
	if snap.StoredAt.IsZero() {
		snap.StoredAt = m.now().UTC()
	}
	return m.store.Put(ctx, m.generation(active), key, snap)
}

// Generations 列出站点当前存在的所有代际。
func (m *Manager) Generations(ctx context.Context) ([]string, error) {
	return m.store.Versions(ctx, m.site)
}

func (m *Manager) generation(version string) Generation {
	return Generation{Site: m.site, Version: version}
}

// Cacheable 判定响应能否写回：仅 200 且同源（basic）响应。
func Cacheable(status int, sameOrigin bool) bool {
	return status == http.StatusOK && sameOrigin
}

func dedupeManifest(manifest []string) []Key {
	seen := make(map[string]struct{}, len(manifest))
	keys := make([]Key, 0, len(manifest))
	for _, uri := range manifest {
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		keys = append(keys, GetKey(uri))
	}
	return keys
}
