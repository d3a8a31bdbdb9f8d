package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	activeMarkerName = "ACTIVE"
	entrySuffix      = ".entry"
	stagingPattern   = ".staging-*"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一文件并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, gen Generation, key Key) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(gen, key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	return snap, nil
}

func (s *fileStore) Put(ctx context.Context, gen Generation, key Key, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.entryPath(gen, key)
	if err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	unlock := s.lockPath(filePath)
	defer unlock()
	return writeFileAtomic(filePath, data)
}

// PutBatch 先把所有条目写入站点目录下的隐藏暂存目录。代际尚不存在时整个暂存目录一次
// rename 成为代际目录；代际已存在时逐条 rename 合并，中途崩溃可能留下部分条目。
func (s *fileStore) PutBatch(ctx context.Context, gen Generation, records []Record) error {
	genDir, err := s.generationDir(gen)
	if err != nil {
		return err
	}
	siteDir := filepath.Dir(genDir)
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(siteDir, stagingPattern)
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	staged := make([]string, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := encodeSnapshot(record.Snapshot)
		if err != nil {
			return fmt.Errorf("encode %s: %w", record.Key, err)
		}
		rel := entryRelPath(record.Key)
		target := filepath.Join(staging, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		staged = append(staged, rel)
	}

	if _, err := os.Stat(genDir); errors.Is(err, fs.ErrNotExist) {
		if err := os.Chmod(staging, 0o755); err != nil {
			return err
		}
		if err := os.Rename(staging, genDir); err == nil {
			return nil
		}
		// 并发写入已创建同名代际，退回逐条合并。
	}

	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return err
	}
	for _, rel := range staged {
		target := filepath.Join(genDir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		unlock := s.lockPath(target)
		err := os.Rename(filepath.Join(staging, rel), target)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) Versions(ctx context.Context, site string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	siteDir, err := s.siteDir(site)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(siteDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		versions = append(versions, entry.Name())
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *fileStore) DeleteGeneration(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	genDir, err := s.generationDir(gen)
	if err != nil {
		return err
	}
	return os.RemoveAll(genDir)
}

func (s *fileStore) ActiveVersion(ctx context.Context, site string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	siteDir, err := s.siteDir(site)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(siteDir, activeMarkerName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *fileStore) SetActiveVersion(ctx context.Context, site, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(version); err != nil {
		return err
	}
	siteDir, err := s.siteDir(site)
	if err != nil {
		return err
	}
	marker := filepath.Join(siteDir, activeMarkerName)
	unlock := s.lockPath(marker)
	defer unlock()
	return writeFileAtomic(marker, []byte(version+"\n"))
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockPath(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) siteDir(site string) (string, error) {
	if err := validateName(site); err != nil {
		return "", fmt.Errorf("site: %w", err)
	}
	return filepath.Join(s.basePath, site), nil
}

func (s *fileStore) generationDir(gen Generation) (string, error) {
	siteDir, err := s.siteDir(gen.Site)
	if err != nil {
		return "", err
	}
	if err := validateName(gen.Version); err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	return filepath.Join(siteDir, gen.Version), nil
}

func (s *fileStore) entryPath(gen Generation, key Key) (string, error) {
	genDir, err := s.generationDir(gen)
	if err != nil {
		return "", err
	}
	return filepath.Join(genDir, entryRelPath(key)), nil
}

// entryRelPath 以请求键摘要分桶，避免查询串和路径冲突。
func entryRelPath(key Key) string {
	digest := key.digest()
	return filepath.Join(digest[:2], digest+entrySuffix)
}

func writeFileAtomic(filePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("name required")
	}
	if strings.HasPrefix(name, ".") || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
