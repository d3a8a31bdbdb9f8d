package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelStore 把所有站点放进同一个 leveldb，键布局：
//
//	e\x00<site>\x00<version>\x00<method> <url> -> gob(Snapshot)
//	v\x00<site>\x00<version>                   -> 代际标记
//	a\x00<site>                                -> 活跃版本
type levelStore struct {
	db *leveldb.DB
}

// NewLevelDBStore 打开（或创建）path 下的 leveldb 缓存。
func NewLevelDBStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelStore{db: db}, nil
}

func (s *levelStore) Get(ctx context.Context, gen Generation, key Key) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateGeneration(gen); err != nil {
		return nil, err
	}
	data, err := s.db.Get(entryKey(gen, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeSnapshot(data)
}

func (s *levelStore) Put(ctx context.Context, gen Generation, key Key, snap Snapshot) error {
	return s.PutBatch(ctx, gen, []Record{{Key: key, Snapshot: snap}})
}

func (s *levelStore) PutBatch(ctx context.Context, gen Generation, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(gen); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, record := range records {
		data, err := encodeSnapshot(record.Snapshot)
		if err != nil {
			return fmt.Errorf("encode %s: %w", record.Key, err)
		}
		batch.Put(entryKey(gen, record.Key), data)
	}
	batch.Put(versionKey(gen), []byte{1})
	return s.db.Write(batch, nil)
}

func (s *levelStore) Versions(ctx context.Context, site string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(site); err != nil {
		return nil, fmt.Errorf("site: %w", err)
	}

	prefix := []byte("v\x00" + site + "\x00")
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var versions []string
	for it.Next() {
		versions = append(versions, string(it.Key()[len(prefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *levelStore) DeleteGeneration(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(gen); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(gen)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete(versionKey(gen))
	return s.db.Write(batch, nil)
}

func (s *levelStore) ActiveVersion(ctx context.Context, site string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateName(site); err != nil {
		return "", fmt.Errorf("site: %w", err)
	}
	data, err := s.db.Get([]byte("a\x00"+site), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (s *levelStore) SetActiveVersion(ctx context.Context, site, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(Generation{Site: site, Version: version}); err != nil {
		return err
	}
	return s.db.Put([]byte("a\x00"+site), []byte(version), nil)
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

func validateGeneration(gen Generation) error {
	if err := validateName(gen.Site); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := validateName(gen.Version); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	return nil
}

func entryPrefix(gen Generation) []byte {
	return []byte("e\x00" + gen.Site + "\x00" + gen.Version + "\x00")
}

func entryKey(gen Generation, key Key) []byte {
	return append(entryPrefix(gen), key.String()...)
}

func versionKey(gen Generation) []byte {
	return []byte("v\x00" + gen.Site + "\x00" + gen.Version)
}
