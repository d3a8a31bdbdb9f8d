package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// Store 负责按代际管理响应快照。磁盘/数据库布局由具体实现决定，但语义一致：
//
//	<site>/<version>/<key>  -> Snapshot
//	<site>/ACTIVE           -> 当前对外服务的 version
type Store interface {
	// Get 返回指定代际中的快照，不存在时返回 ErrNotFound。
	Get(ctx context.Context, gen Generation, key Key) (*Snapshot, error)

	// Put 写入单个快照并覆盖同键旧值，写入需保证原子性。
	Put(ctx context.Context, gen Generation, key Key, snap Snapshot) error

	// PutBatch 以全有或全无的方式写入一组快照，同时确保代际存在。
	// 新建代际的写入是原子的；向已存在代际追加时，fs 实现只保证暂存阶段失败不留痕迹。
	PutBatch(ctx context.Context, gen Generation, records []Record) error

	// Versions 列出站点下所有已存在的代际版本。
	Versions(ctx context.Context, site string) ([]string, error)

	// DeleteGeneration 删除整个代际，不存在时视为成功。
	DeleteGeneration(ctx context.Context, gen Generation) error

	// ActiveVersion 返回持久化的活跃版本，从未激活时返回空串。
	ActiveVersion(ctx context.Context, site string) (string, error)

	// SetActiveVersion 持久化活跃版本指针。
	SetActiveVersion(ctx context.Context, site, version string) error

	Close() error
}

// Generation 唯一定位一个缓存代际（站点 + 版本字符串）。
type Generation struct {
	Site    string
	Version string
}

// Key 是规范化后的请求键：方法 + 站内 URI（路径与原始查询串）。
type Key struct {
	Method string
	URL    string
}

// GetKey 构造 GET 请求键，缓存只接受 GET。
func GetKey(uri string) Key {
	return Key{Method: http.MethodGet, URL: uri}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

func (k Key) digest() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Snapshot 是写入后不可变的响应副本。
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Record 是批量写入时的一条键值。
type Record struct {
	Key      Key
	Snapshot Snapshot
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNoActiveGeneration 表示站点尚无可服务的代际。
	ErrNoActiveGeneration = errors.New("no active cache generation")
	// ErrInstallFailed 表示资产清单未能完整写入新代际。
	ErrInstallFailed = errors.New("cache install failed")
)
