package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/share-gate/share-gate/internal/logging"
)

const defaultWriteBackTimeout = 30 * time.Second

// WriteBack 负责“先返回响应、后写缓存”的异步写回，写入失败只记录日志。
type WriteBack struct {
	logger  *logrus.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewWriteBack 构造写回器，timeout <= 0 时使用默认 30s。
func NewWriteBack(logger *logrus.Logger, timeout time.Duration) *WriteBack {
	if timeout <= 0 {
		timeout = defaultWriteBackTimeout
	}
	return &WriteBack{logger: logger, timeout: timeout}
}

// Schedule 在后台写入快照，不阻塞调用方；ctx 取消不会中断写入。
func (w *WriteBack) Schedule(ctx context.Context, manager *Manager, key Key, snap Snapshot) {
	if manager == nil {
		return
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()

		if err := manager.Store(detached, key, snap); err != nil {
			if w.logger == nil {
				return
			}
			fields := logging.GenerationFields("cache_write_back", manager.Site(), manager.Active())
			fields["key"] = key.String()
			w.logger.WithError(err).WithFields(fields).Warn("cache_write_failed")
		}
	}()
}

// Wait 阻塞直到所有已调度的写回完成，用于优雅退出与测试。
func (w *WriteBack) Wait() {
	w.wg.Wait()
}
