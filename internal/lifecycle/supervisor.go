package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/share-gate/share-gate/internal/cache"
)

// Supervisor 持有所有站点的 worker，并在启动阶段并发执行生命周期。
type Supervisor struct {
	logger  *logrus.Logger
	timeout time.Duration
	workers map[string]*Worker
	ordered []*Worker
}

// NewSupervisor 创建 Supervisor，timeout 为单次 RunAll 的总时限（<=0 表示不限）。
func NewSupervisor(logger *logrus.Logger, timeout time.Duration) *Supervisor {
	return &Supervisor{
		logger:  logger,
		timeout: timeout,
		workers: make(map[string]*Worker),
	}
}

// Add 注册一个站点 worker，站点名重复时返回错误。
func (s *Supervisor) Add(w *Worker) error {
	site := w.Manager().Site()
	if _, exists := s.workers[site]; exists {
		return fmt.Errorf("duplicate lifecycle worker for site %s", site)
	}
	s.workers[site] = w
	s.ordered = append(s.ordered, w)
	return nil
}

// Manager 返回指定站点的缓存管理器。
func (s *Supervisor) Manager(site string) (*cache.Manager, bool) {
	w, ok := s.workers[site]
	if !ok {
		return nil, false
	}
	return w.Manager(), true
}

// RunAll 并发运行所有 worker；单站点安装失败不会影响其他站点。
// 返回的错误只来自激活阶段的清理失败，调用方通常记录后继续启动。
func (s *Supervisor) RunAll(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	// 不使用 WithContext，避免一个站点的清理错误取消其他站点的安装。
	var group errgroup.Group
	for _, w := range s.ordered {
		group.Go(func() error {
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("site %s: %w", w.Manager().Site(), err)
			}
			return nil
		})
	}
	err := group.Wait()

	fields := logrus.Fields{
		"action":     "lifecycle",
		"sites":      len(s.ordered),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("lifecycle_incomplete")
		return err
	}
	s.logger.WithFields(fields).Info("lifecycle_complete")
	return nil
}

// Snapshot 按注册顺序返回所有站点状态。
func (s *Supervisor) Snapshot() []Status {
	result := make([]Status, len(s.ordered))
	for i, w := range s.ordered {
		result[i] = w.Status()
	}
	return result
}

// Status 返回单个站点状态。
func (s *Supervisor) Status(site string) (Status, bool) {
	w, ok := s.workers[site]
	if !ok {
		return Status{}, false
	}
	return w.Status(), true
}
