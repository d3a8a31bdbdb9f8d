// Package lifecycle 驱动每个站点缓存代际的安装与激活流程，
// 并在服务开始监听前完成，保证请求不会读到未填充完毕的代际。
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/share-gate/share-gate/internal/cache"
	"github.com/share-gate/share-gate/internal/logging"
)

// State 是站点 worker 当前所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Status 是 worker 的只读快照，供诊断接口输出。
type Status struct {
	Site      string    `json:"site"`
	Version   string    `json:"version"`
	Active    string    `json:"active"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Worker 负责单个站点：恢复上一代 → 安装当前版本 → 立即激活。
type Worker struct {
	manager  *cache.Manager
	manifest []string
	logger   *logrus.Logger

	mu        sync.RWMutex
	state     State
	lastErr   error
	updatedAt time.Time
}

// NewWorker 构造 Worker，初始状态为 parsed。
func NewWorker(manager *cache.Manager, manifest []string, logger *logrus.Logger) (*Worker, error) {
	if manager == nil {
		return nil, errors.New("cache manager is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	w := &Worker{
		manager:  manager,
		manifest: append([]string(nil), manifest...),
		logger:   logger,
	}
	w.transition(StateParsed, nil)
	return w, nil
}

// Manager 返回 worker 持有的缓存管理器。
func (w *Worker) Manager() *cache.Manager { return w.manager }

// Run 执行完整生命周期。安装失败时 worker 进入 redundant，上一代继续服务，返回 nil 以外的错误只表示激活清理不完整。
func (w *Worker) Run(ctx context.Context) error {
	if err := w.manager.Restore(ctx); err != nil {
		w.logger.WithError(err).
			WithFields(logging.GenerationFields("lifecycle_restore", w.manager.Site(), w.manager.Version())).
			Warn("lifecycle_restore_failed")
	}

	w.transition(StateInstalling, nil)
	if err := w.manager.Install(ctx, w.manifest); err != nil {
		w.transition(StateRedundant, err)
		return nil
	}
	w.transition(StateInstalled, nil)

	// 安装成功后不等待旧实例，直接进入激活。
	w.transition(StateActivating, nil)
	err := w.manager.Activate(ctx)
	w.transition(StateActivated, err)
	return err
}

// State 返回当前阶段。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Status 返回诊断快照。
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	status := Status{
		Site:      w.manager.Site(),
		Version:   w.manager.Version(),
		Active:    w.manager.Active(),
		State:     w.state,
		UpdatedAt: w.updatedAt,
	}
	if w.lastErr != nil {
		status.Error = w.lastErr.Error()
	}
	return status
}

func (w *Worker) transition(next State, err error) {
	w.mu.Lock()
	prev := w.state
	w.state = next
	w.lastErr = err
	w.updatedAt = time.Now().UTC()
	w.mu.Unlock()

	fields := logging.GenerationFields("lifecycle", w.manager.Site(), w.manager.Version())
	fields["from"] = string(prev)
	fields["to"] = string(next)
	if err != nil {
		w.logger.WithError(err).WithFields(fields).Warn("lifecycle_transition")
		return
	}
	w.logger.WithFields(fields).Debug("lifecycle_transition")
}
