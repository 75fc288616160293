package task

import (
	"context"
	"time"

	"stockmaster/internal/repository"
	"stockmaster/internal/service"
	"stockmaster/pkg/logger"
)

// ==================== TaskManager 后台任务管理器 ====================

// TaskManager 统一管理后台任务
// 管理范围：店铺目录同步、到期工作轮询
type TaskManager struct {
	syncTask   *StoreSyncTask
	pollerTask *PollerTask
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	// Repositories
	StoreRepo repository.StoreRepository
	RuleRepo  repository.RuleRepository

	// Services
	SyncService *service.SyncService
	RuleService *service.RuleService
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	// 目录同步
	SyncEnabled         bool
	SyncIntervalMinutes int
	SyncConcurrency     int
	SyncMaxAttempts     int
	SyncRetryDelay      time.Duration
	WebhookCallbackURL  string

	// 到期轮询
	PollerEnabled     bool
	PollerConcurrency int
	PollerBatchSize   int
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		SyncEnabled:         true,
		SyncIntervalMinutes: 360,
		SyncConcurrency:     3,
		SyncMaxAttempts:     3,
		SyncRetryDelay:      60 * time.Second,

		PollerEnabled:     true,
		PollerConcurrency: 5,
		PollerBatchSize:   500,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{}

	// 目录同步任务
	if cfg.SyncEnabled && deps.SyncService != nil {
		tm.syncTask = NewStoreSyncTask(deps.StoreRepo, deps.SyncService)
		tm.syncTask.SetConcurrency(cfg.SyncConcurrency, 200*time.Millisecond)
		tm.syncTask.SetRetry(cfg.SyncMaxAttempts, cfg.SyncRetryDelay)
		tm.syncTask.SetInterval(cfg.SyncIntervalMinutes)
		tm.syncTask.SetCallbackURL(cfg.WebhookCallbackURL)
	}

	// 到期轮询任务
	if cfg.PollerEnabled && deps.RuleService != nil {
		tm.pollerTask = NewPollerTask(deps.RuleRepo, deps.RuleService)
		tm.pollerTask.SetConcurrency(cfg.PollerConcurrency, cfg.PollerBatchSize)
	}

	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务
func (tm *TaskManager) Start() {
	logger.L().Info("[TaskManager] 正在启动后台任务...")

	if tm.syncTask != nil {
		tm.syncTask.Start()
	}
	if tm.pollerTask != nil {
		tm.pollerTask.Start()
	}

	logger.L().Info("[TaskManager] 后台任务已全部启动")
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	logger.L().Info("[TaskManager] 正在停止后台任务...")

	if tm.syncTask != nil {
		tm.syncTask.Stop()
	}
	if tm.pollerTask != nil {
		tm.pollerTask.Stop()
	}

	logger.L().Info("[TaskManager] 后台任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerStoreSync 触发单店铺同步
func (tm *TaskManager) TriggerStoreSync(ctx context.Context, storeID int64) error {
	if tm.syncTask == nil {
		return ErrTaskDisabled
	}
	return tm.syncTask.SyncStoreNow(ctx, storeID)
}

// TriggerAllStoresSync 触发所有店铺同步
func (tm *TaskManager) TriggerAllStoresSync() {
	if tm.syncTask != nil {
		tm.syncTask.SyncAllNow()
	}
}

// TriggerPoll 触发一轮到期扫描
func (tm *TaskManager) TriggerPoll(ctx context.Context) error {
	if tm.pollerTask == nil {
		return ErrTaskDisabled
	}
	tm.pollerTask.PollOnce(ctx)
	return nil
}

// ==================== 状态查询 ====================

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"sync":   tm.syncTask != nil,
		"poller": tm.pollerTask != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
