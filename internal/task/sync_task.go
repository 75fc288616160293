package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockmaster/internal/repository"
	"stockmaster/internal/service"
	"stockmaster/pkg/logger"
	"stockmaster/pkg/shopify"
)

// ==================== StoreSyncTask 店铺目录同步任务 ====================

// StoreSyncTask 周期性全量对账所有活跃店铺
// 失败重试固定间隔、固定次数；凭证类永久失败立即放弃
type StoreSyncTask struct {
	storeRepo repository.StoreRepository
	syncSvc   *service.SyncService
	cron      *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration

	// 重试策略
	maxAttempts int
	retryDelay  time.Duration

	intervalMinutes int

	// webhook 注册回调地址，为空时跳过注册
	callbackURL string
}

// NewStoreSyncTask 创建店铺同步任务
func NewStoreSyncTask(storeRepo repository.StoreRepository, syncSvc *service.SyncService) *StoreSyncTask {
	return &StoreSyncTask{
		storeRepo:        storeRepo,
		syncSvc:          syncSvc,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 3,
		sleepTime:        200 * time.Millisecond,
		maxAttempts:      3,
		retryDelay:       60 * time.Second,
		intervalMinutes:  360,
	}
}

// SetConcurrency 设置并发参数
func (t *StoreSyncTask) SetConcurrency(limit int, sleep time.Duration) {
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

// SetRetry 设置重试策略
func (t *StoreSyncTask) SetRetry(maxAttempts int, delay time.Duration) {
	t.maxAttempts = maxAttempts
	t.retryDelay = delay
}

// SetInterval 设置同步周期（分钟）
func (t *StoreSyncTask) SetInterval(minutes int) {
	t.intervalMinutes = minutes
}

// SetCallbackURL 设置 webhook 回调地址
func (t *StoreSyncTask) SetCallbackURL(url string) {
	t.callbackURL = url
}

// Start 启动定时任务
func (t *StoreSyncTask) Start() {
	// 首次执行（延迟 30 秒，等服务完全就绪）
	go func() {
		time.Sleep(30 * time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
		defer cancel()
		logger.L().Info("[StoreSyncTask] 执行首次目录同步...")
		t.syncAllStores(ctx)
	}()

	spec := fmt.Sprintf("@every %dm", t.intervalMinutes)
	_, err := t.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
		defer cancel()
		t.syncAllStores(ctx)
	})
	if err != nil {
		logger.L().Errorf("[StoreSyncTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	logger.L().Infof("[StoreSyncTask] 已启动 (每 %d 分钟)", t.intervalMinutes)
}

// Stop 停止任务
func (t *StoreSyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	logger.L().Info("[StoreSyncTask] 已停止")
}

// syncAllStores 同步所有活跃店铺
func (t *StoreSyncTask) syncAllStores(ctx context.Context) {
	stores, err := t.storeRepo.ListActive(ctx)
	if err != nil {
		logger.L().Errorf("[StoreSyncTask] 获取店铺列表失败: %v", err)
		return
	}
	if len(stores) == 0 {
		logger.L().Info("[StoreSyncTask] 无活跃店铺需要同步")
		return
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup
	var successCount, failCount int
	var mu sync.Mutex

	logger.L().Infof("[StoreSyncTask] 开始处理 %d 个店铺", len(stores))

	for i := range stores {
		store := stores[i]
		select {
		case <-ctx.Done():
			logger.L().Warn("[StoreSyncTask] 任务超时停止")
			wg.Wait()
			return
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func(storeID int64, domain string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := t.syncWithRetry(ctx, storeID); err != nil {
				logger.L().Errorf("[StoreSyncTask] 店铺 %s(%d) 同步失败: %v", domain, storeID, err)
				mu.Lock()
				failCount++
				mu.Unlock()
			} else {
				mu.Lock()
				successCount++
				mu.Unlock()
				t.ensureWebhooks(ctx, storeID)
			}
		}(store.ID, store.ShopDomain)
	}

	wg.Wait()
	logger.L().Infof("[StoreSyncTask] 同步完成: 成功 %d, 失败 %d", successCount, failCount)
}

// syncWithRetry 固定间隔重试；永久性错误（凭证缺失/4xx）不重试
func (t *StoreSyncTask) syncWithRetry(ctx context.Context, storeID int64) error {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		lastErr = t.syncSvc.SyncStore(ctx, storeID)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, service.ErrNoCredential) || shopify.IsPermanent(lastErr) {
			return lastErr
		}
		if attempt < t.maxAttempts {
			logger.L().Warnf("[StoreSyncTask] 店铺 %d 第 %d 次同步失败，%s 后重试: %v",
				storeID, attempt, t.retryDelay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.retryDelay):
			}
		}
	}
	return lastErr
}

// ensureWebhooks 同步成功后幂等补齐远端 webhook 订阅
func (t *StoreSyncTask) ensureWebhooks(ctx context.Context, storeID int64) {
	if t.callbackURL == "" {
		return
	}
	store, err := t.storeRepo.GetByID(ctx, storeID)
	if err != nil {
		logger.L().Warnf("[StoreSyncTask] 店铺 %d 读取失败，跳过 webhook 注册: %v", storeID, err)
		return
	}
	if err := t.syncSvc.EnsureWebhooks(ctx, store, t.callbackURL); err != nil {
		logger.L().Warnf("[StoreSyncTask] 店铺 %d webhook 注册警告: %v", storeID, err)
	}
}

// ==================== 手动触发 ====================

// SyncStoreNow 立即同步单个店铺
func (t *StoreSyncTask) SyncStoreNow(ctx context.Context, storeID int64) error {
	return t.syncWithRetry(ctx, storeID)
}

// SyncAllNow 立即同步所有店铺
func (t *StoreSyncTask) SyncAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
		defer cancel()
		t.syncAllStores(ctx)
	}()
}
