package task

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockmaster/internal/model"
	"stockmaster/internal/repository"
	"stockmaster/internal/service"
	"stockmaster/pkg/logger"
	"stockmaster/pkg/metrics"
)

// ==================== PollerTask 到期工作轮询任务 ====================

// PollerTask 每分钟扫描到期的规则应用与到期的自动恢复并派发。
// 派发是尽力而为的：状态机自身的守卫保证重复派发退化为 no-op，
// 轮询器无需任何跨周期状态
type PollerTask struct {
	ruleRepo repository.RuleRepository
	ruleSvc  *service.RuleService
	cron     *cron.Cron

	// 并发控制
	concurrencyLimit int
	batchSize        int

	now func() time.Time
}

// NewPollerTask 创建轮询任务
func NewPollerTask(ruleRepo repository.RuleRepository, ruleSvc *service.RuleService) *PollerTask {
	return &PollerTask{
		ruleRepo:         ruleRepo,
		ruleSvc:          ruleSvc,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 5,
		batchSize:        500,
		now:              time.Now,
	}
}

// SetConcurrency 设置并发参数
func (t *PollerTask) SetConcurrency(limit, batchSize int) {
	t.concurrencyLimit = limit
	t.batchSize = batchSize
}

// Start 启动定时任务（每分钟）
func (t *PollerTask) Start() {
	_, err := t.cron.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.PollOnce(ctx)
	})
	if err != nil {
		logger.L().Errorf("[PollerTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	logger.L().Info("[PollerTask] 已启动 (每分钟)")
}

// Stop 停止任务
func (t *PollerTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	logger.L().Info("[PollerTask] 已停止")
}

// PollOnce 单轮扫描：先派发到期应用，再派发到期恢复
func (t *PollerTask) PollOnce(ctx context.Context) {
	now := t.now()

	due, err := t.ruleRepo.ListDueApplications(ctx, now, t.batchSize)
	if err != nil {
		logger.L().Errorf("[PollerTask] 查询到期应用失败: %v", err)
	} else if len(due) > 0 {
		logger.L().Infof("[PollerTask] 派发 %d 条到期应用", len(due))
		t.dispatch(ctx, due, "apply", t.ruleSvc.ApplyRule)
	}

	restores, err := t.ruleRepo.ListDueRestores(ctx, now, t.batchSize)
	if err != nil {
		logger.L().Errorf("[PollerTask] 查询到期恢复失败: %v", err)
	} else if len(restores) > 0 {
		logger.L().Infof("[PollerTask] 派发 %d 条到期恢复", len(restores))
		t.dispatch(ctx, restores, "restore", t.ruleSvc.RestoreRule)
	}
}

// dispatch 按并发上限派发一批工作项，单条失败只记日志
func (t *PollerTask) dispatch(
	ctx context.Context,
	apps []model.RuleApplication,
	kind string,
	fn func(ctx context.Context, appID int64) (service.ApplyResult, error),
) {
	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	for i := range apps {
		select {
		case <-ctx.Done():
			logger.L().Warn("[PollerTask] 派发超时停止")
			wg.Wait()
			return
		default:
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(appID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			metrics.PollerDispatched.WithLabelValues(kind).Inc()
			result, err := fn(ctx, appID)
			if err != nil {
				logger.L().Errorf("[PollerTask] %s 失败 app=%d: %v", kind, appID, err)
				return
			}
			if result.Outcome == service.OutcomeSkipped {
				logger.L().Debugf("[PollerTask] %s 跳过 app=%d: %s", kind, appID, result.Reason)
			}
		}(apps[i].ID)
	}

	wg.Wait()
}
