package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"stockmaster/internal/model"
	"stockmaster/internal/repository"
	"stockmaster/pkg/logger"
	"stockmaster/pkg/metrics"
)

// ==================== RuleService 规则引擎 ====================

// RuleService 负责规则匹配、调度与应用状态机
// 应用顺序约定：先改远端，成功后在单个本地事务内
// 完成状态迁移 + 商品可见性 + 审计日志
type RuleService struct {
	db        *gorm.DB
	rules     repository.RuleRepository
	products  repository.ProductRepository
	inventory repository.InventoryRepository
	stores    repository.StoreRepository
	sessions  SessionFactory
	notifier  Notifier
	now       func() time.Time
}

// NewRuleService 创建规则引擎
func NewRuleService(
	db *gorm.DB,
	rules repository.RuleRepository,
	products repository.ProductRepository,
	inventory repository.InventoryRepository,
	stores repository.StoreRepository,
	sessions SessionFactory,
	notifier Notifier,
) *RuleService {
	return &RuleService{
		db:        db,
		rules:     rules,
		products:  products,
		inventory: inventory,
		stores:    stores,
		sessions:  sessions,
		notifier:  notifier,
		now:       time.Now,
	}
}

// ==================== 匹配器 ====================

// Matches 纯函数匹配：规则的所有过滤条件与商品字段逐项比对，
// 空过滤条件恒匹配，全部满足才算命中。不触库、不触网
func Matches(rule *model.Rule, product *model.Product) bool {
	if rule.ProductTypeFilter != "" && rule.ProductTypeFilter != product.ProductType {
		return false
	}
	if rule.VendorFilter != "" && rule.VendorFilter != product.Vendor {
		return false
	}
	return true
}

// ==================== 调度器 ====================

// EvaluateStockLevel 库存汇总变化后调用
// 缺货/低库存：总可用量 <= 规则阈值（默认 0）即命中；
// 回归库存：总可用量 > 阈值时命中。命中且匹配即调度，
// 多条规则可同时命中，按优先级顺序处理
func (s *RuleService) EvaluateStockLevel(ctx context.Context, store *model.Store, product *model.Product, totalAvailable int) error {
	for _, trigger := range []model.TriggerType{
		model.TriggerOutOfStock,
		model.TriggerLowStock,
		model.TriggerBackInStock,
	} {
		rules, err := s.rules.ListActiveByTrigger(ctx, store.ID, trigger)
		if err != nil {
			return fmt.Errorf("list %s rules: %w", trigger, err)
		}
		for i := range rules {
			rule := &rules[i]
			if !triggerHit(rule, totalAvailable) || !Matches(rule, product) {
				continue
			}
			if _, err := s.ScheduleRule(ctx, rule, product); err != nil {
				logger.L().Errorf("[RuleService] 规则调度失败 rule=%d product=%d: %v", rule.ID, product.ID, err)
			}
		}
	}
	return nil
}

// triggerHit 库存量是否触发规则
func triggerHit(rule *model.Rule, totalAvailable int) bool {
	switch rule.TriggerType {
	case model.TriggerOutOfStock, model.TriggerLowStock:
		return totalAvailable <= rule.Threshold
	case model.TriggerBackInStock:
		return totalAvailable > rule.Threshold
	default:
		return false
	}
}

// ScheduleRule 为 (rule, product) 调度一次应用
// 幂等：已有 pending 记录时静默去重，返回 (nil, nil)
// 延迟为 0 时同步立即应用，轮询器兜底
func (s *RuleService) ScheduleRule(ctx context.Context, rule *model.Rule, product *model.Product) (*model.RuleApplication, error) {
	now := s.now()
	scheduledFor := now.Add(time.Duration(rule.DelayMinutes) * time.Minute)

	app := &model.RuleApplication{
		RuleID:       rule.ID,
		ProductID:    product.ID,
		TriggeredAt:  now,
		ScheduledFor: &scheduledFor,
	}
	created, err := s.rules.CreateApplicationIfAbsent(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("schedule application: %w", err)
	}
	if !created {
		logger.L().Debugf("[RuleService] 已存在 pending 记录，去重 rule=%d product=%d", rule.ID, product.ID)
		return nil, nil
	}

	logger.L().Infof("[RuleService] 已调度 rule=%q product=%d 计划于 %s", rule.Name, product.ID, scheduledFor.Format(time.RFC3339))

	if rule.DelayMinutes <= 0 {
		if _, err := s.ApplyRule(ctx, app.ID); err != nil {
			logger.L().Errorf("[RuleService] 立即应用失败 app=%d: %v", app.ID, err)
		}
	}
	return app, nil
}

// ==================== 状态机 ====================

// 单条应用的处理结果
type ApplyOutcome string

const (
	OutcomeSuccess ApplyOutcome = "success"
	OutcomeSkipped ApplyOutcome = "skipped"
	OutcomeFailed  ApplyOutcome = "failed"
)

// ApplyResult 应用/恢复的结果与原因
type ApplyResult struct {
	Outcome ApplyOutcome
	Reason  string
}

// ApplyRule 执行一次 pending → applied 迁移
// 前置守卫 + 事务内带条件更新双保险：并发派发下败者观察到
// 零行受影响，报告 skipped，不落日志、不发通知
func (s *RuleService) ApplyRule(ctx context.Context, appID int64) (ApplyResult, error) {
	app, err := s.rules.GetApplication(ctx, appID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load application %d: %w", appID, err)
	}
	if app.Status != model.ApplicationPending {
		metrics.RuleTransitions.WithLabelValues("skipped").Inc()
		return ApplyResult{OutcomeSkipped, fmt.Sprintf("status is %s", app.Status)}, nil
	}
	rule, product := app.Rule, app.Product
	if rule == nil || product == nil {
		return ApplyResult{}, fmt.Errorf("application %d: missing rule or product", appID)
	}

	act, err := parseAction(rule.ActionType)
	if err != nil {
		return s.failApplication(ctx, app.ID, err.Error())
	}

	store, err := s.stores.GetByID(ctx, product.StoreID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load store %d: %w", product.StoreID, err)
	}

	// 远端先行：远端失败则本地可见性保持不变，记录为终态 failed
	session := s.sessions(store)
	defer session.Close()
	if err := act.remote(ctx, session, product); err != nil {
		logger.L().Errorf("[RuleService] 远端动作失败 app=%d action=%s: %v", app.ID, rule.ActionType, err)
		return s.failApplication(ctx, app.ID, fmt.Sprintf("remote %s failed: %v", rule.ActionType, err))
	}

	now := s.now()
	effect := act.local(rule, product, now)

	var transitioned bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.rules.WithTx(tx).TransitionStatus(ctx, app.ID,
			model.ApplicationPending, model.ApplicationApplied, effect.appFields)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.products.WithTx(tx).UpdateFields(ctx, product.ID, effect.productFields); err != nil {
			return err
		}
		entry := effect.log
		entry.StoreID = store.ID
		entry.ProductID = &product.ID
		if err := s.inventory.WithTx(tx).AppendLog(ctx, &entry); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply application %d: %w", appID, err)
	}
	if !transitioned {
		metrics.RuleTransitions.WithLabelValues("skipped").Inc()
		return ApplyResult{OutcomeSkipped, "concurrent transition won"}, nil
	}

	metrics.RuleTransitions.WithLabelValues("applied").Inc()
	logger.L().Infof("[RuleService] 已应用 rule=%q product=%q app=%d", rule.Name, product.Title, app.ID)

	// 通知属外部协作方，失败只记日志，绝不回滚已完成的迁移
	if rule.SendNotification {
		payload := map[string]interface{}{
			"rule_id":       rule.ID,
			"rule_name":     rule.Name,
			"product_id":    product.ID,
			"product_title": product.Title,
			"action":        string(rule.ActionType),
			"applied_at":    now.Format(time.RFC3339),
		}
		if err := s.notifier.Notify(ctx, store.ID, "rule_applied", payload); err != nil {
			logger.L().Warnf("[RuleService] 通知分发失败 app=%d: %v", app.ID, err)
		}
	}
	return ApplyResult{OutcomeSuccess, ""}, nil
}

// RestoreRule 执行一次 applied → reversed 迁移（自动恢复路径）
// 恢复不受规则停用影响，避免商品被永久隐藏
func (s *RuleService) RestoreRule(ctx context.Context, appID int64) (ApplyResult, error) {
	app, err := s.rules.GetApplication(ctx, appID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load application %d: %w", appID, err)
	}
	if app.Status != model.ApplicationApplied {
		metrics.RuleTransitions.WithLabelValues("skipped").Inc()
		return ApplyResult{OutcomeSkipped, fmt.Sprintf("status is %s", app.Status)}, nil
	}
	rule, product := app.Rule, app.Product
	if rule == nil || product == nil {
		return ApplyResult{}, fmt.Errorf("application %d: missing rule or product", appID)
	}

	store, err := s.stores.GetByID(ctx, product.StoreID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load store %d: %w", product.StoreID, err)
	}

	session := s.sessions(store)
	defer session.Close()
	if err := session.UpdateProduct(ctx, product.ShopifyID, map[string]interface{}{
		"id":        product.ShopifyID,
		"published": true,
	}); err != nil {
		logger.L().Errorf("[RuleService] 远端恢复失败 app=%d: %v", app.ID, err)
		return s.failRestore(ctx, app.ID, fmt.Sprintf("remote restore failed: %v", err))
	}

	now := s.now()
	var transitioned bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.rules.WithTx(tx).TransitionStatus(ctx, app.ID,
			model.ApplicationApplied, model.ApplicationReversed,
			map[string]interface{}{"restored_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		err = s.products.WithTx(tx).UpdateFields(ctx, product.ID, map[string]interface{}{
			"is_visible":       true,
			"hidden_at":        nil,
			"scheduled_return": nil,
		})
		if err != nil {
			return err
		}
		entry := model.InventoryLog{
			StoreID:        store.ID,
			ProductID:      &product.ID,
			Action:         model.LogActionShow,
			PreviousStatus: "hidden",
			NewStatus:      "visible",
			Notes:          fmt.Sprintf("Product restored after rule %q", rule.Name),
		}
		if err := s.inventory.WithTx(tx).AppendLog(ctx, &entry); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("restore application %d: %w", appID, err)
	}
	if !transitioned {
		metrics.RuleTransitions.WithLabelValues("skipped").Inc()
		return ApplyResult{OutcomeSkipped, "concurrent transition won"}, nil
	}

	metrics.RuleTransitions.WithLabelValues("reversed").Inc()
	logger.L().Infof("[RuleService] 已恢复 product=%q app=%d", product.Title, app.ID)
	return ApplyResult{OutcomeSuccess, ""}, nil
}

// failApplication pending → failed，终态，轮询器不再重试
func (s *RuleService) failApplication(ctx context.Context, appID int64, note string) (ApplyResult, error) {
	ok, err := s.rules.TransitionStatus(ctx, appID,
		model.ApplicationPending, model.ApplicationFailed,
		map[string]interface{}{"notes": note})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("fail application %d: %w", appID, err)
	}
	if !ok {
		metrics.RuleTransitions.WithLabelValues("skipped").Inc()
		return ApplyResult{OutcomeSkipped, "concurrent transition won"}, nil
	}
	metrics.RuleTransitions.WithLabelValues("failed").Inc()
	return ApplyResult{OutcomeFailed, note}, nil
}

// failRestore applied → failed（恢复的远端失败同样终态化，避免反复重试打爆远端）
func (s *RuleService) failRestore(ctx context.Context, appID int64, note string) (ApplyResult, error) {
	ok, err := s.rules.TransitionStatus(ctx, appID,
		model.ApplicationApplied, model.ApplicationFailed,
		map[string]interface{}{"notes": note})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("fail restore %d: %w", appID, err)
	}
	if !ok {
		metrics.RuleTransitions.WithLabelValues("skipped").Inc()
		return ApplyResult{OutcomeSkipped, "concurrent transition won"}, nil
	}
	metrics.RuleTransitions.WithLabelValues("failed").Inc()
	return ApplyResult{OutcomeFailed, note}, nil
}

// ==================== 动作集合 ====================

// action 封闭的动作集合：每种动作一个实现，解析一次后全程类型安全
// 未知动作在 parseAction 处拒绝，不会走到状态机中途
type action interface {
	// remote 对远端目录执行动作，先于本地事务
	remote(ctx context.Context, session CatalogSession, product *model.Product) error
	// local 计算本地事务要落地的商品字段、应用字段与审计日志
	local(rule *model.Rule, product *model.Product, now time.Time) actionEffect
}

type actionEffect struct {
	productFields map[string]interface{}
	appFields     map[string]interface{}
	log           model.InventoryLog
}

var errUnsupportedAction = errors.New("unsupported action type")

func parseAction(t model.ActionType) (action, error) {
	switch t {
	case model.ActionHideProduct:
		return hideProductAction{}, nil
	case model.ActionScheduleReturn:
		return scheduleReturnAction{}, nil
	case model.ActionShowProduct:
		return showProductAction{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedAction, t)
	}
}

// --- hide_product 下架隐藏 ---

type hideProductAction struct{}

func (hideProductAction) remote(ctx context.Context, session CatalogSession, product *model.Product) error {
	return session.UpdateProduct(ctx, product.ShopifyID, map[string]interface{}{
		"id":        product.ShopifyID,
		"published": false,
	})
}

func (hideProductAction) local(rule *model.Rule, product *model.Product, now time.Time) actionEffect {
	productFields := map[string]interface{}{
		"is_visible": false,
		"hidden_at":  now,
	}
	appFields := map[string]interface{}{"applied_at": now}
	if restoreAt := restoreTime(rule, now); restoreAt != nil {
		productFields["scheduled_return"] = *restoreAt
		appFields["restore_scheduled_for"] = *restoreAt
	}
	return actionEffect{
		productFields: productFields,
		appFields:     appFields,
		log: model.InventoryLog{
			Action:         model.LogActionHide,
			PreviousStatus: "visible",
			NewStatus:      "hidden",
			Notes:          fmt.Sprintf("Rule %q applied: product hidden", rule.Name),
		},
	}
}

// --- schedule_return 隐藏并计划回归 ---

// 与 hide_product 的差别只在恢复计划必定生成：
// 未配置恢复周期时按默认周期兜底
type scheduleReturnAction struct{}

const defaultRestoreAfterDays = 7

func (scheduleReturnAction) remote(ctx context.Context, session CatalogSession, product *model.Product) error {
	return hideProductAction{}.remote(ctx, session, product)
}

func (scheduleReturnAction) local(rule *model.Rule, product *model.Product, now time.Time) actionEffect {
	days := rule.RestoreAfterDays
	if days <= 0 {
		days = defaultRestoreAfterDays
	}
	restoreAt := now.AddDate(0, 0, days)
	return actionEffect{
		productFields: map[string]interface{}{
			"is_visible":       false,
			"hidden_at":        now,
			"scheduled_return": restoreAt,
		},
		appFields: map[string]interface{}{
			"applied_at":            now,
			"restore_scheduled_for": restoreAt,
		},
		log: model.InventoryLog{
			Action:         model.LogActionSchedule,
			PreviousStatus: "visible",
			NewStatus:      "hidden",
			Notes:          fmt.Sprintf("Rule %q applied: return scheduled for %s", rule.Name, restoreAt.Format("2006-01-02")),
		},
	}
}

// --- show_product 上架展示 ---

type showProductAction struct{}

func (showProductAction) remote(ctx context.Context, session CatalogSession, product *model.Product) error {
	return session.UpdateProduct(ctx, product.ShopifyID, map[string]interface{}{
		"id":        product.ShopifyID,
		"published": true,
	})
}

func (showProductAction) local(rule *model.Rule, product *model.Product, now time.Time) actionEffect {
	return actionEffect{
		productFields: map[string]interface{}{
			"is_visible":       true,
			"hidden_at":        nil,
			"scheduled_return": nil,
		},
		appFields: map[string]interface{}{"applied_at": now},
		log: model.InventoryLog{
			Action:         model.LogActionShow,
			PreviousStatus: "hidden",
			NewStatus:      "visible",
			Notes:          fmt.Sprintf("Rule %q applied: product shown", rule.Name),
		},
	}
}

// restoreTime 规则开启自动恢复时计算恢复时间点
func restoreTime(rule *model.Rule, now time.Time) *time.Time {
	if !rule.AutoRestore || rule.RestoreAfterDays <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, rule.RestoreAfterDays)
	return &t
}
