package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockmaster/internal/model"
)

// ==================== 接口定义 ====================

// RuleRepository 规则与规则应用仓储接口
type RuleRepository interface {
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	// ListActiveByTrigger 某店铺指定触发类型的活跃规则，优先级高在前
	ListActiveByTrigger(ctx context.Context, storeID int64, trigger model.TriggerType) ([]model.Rule, error)
	ListByStore(ctx context.Context, storeID int64) ([]model.Rule, error)
	UpdateRuleFields(ctx context.Context, id int64, fields map[string]interface{}) error

	// CreateApplicationIfAbsent 原子的 insert-if-absent：
	// 依赖 (rule_id, product_id) WHERE status='pending' 部分唯一索引，
	// 已有 pending 记录时不写入，返回 created=false（重复触发去重的关键）
	CreateApplicationIfAbsent(ctx context.Context, app *model.RuleApplication) (created bool, err error)

	GetApplication(ctx context.Context, id int64) (*model.RuleApplication, error)

	// ListDueApplications 到期待应用的 pending 记录；所属规则已停用的一律跳过
	ListDueApplications(ctx context.Context, now time.Time, limit int) ([]model.RuleApplication, error)
	// ListDueRestores 到期待恢复的 applied 记录（恢复不受规则停用影响，避免商品永久隐藏）
	ListDueRestores(ctx context.Context, now time.Time, limit int) ([]model.RuleApplication, error)

	// TransitionStatus 带守卫的状态迁移：仅当当前状态为 from 时生效，
	// 返回是否真正发生迁移。重复派发由此退化为 no-op
	TransitionStatus(ctx context.Context, id int64, from, to model.ApplicationStatus, fields map[string]interface{}) (bool, error)

	WithTx(tx *gorm.DB) RuleRepository
	Transaction(ctx context.Context, fn func(txRepo RuleRepository) error) error
}

// ==================== 仓储实现 ====================

type ruleRepo struct {
	db *gorm.DB
}

// NewRuleRepository 创建规则仓储
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepo{db: db}
}

func (r *ruleRepo) CreateRule(ctx context.Context, rule *model.Rule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *ruleRepo) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	var rule model.Rule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepo) ListActiveByTrigger(ctx context.Context, storeID int64, trigger model.TriggerType) ([]model.Rule, error) {
	var rules []model.Rule
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND is_active = ? AND trigger_type = ?", storeID, true, trigger).
		Order("priority DESC, name ASC").
		Find(&rules).Error
	return rules, err
}

func (r *ruleRepo) ListByStore(ctx context.Context, storeID int64) ([]model.Rule, error) {
	var rules []model.Rule
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("priority DESC, name ASC").
		Find(&rules).Error
	return rules, err
}

func (r *ruleRepo) UpdateRuleFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Rule{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *ruleRepo) CreateApplicationIfAbsent(ctx context.Context, app *model.RuleApplication) (bool, error) {
	app.Status = model.ApplicationPending
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_id"}, {Name: "product_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "status = 'pending'"},
		}},
		DoNothing: true,
	}).Create(app)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ruleRepo) GetApplication(ctx context.Context, id int64) (*model.RuleApplication, error) {
	var app model.RuleApplication
	err := r.db.WithContext(ctx).
		Preload("Rule").
		Preload("Product").
		First(&app, id).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *ruleRepo) ListDueApplications(ctx context.Context, now time.Time, limit int) ([]model.RuleApplication, error) {
	if limit <= 0 {
		limit = 500
	}
	var apps []model.RuleApplication
	err := r.db.WithContext(ctx).
		Joins("JOIN rules ON rules.id = rule_applications.rule_id AND rules.is_active = ?", true).
		Where("rule_applications.status = ? AND rule_applications.scheduled_for <= ?",
			model.ApplicationPending, now).
		Order("rule_applications.scheduled_for ASC").
		Limit(limit).
		Find(&apps).Error
	return apps, err
}

func (r *ruleRepo) ListDueRestores(ctx context.Context, now time.Time, limit int) ([]model.RuleApplication, error) {
	if limit <= 0 {
		limit = 500
	}
	var apps []model.RuleApplication
	err := r.db.WithContext(ctx).
		Where("status = ? AND restore_scheduled_for IS NOT NULL AND restore_scheduled_for <= ?",
			model.ApplicationApplied, now).
		Order("restore_scheduled_for ASC").
		Limit(limit).
		Find(&apps).Error
	return apps, err
}

func (r *ruleRepo) TransitionStatus(ctx context.Context, id int64, from, to model.ApplicationStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).
		Model(&model.RuleApplication{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ruleRepo) WithTx(tx *gorm.DB) RuleRepository {
	return &ruleRepo{db: tx}
}

func (r *ruleRepo) Transaction(ctx context.Context, fn func(txRepo RuleRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}
