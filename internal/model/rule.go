package model

import (
	"time"
)

// ==================== Rule 业务规则 ====================

// 触发类型
type TriggerType string

const (
	TriggerOutOfStock  TriggerType = "out_of_stock"
	TriggerLowStock    TriggerType = "low_stock"
	TriggerBackInStock TriggerType = "back_in_stock"
)

// 动作类型
type ActionType string

const (
	ActionHideProduct    ActionType = "hide_product"
	ActionShowProduct    ActionType = "show_product"
	ActionScheduleReturn ActionType = "schedule_return"
)

// Rule 商品缺货处理规则
// 在单次应用周期内视为不可变，状态机只读
type Rule struct {
	BaseModel
	StoreID     int64  `gorm:"index:idx_store_active;index:idx_store_trigger;not null"`
	Store       *Store `gorm:"foreignKey:StoreID"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`

	// --- 触发条件 ---
	TriggerType TriggerType `gorm:"size:50;index:idx_store_trigger;not null"`
	Threshold   int         `gorm:"default:0"` // 触发阈值，0 即缺货

	// --- 动作 ---
	ActionType   ActionType `gorm:"size:50;not null"`
	DelayMinutes int        `gorm:"default:0"` // 动作前延迟，0 表示立即

	// --- 自动恢复 ---
	AutoRestore      bool `gorm:"default:false"`
	RestoreAfterDays int  `gorm:"default:0"`

	// --- 过滤条件（空值恒匹配）---
	ProductTypeFilter string `gorm:"size:255"`
	VendorFilter      string `gorm:"size:255"`
	TagFilter         string `gorm:"size:255"` // 预留，暂不参与匹配
	CollectionFilter  string `gorm:"size:255"` // 预留，暂不参与匹配

	SendNotification bool `gorm:"default:false"`

	IsActive bool `gorm:"default:true;index:idx_store_active"`
	Priority int  `gorm:"default:0"` // 数值越大优先级越高
}

func (Rule) TableName() string {
	return "rules"
}

// ==================== RuleApplication 规则应用记录 ====================

// 应用状态
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationReversed ApplicationStatus = "reversed"
	ApplicationFailed   ApplicationStatus = "failed"
)

// RuleApplication 唯一可变的工作项实体
// 不变量：同一 (rule, product) 任一时刻至多一条 pending 记录，
// 由存储层部分唯一索引保证（调度幂等的关键）
// 生命周期：pending → applied → reversed；pending → failed；终态不再变更
type RuleApplication struct {
	BaseModel
	RuleID    int64    `gorm:"uniqueIndex:idx_pending_rule_product,where:status = 'pending';not null"`
	Rule      *Rule    `gorm:"foreignKey:RuleID"`
	ProductID int64    `gorm:"uniqueIndex:idx_pending_rule_product,where:status = 'pending';not null"`
	Product   *Product `gorm:"foreignKey:ProductID"`

	Status ApplicationStatus `gorm:"size:50;default:pending;index"`

	TriggeredAt         time.Time
	ScheduledFor        *time.Time `gorm:"index"` // 计划应用时间
	AppliedAt           *time.Time
	RestoreScheduledFor *time.Time `gorm:"index"` // 计划恢复时间
	RestoredAt          *time.Time

	Notes string `gorm:"type:text"`
}

func (RuleApplication) TableName() string {
	return "rule_applications"
}
