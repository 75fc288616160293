package model

import (
	"time"
)

// ==================== InventoryLocation 库存地点 ====================

// InventoryLocation 同步过程中惰性创建（get-or-create，先到先得）
// 自然键 (store_id, shopify_id)
type InventoryLocation struct {
	BaseModel
	StoreID   int64  `gorm:"uniqueIndex:idx_store_location;not null"`
	Store     *Store `gorm:"foreignKey:StoreID"`
	ShopifyID int64  `gorm:"uniqueIndex:idx_store_location;not null"` // 远端地点 ID
	Name      string `gorm:"size:255"`
	IsActive  bool   `gorm:"default:true"`
}

func (InventoryLocation) TableName() string {
	return "inventory_locations"
}

// ==================== InventoryLevel 库存级别 ====================

// InventoryLevel 变体 × 地点 的可用数量
// 自然键 (variant_id, location_id)
// 商品"缺货" = 所有变体/地点的 available 之和 <= 0
type InventoryLevel struct {
	BaseModel
	VariantID  int64              `gorm:"uniqueIndex:idx_variant_location;not null"`
	Variant    *ProductVariant    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	LocationID int64              `gorm:"uniqueIndex:idx_variant_location;not null"`
	Location   *InventoryLocation `gorm:"foreignKey:LocationID"`

	Available  int `gorm:"default:0;index"`
	LastSynced time.Time
}

func (InventoryLevel) TableName() string {
	return "inventory_levels"
}

// ==================== InventoryLog 审计日志 ====================

// 日志动作类型
const (
	LogActionSync     = "sync"     // 从远端同步
	LogActionHide     = "hide"     // 商品被隐藏
	LogActionShow     = "show"     // 商品恢复可见
	LogActionSchedule = "schedule" // 恢复计划生效
	LogActionRule     = "rule"     // 规则触发
	LogActionManual   = "manual"   // 人工操作
)

// InventoryLog 只追加，不更新、不删除
type InventoryLog struct {
	ID        int64 `gorm:"primary_key;AUTO_INCREMENT"`
	CreatedAt time.Time

	StoreID    int64  `gorm:"index:idx_log_store;not null"`
	Store      *Store `gorm:"foreignKey:StoreID"`
	ProductID  *int64 `gorm:"index:idx_log_product"`
	VariantID  *int64
	LocationID *int64

	Action string `gorm:"size:50;not null"`

	PreviousValue  *int   // 变更前库存数量
	NewValue       *int   // 变更后库存数量
	PreviousStatus string `gorm:"size:50"`
	NewStatus      string `gorm:"size:50"`

	Notes string `gorm:"type:text"`
}

func (InventoryLog) TableName() string {
	return "inventory_logs"
}
