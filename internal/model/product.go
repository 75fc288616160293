package model

import (
	"time"
)

// ==================== Product 商品（远端镜像）====================

// Product 本地镜像的 Shopify 商品
// 自然键 (store_id, shopify_id)，由同步引擎 upsert 维护
// 可见性字段只允许规则状态机或同步引擎修改
type Product struct {
	BaseModel
	StoreID int64  `gorm:"uniqueIndex:idx_store_shopify;index:idx_store_visible;not null"`
	Store   *Store `gorm:"foreignKey:StoreID"`

	// --- Shopify 身份字段 ---
	ShopifyID int64 `gorm:"uniqueIndex:idx_store_shopify;not null"` // 远端商品 ID

	// --- 商品基本信息 ---
	Title       string `gorm:"size:255"`
	Handle      string `gorm:"size:255;index"`
	ProductType string `gorm:"size:255;index"`
	Vendor      string `gorm:"size:255;index"`
	Status      string `gorm:"size:50;default:active"` // active, draft, archived
	Tags        string `gorm:"type:text"`              // Shopify 以逗号分隔字符串下发
	PublishedAt *time.Time

	// --- 可见性控制 ---
	IsVisible       bool `gorm:"default:true;index:idx_store_visible"`
	HiddenAt        *time.Time
	ScheduledReturn *time.Time // 计划恢复可见的时间

	LastSynced time.Time

	// --- 关联关系 ---
	Variants []ProductVariant `gorm:"foreignKey:ProductID"`
}

func (Product) TableName() string {
	return "products"
}

// ==================== ProductVariant 商品变体 ====================

// ProductVariant 自然键 (product_id, shopify_id)
type ProductVariant struct {
	BaseModel
	ProductID int64    `gorm:"uniqueIndex:idx_product_shopify;not null"`
	Product   *Product `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	ShopifyID int64  `gorm:"uniqueIndex:idx_product_shopify;not null"` // 远端变体 ID
	Title     string `gorm:"size:255"`
	SKU       string `gorm:"size:255;index"`
	Barcode   string `gorm:"size:255"`

	Price          float64 `gorm:"type:decimal(10,2)"`
	CompareAtPrice float64 `gorm:"type:decimal(10,2);default:0"`
	Position       int     `gorm:"default:1"`

	// 远端库存项引用，库存级别按它查询
	InventoryItemID int64 `gorm:"index;not null"`
}

func (ProductVariant) TableName() string {
	return "product_variants"
}
