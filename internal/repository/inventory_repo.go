package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockmaster/internal/model"
)

// ==================== 接口定义 ====================

// InventoryRepository 库存仓储接口
type InventoryRepository interface {
	// GetOrCreateLocation 惰性创建库存地点，先到先得，绝不重复
	GetOrCreateLocation(ctx context.Context, storeID, shopifyID int64, name string) (*model.InventoryLocation, error)

	// UpsertLevel 按自然键 (variant_id, location_id) 幂等写入
	UpsertLevel(ctx context.Context, level *model.InventoryLevel) error

	// TotalAvailable 商品在所有变体/地点上的可用量之和
	TotalAvailable(ctx context.Context, productID int64) (int, error)

	// AppendLog 追加审计日志（只增不改）
	AppendLog(ctx context.Context, entry *model.InventoryLog) error
	ListLogsByProduct(ctx context.Context, productID int64, limit int) ([]model.InventoryLog, error)

	WithTx(tx *gorm.DB) InventoryRepository
}

// ==================== 仓储实现 ====================

type inventoryRepo struct {
	db *gorm.DB
}

// NewInventoryRepository 创建库存仓储
func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepo{db: db}
}

func (r *inventoryRepo) GetOrCreateLocation(ctx context.Context, storeID, shopifyID int64, name string) (*model.InventoryLocation, error) {
	var loc model.InventoryLocation
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND shopify_id = ?", storeID, shopifyID).
		First(&loc).Error
	if err == nil {
		return &loc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 并发下可能同时插入，唯一索引 + DO NOTHING 保证只有一条，之后回读
	loc = model.InventoryLocation{
		StoreID:   storeID,
		ShopifyID: shopifyID,
		Name:      name,
		IsActive:  true,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "shopify_id"}},
		DoNothing: true,
	}).Create(&loc).Error
	if err != nil {
		return nil, err
	}

	var saved model.InventoryLocation
	err = r.db.WithContext(ctx).
		Where("store_id = ? AND shopify_id = ?", storeID, shopifyID).
		First(&saved).Error
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *inventoryRepo) UpsertLevel(ctx context.Context, level *model.InventoryLevel) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "variant_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"available", "last_synced", "updated_at",
		}),
	}).Create(level).Error
}

func (r *inventoryRepo) TotalAvailable(ctx context.Context, productID int64) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&model.InventoryLevel{}).
		Select("COALESCE(SUM(inventory_levels.available), 0)").
		Joins("JOIN product_variants ON product_variants.id = inventory_levels.variant_id").
		Where("product_variants.product_id = ?", productID).
		Scan(&total).Error
	return total, err
}

func (r *inventoryRepo) AppendLog(ctx context.Context, entry *model.InventoryLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *inventoryRepo) ListLogsByProduct(ctx context.Context, productID int64, limit int) ([]model.InventoryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []model.InventoryLog
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (r *inventoryRepo) WithTx(tx *gorm.DB) InventoryRepository {
	return &inventoryRepo{db: tx}
}
