package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockmaster/internal/model"
)

// ==================== 接口定义 ====================

// ProductRepository 商品仓储接口
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	GetByShopifyID(ctx context.Context, storeID, shopifyID int64) (*model.Product, error)
	ListByStore(ctx context.Context, storeID int64) ([]model.Product, error)

	// Upsert 按自然键 (store_id, shopify_id) 幂等写入，回填本地主键
	Upsert(ctx context.Context, product *model.Product) error
	// UpsertVariant 按自然键 (product_id, shopify_id) 幂等写入，回填本地主键
	UpsertVariant(ctx context.Context, variant *model.ProductVariant) error

	GetVariantByInventoryItem(ctx context.Context, inventoryItemID int64) (*model.ProductVariant, error)
	ListVariants(ctx context.Context, productID int64) ([]model.ProductVariant, error)

	// TouchUnseen 标记本轮同步未见到的商品：只推进时间戳，保留历史，不删除
	TouchUnseen(ctx context.Context, storeID int64, seenShopifyIDs []int64) error

	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	WithTx(tx *gorm.DB) ProductRepository
}

// ==================== 仓储实现 ====================

type productRepo struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Preload("Variants").
		First(&product, id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) GetByShopifyID(ctx context.Context, storeID, shopifyID int64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Preload("Variants").
		Where("store_id = ? AND shopify_id = ?", storeID, shopifyID).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) ListByStore(ctx context.Context, storeID int64) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("id ASC").
		Find(&products).Error
	return products, err
}

func (r *productRepo) Upsert(ctx context.Context, product *model.Product) error {
	err := r.db.WithContext(ctx).
		Omit("Variants").
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "store_id"}, {Name: "shopify_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "handle", "product_type", "vendor", "status",
				"tags", "published_at", "last_synced", "updated_at",
			}),
		}).Create(product).Error
	if err != nil {
		return err
	}

	// 冲突更新路径下主键不可靠，按自然键回读
	var saved model.Product
	err = r.db.WithContext(ctx).
		Where("store_id = ? AND shopify_id = ?", product.StoreID, product.ShopifyID).
		First(&saved).Error
	if err != nil {
		return err
	}
	*product = saved
	return nil
}

func (r *productRepo) UpsertVariant(ctx context.Context, variant *model.ProductVariant) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "shopify_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "sku", "barcode", "price", "compare_at_price",
				"position", "inventory_item_id", "updated_at",
			}),
		}).Create(variant).Error
	if err != nil {
		return err
	}

	var saved model.ProductVariant
	err = r.db.WithContext(ctx).
		Where("product_id = ? AND shopify_id = ?", variant.ProductID, variant.ShopifyID).
		First(&saved).Error
	if err != nil {
		return err
	}
	*variant = saved
	return nil
}

func (r *productRepo) GetVariantByInventoryItem(ctx context.Context, inventoryItemID int64) (*model.ProductVariant, error) {
	var variant model.ProductVariant
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("inventory_item_id = ?", inventoryItemID).
		First(&variant).Error
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *productRepo) ListVariants(ctx context.Context, productID int64) ([]model.ProductVariant, error) {
	var variants []model.ProductVariant
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("position ASC").
		Find(&variants).Error
	return variants, err
}

func (r *productRepo) TouchUnseen(ctx context.Context, storeID int64, seenShopifyIDs []int64) error {
	query := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("store_id = ?", storeID)
	if len(seenShopifyIDs) > 0 {
		query = query.Where("shopify_id NOT IN ?", seenShopifyIDs)
	}
	return query.Update("updated_at", nowFunc()).Error
}

func (r *productRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *productRepo) WithTx(tx *gorm.DB) ProductRepository {
	return &productRepo{db: tx}
}
