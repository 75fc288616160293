package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockmaster/internal/model"
)

// ==================== 接口定义 ====================

// StoreRepository 店铺仓储接口
type StoreRepository interface {
	Create(ctx context.Context, store *model.Store) error
	GetByID(ctx context.Context, id int64) (*model.Store, error)
	GetByDomain(ctx context.Context, domain string) (*model.Store, error)
	GetActiveByDomain(ctx context.Context, domain string) (*model.Store, error)
	ListActive(ctx context.Context) ([]model.Store, error)
	Update(ctx context.Context, store *model.Store) error
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	// 同步状态只允许同步引擎改写
	SetSyncStatus(ctx context.Context, id int64, status model.SyncStatus) error
	MarkSyncSuccess(ctx context.Context, id int64, at time.Time) error

	// Deactivate 卸载处理：清空凭证并停用
	Deactivate(ctx context.Context, id int64) error

	// Webhook 注册记录
	SaveWebhook(ctx context.Context, wh *model.Webhook) error
	ListWebhooks(ctx context.Context, storeID int64) ([]model.Webhook, error)
}

// ==================== 仓储实现 ====================

type storeRepo struct {
	db *gorm.DB
}

// NewStoreRepository 创建店铺仓储
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepo{db: db}
}

func (r *storeRepo) Create(ctx context.Context, store *model.Store) error {
	return r.db.WithContext(ctx).Create(store).Error
}

func (r *storeRepo) GetByID(ctx context.Context, id int64) (*model.Store, error) {
	var store model.Store
	if err := r.db.WithContext(ctx).First(&store, id).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) GetByDomain(ctx context.Context, domain string) (*model.Store, error) {
	var store model.Store
	err := r.db.WithContext(ctx).
		Where("shop_domain = ?", domain).
		First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) GetActiveByDomain(ctx context.Context, domain string) (*model.Store, error) {
	var store model.Store
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND is_active = ?", domain, true).
		First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) ListActive(ctx context.Context) ([]model.Store, error) {
	var stores []model.Store
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&stores).Error
	return stores, err
}

func (r *storeRepo) Update(ctx context.Context, store *model.Store) error {
	return r.db.WithContext(ctx).Save(store).Error
}

func (r *storeRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Store{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *storeRepo) SetSyncStatus(ctx context.Context, id int64, status model.SyncStatus) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{"sync_status": status})
}

func (r *storeRepo) MarkSyncSuccess(ctx context.Context, id int64, at time.Time) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"sync_status":  model.SyncStatusSuccess,
		"last_sync_at": at,
	})
}

func (r *storeRepo) Deactivate(ctx context.Context, id int64) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"access_token": "",
		"is_active":    false,
	})
}

func (r *storeRepo) SaveWebhook(ctx context.Context, wh *model.Webhook) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store_id"}, {Name: "webhook_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"topic", "address", "format", "updated_at",
		}),
	}).Create(wh).Error
}

func (r *storeRepo) ListWebhooks(ctx context.Context, storeID int64) ([]model.Webhook, error) {
	var whs []model.Webhook
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Find(&whs).Error
	return whs, err
}
