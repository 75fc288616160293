package service

import (
	"context"
	"fmt"

	"stockmaster/internal/repository"
	"stockmaster/pkg/logger"
)

// ==================== InventoryService 入站事件处理 ====================

// InventoryService 消费远端 webhook 事件，把变化落到本地镜像并触发规则评估
// 所有入口都以店铺域名定位租户，未接入/已停用的店铺直接拒绝
type InventoryService struct {
	stores    repository.StoreRepository
	products  repository.ProductRepository
	inventory repository.InventoryRepository
	sync      *SyncService
}

// NewInventoryService 创建入站事件服务
func NewInventoryService(
	stores repository.StoreRepository,
	products repository.ProductRepository,
	inventory repository.InventoryRepository,
	sync *SyncService,
) *InventoryService {
	return &InventoryService{
		stores:    stores,
		products:  products,
		inventory: inventory,
		sync:      sync,
	}
}

// OnProductUpdate 商品更新事件：重新镜像该商品（含缺货评估）
func (s *InventoryService) OnProductUpdate(ctx context.Context, shopDomain string, shopifyProductID int64) error {
	store, err := s.stores.GetActiveByDomain(ctx, shopDomain)
	if err != nil {
		return fmt.Errorf("unknown store %s: %w", shopDomain, err)
	}
	return s.sync.SyncProduct(ctx, store, shopifyProductID)
}

// OnInventoryLevelUpdate 库存级别变更事件
// 事件携带 inventory_item_id 与上报可用量；以远端为准重新镜像
// 所属商品（事件可能乱序，上报值只作记录不直接落库）。
// 变体未知说明本地镜像落后，返回错误让消费端重试（全量同步会补齐）
func (s *InventoryService) OnInventoryLevelUpdate(ctx context.Context, shopDomain string, inventoryItemID int64, available int) error {
	store, err := s.stores.GetActiveByDomain(ctx, shopDomain)
	if err != nil {
		return fmt.Errorf("unknown store %s: %w", shopDomain, err)
	}

	variant, err := s.products.GetVariantByInventoryItem(ctx, inventoryItemID)
	if err != nil {
		return fmt.Errorf("unknown inventory item %d: %w", inventoryItemID, err)
	}
	if variant.Product == nil || variant.Product.StoreID != store.ID {
		return fmt.Errorf("inventory item %d does not belong to store %s", inventoryItemID, shopDomain)
	}

	logger.L().Debugf("[InventoryService] 库存级别变更 item=%d 上报可用量=%d，重新镜像商品 %d",
		inventoryItemID, available, variant.Product.ShopifyID)
	return s.sync.SyncProduct(ctx, store, variant.Product.ShopifyID)
}

// OnAppUninstalled 卸载事件：清空凭证并停用店铺，镜像数据保留
func (s *InventoryService) OnAppUninstalled(ctx context.Context, shopDomain string) error {
	store, err := s.stores.GetByDomain(ctx, shopDomain)
	if err != nil {
		return fmt.Errorf("unknown store %s: %w", shopDomain, err)
	}
	if err := s.stores.Deactivate(ctx, store.ID); err != nil {
		return fmt.Errorf("deactivate store %s: %w", shopDomain, err)
	}
	logger.L().Infof("[InventoryService] 店铺已卸载停用 store=%s", shopDomain)
	return nil
}

// IsOutOfStock 商品是否缺货（所有变体/地点可用量之和 <= 0）
func (s *InventoryService) IsOutOfStock(ctx context.Context, productID int64) (bool, error) {
	total, err := s.inventory.TotalAvailable(ctx, productID)
	if err != nil {
		return false, err
	}
	return total <= 0, nil
}
