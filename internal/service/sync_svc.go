package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockmaster/internal/model"
	"stockmaster/internal/repository"
	"stockmaster/pkg/lock"
	"stockmaster/pkg/logger"
	"stockmaster/pkg/metrics"
	"stockmaster/pkg/shopify"
)

// ==================== SyncService 目录对账引擎 ====================

// ErrNoCredential 店铺凭证缺失或已撤销，永久失败，重试无意义
var ErrNoCredential = errors.New("store has no usable credential")

// 单页拉取条数，Shopify REST 上限
const defaultPageSize = 250

// SyncService 把远端目录全量镜像到本地：
// 商品 → 变体 → 库存级别逐层 upsert，自然键幂等，
// 重复执行零增量。同一店铺同一时刻至多一次同步（锁保证）
type SyncService struct {
	stores    repository.StoreRepository
	products  repository.ProductRepository
	inventory repository.InventoryRepository
	rules     *RuleService
	sessions  SessionFactory
	locker    lock.Locker
	pageSize  int
	now       func() time.Time
}

// NewSyncService 创建对账引擎
func NewSyncService(
	stores repository.StoreRepository,
	products repository.ProductRepository,
	inventory repository.InventoryRepository,
	rules *RuleService,
	sessions SessionFactory,
	locker lock.Locker,
) *SyncService {
	return &SyncService{
		stores:    stores,
		products:  products,
		inventory: inventory,
		rules:     rules,
		sessions:  sessions,
		locker:    locker,
		pageSize:  defaultPageSize,
		now:       time.Now,
	}
}

// SyncStore 全量同步一个店铺
// 凭证缺失立即标记 failed 并返回 ErrNoCredential（永久失败）；
// 锁被占用说明同步已在进行，静默返回
func (s *SyncService) SyncStore(ctx context.Context, storeID int64) error {
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return fmt.Errorf("load store %d: %w", storeID, err)
	}

	if !store.HasCredential() {
		if err := s.stores.SetSyncStatus(ctx, store.ID, model.SyncStatusFailed); err != nil {
			logger.L().Errorf("[SyncService] 标记失败状态出错 store=%d: %v", store.ID, err)
		}
		metrics.SyncTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("store %s: %w", store.ShopDomain, ErrNoCredential)
	}

	release, err := s.locker.Acquire(ctx, fmt.Sprintf("sync:store:%d", store.ID), 30*time.Minute)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.L().Infof("[SyncService] 同步已在进行，跳过 store=%s", store.ShopDomain)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	defer release()

	if err := s.stores.SetSyncStatus(ctx, store.ID, model.SyncStatusInProgress); err != nil {
		return fmt.Errorf("mark in_progress: %w", err)
	}

	if err := s.reconcile(ctx, store); err != nil {
		if markErr := s.stores.SetSyncStatus(ctx, store.ID, model.SyncStatusFailed); markErr != nil {
			logger.L().Errorf("[SyncService] 标记失败状态出错 store=%d: %v", store.ID, markErr)
		}
		metrics.SyncTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("sync store %s: %w", store.ShopDomain, err)
	}

	if err := s.stores.MarkSyncSuccess(ctx, store.ID, s.now()); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	metrics.SyncTotal.WithLabelValues("success").Inc()
	logger.L().Infof("[SyncService] 同步完成 store=%s", store.ShopDomain)
	return nil
}

// reconcile 同步主流程：探活 → 全量分页拉取 → 逐商品处理 → 标记未见商品
func (s *SyncService) reconcile(ctx context.Context, store *model.Store) error {
	session := s.sessions(store)
	defer session.Close()

	// 会话探活：凭证已被撤销时第一时间发现
	if _, err := session.GetShop(ctx); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	seen := make([]int64, 0, s.pageSize)
	pageInfo := ""
	for {
		products, next, err := session.GetProducts(ctx, s.pageSize, pageInfo)
		if err != nil {
			return fmt.Errorf("fetch products page: %w", err)
		}
		for i := range products {
			if err := s.processProduct(ctx, session, store, &products[i]); err != nil {
				return fmt.Errorf("process product %d: %w", products[i].ID, err)
			}
			seen = append(seen, products[i].ID)
		}
		if next == "" {
			break
		}
		pageInfo = next
	}

	// 本轮未见的商品只推进时间戳，历史与可见性不动
	if err := s.products.TouchUnseen(ctx, store.ID, seen); err != nil {
		return fmt.Errorf("touch unseen: %w", err)
	}

	logger.L().Infof("[SyncService] store=%s 本轮处理商品 %d 个", store.ShopDomain, len(seen))
	return nil
}

// processProduct 单个商品的镜像与缺货评估
// 商品/变体写入失败中止整轮（可重试）；单个变体的库存级别
// 查询失败只跳过该变体，不污染其余数据
func (s *SyncService) processProduct(ctx context.Context, session CatalogSession, store *model.Store, dto *shopify.Product) error {
	now := s.now()

	product := &model.Product{
		StoreID:     store.ID,
		ShopifyID:   dto.ID,
		Title:       dto.Title,
		Handle:      dto.Handle,
		ProductType: dto.ProductType,
		Vendor:      dto.Vendor,
		Status:      dto.Status,
		Tags:        dto.Tags,
		IsVisible:   true, // 仅新建时生效，冲突更新不触碰可见性字段
		LastSynced:  now,
	}
	if dto.PublishedAt != nil {
		t := dto.PublishedAt.Time
		product.PublishedAt = &t
	}
	if err := s.products.Upsert(ctx, product); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	metrics.ProductsSynced.Inc()

	for i := range dto.Variants {
		v := &dto.Variants[i]
		variant := &model.ProductVariant{
			ProductID:       product.ID,
			ShopifyID:       v.ID,
			Title:           v.Title,
			SKU:             v.SKU,
			Barcode:         v.Barcode,
			Price:           v.PriceValue(),
			CompareAtPrice:  v.CompareAtPriceValue(),
			Position:        v.Position,
			InventoryItemID: v.InventoryItemID,
		}
		if err := s.products.UpsertVariant(ctx, variant); err != nil {
			return fmt.Errorf("upsert variant %d: %w", v.ID, err)
		}

		levels, err := session.GetInventoryLevels(ctx, []int64{v.InventoryItemID})
		if err != nil {
			// 单变体的级别查询失败不致命，跳过即可，下轮同步补齐
			logger.L().Warnf("[SyncService] 库存级别查询失败，跳过 variant=%d: %v", v.ID, err)
			continue
		}
		for j := range levels {
			lvl := &levels[j]
			loc, err := s.inventory.GetOrCreateLocation(ctx, store.ID, lvl.LocationID,
				fmt.Sprintf("Location %d", lvl.LocationID))
			if err != nil {
				return fmt.Errorf("get or create location %d: %w", lvl.LocationID, err)
			}
			err = s.inventory.UpsertLevel(ctx, &model.InventoryLevel{
				VariantID:  variant.ID,
				LocationID: loc.ID,
				Available:  lvl.AvailableValue(),
				LastSynced: now,
			})
			if err != nil {
				return fmt.Errorf("upsert level variant=%d location=%d: %w", variant.ID, loc.ID, err)
			}
		}
	}

	// 镜像落地后立即做缺货评估，命中规则即调度
	s.evaluateStock(ctx, store, product)
	return nil
}

// SyncProduct 单商品同步（webhook 入站事件的快速路径）
func (s *SyncService) SyncProduct(ctx context.Context, store *model.Store, shopifyProductID int64) error {
	if !store.HasCredential() {
		return fmt.Errorf("store %s: %w", store.ShopDomain, ErrNoCredential)
	}

	session := s.sessions(store)
	defer session.Close()

	dto, err := session.GetProduct(ctx, shopifyProductID)
	if err != nil {
		return fmt.Errorf("fetch product %d: %w", shopifyProductID, err)
	}
	if err := s.processProduct(ctx, session, store, dto); err != nil {
		return fmt.Errorf("process product %d: %w", shopifyProductID, err)
	}
	return nil
}

// evaluateStock 汇总商品库存并交给规则引擎评估
// 评估失败只记日志，不影响同步结果
func (s *SyncService) evaluateStock(ctx context.Context, store *model.Store, product *model.Product) {
	total, err := s.inventory.TotalAvailable(ctx, product.ID)
	if err != nil {
		logger.L().Errorf("[SyncService] 库存汇总失败 product=%d: %v", product.ID, err)
		return
	}
	if err := s.rules.EvaluateStockLevel(ctx, store, product, total); err != nil {
		logger.L().Errorf("[SyncService] 库存评估失败 product=%d: %v", product.ID, err)
	}
}

// ==================== Webhook 注册 ====================

// 需要订阅的远端事件主题
var requiredWebhookTopics = []string{
	"products/update",
	"inventory_levels/update",
	"app/uninstalled",
}

// EnsureWebhooks 幂等注册远端 webhook 订阅：
// 已存在同主题同地址的订阅则复用，否则创建，并在本地留存记录
func (s *SyncService) EnsureWebhooks(ctx context.Context, store *model.Store, callbackURL string) error {
	if callbackURL == "" {
		return nil
	}
	if !store.HasCredential() {
		return fmt.Errorf("store %s: %w", store.ShopDomain, ErrNoCredential)
	}

	session := s.sessions(store)
	defer session.Close()

	existing, err := session.GetWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	for _, topic := range requiredWebhookTopics {
		var sub *shopify.WebhookSubscription
		for i := range existing {
			if existing[i].Topic == topic && existing[i].Address == callbackURL {
				sub = &existing[i]
				break
			}
		}
		if sub == nil {
			created, err := session.CreateWebhook(ctx, topic, callbackURL)
			if err != nil {
				return fmt.Errorf("create webhook %s: %w", topic, err)
			}
			sub = created
			logger.L().Infof("[SyncService] 已注册 webhook store=%s topic=%s", store.ShopDomain, topic)
		}
		err = s.stores.SaveWebhook(ctx, &model.Webhook{
			StoreID:   store.ID,
			WebhookID: sub.ID,
			Topic:     sub.Topic,
			Address:   sub.Address,
			Format:    "json",
		})
		if err != nil {
			return fmt.Errorf("save webhook record: %w", err)
		}
	}
	return nil
}
