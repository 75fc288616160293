package service

import (
	"context"

	"stockmaster/internal/model"
	"stockmaster/pkg/shopify"
)

// CatalogSession 绑定单个店铺凭证的远程目录会话
// 会话值显式传入每次调用，由调用方负责在所有退出路径上 Close
type CatalogSession interface {
	GetShop(ctx context.Context) (*shopify.Shop, error)
	GetProducts(ctx context.Context, limit int, pageInfo string) ([]shopify.Product, string, error)
	GetProduct(ctx context.Context, productID int64) (*shopify.Product, error)
	UpdateProduct(ctx context.Context, productID int64, patch map[string]interface{}) error
	GetInventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]shopify.InventoryLevel, error)
	CreateWebhook(ctx context.Context, topic, address string) (*shopify.WebhookSubscription, error)
	GetWebhooks(ctx context.Context) ([]shopify.WebhookSubscription, error)
	Close()
}

// 确认真实客户端满足会话接口
var _ CatalogSession = (*shopify.Client)(nil)

// SessionFactory 为店铺开启一个远程会话
type SessionFactory func(store *model.Store) CatalogSession

// NewSessionFactory 默认工厂，按店铺凭证构造 Shopify 客户端
func NewSessionFactory(apiVersion string) SessionFactory {
	return func(store *model.Store) CatalogSession {
		return shopify.New(store.ShopDomain, store.AccessToken,
			shopify.WithAPIVersion(apiVersion))
	}
}
