package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/gorm"

	"stockmaster/internal/model"
	"stockmaster/internal/repository"
	"stockmaster/pkg/lock"
	"stockmaster/pkg/shopify"
)

// ==================== 测试夹具 ====================

// fakeShopify 模拟远端目录的 HTTP 服务
type fakeShopify struct {
	products    []string // 商品 JSON 片段，每页一个元素
	levelsByIID map[int64]string
	failLevels  map[int64]bool // 指定库存项的级别查询返回 500
	shopStatus  int
	putCount    int
}

func (f *fakeShopify) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/shop.json", func(w http.ResponseWriter, r *http.Request) {
		if f.shopStatus != 0 {
			w.WriteHeader(f.shopStatus)
			return
		}
		fmt.Fprint(w, `{"shop":{"id":1,"name":"Demo","myshopify_domain":"demo.myshopify.com"}}`)
	})

	mux.HandleFunc("/products.json", func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if pi := r.URL.Query().Get("page_info"); pi != "" {
			fmt.Sscanf(pi, "page%d", &page)
		}
		if page < len(f.products)-1 {
			w.Header().Set("Link",
				fmt.Sprintf(`<https://demo.myshopify.com/admin/api/2024-01/products.json?page_info=page%d&limit=250>; rel="next"`, page+1))
		}
		fmt.Fprintf(w, `{"products":[%s]}`, f.products[page])
	})

	mux.HandleFunc("/inventory_levels.json", func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("inventory_item_ids")
		var iid int64
		fmt.Sscanf(ids, "%d", &iid)
		if f.failLevels[iid] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, ok := f.levelsByIID[iid]
		if !ok {
			body = "[]"
		}
		fmt.Fprintf(w, `{"inventory_levels":%s}`, body)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/products/") {
			f.putCount++
			fmt.Fprint(w, `{"product":{}}`)
			return
		}
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/products/") {
			fmt.Fprintf(w, `{"product":%s}`, f.products[0])
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	})
}

const productJSON = `{
	"id": 1001, "title": "Widget", "handle": "widget",
	"product_type": "Gadget", "vendor": "Acme", "status": "active",
	"tags": "sale,featured", "published_at": "2024-01-01T00:00:00Z",
	"variants": [
		{"id": 2001, "product_id": 1001, "title": "Default", "sku": "W-1",
		 "price": "19.99", "position": 1, "inventory_item_id": 3001}
	]
}`

type syncFixture struct {
	db      *gorm.DB
	svc     *SyncService
	remote  *fakeShopify
	server  *httptest.Server
	store   *model.Store
	invRepo repository.InventoryRepository
}

func newSyncFixture(t *testing.T, remote *fakeShopify) *syncFixture {
	db := setupTestDB(t)
	server := httptest.NewServer(remote.handler(t))
	t.Cleanup(server.Close)

	sessions := func(store *model.Store) CatalogSession {
		return shopify.New(store.ShopDomain, store.AccessToken,
			shopify.WithBaseURL(server.URL),
			shopify.WithRetryCount(0))
	}

	storeRepo := repository.NewStoreRepository(db)
	productRepo := repository.NewProductRepository(db)
	invRepo := repository.NewInventoryRepository(db)

	ruleSvc := NewRuleService(db,
		repository.NewRuleRepository(db), productRepo, invRepo, storeRepo,
		sessions, &fakeNotifier{})

	svc := NewSyncService(storeRepo, productRepo, invRepo, ruleSvc, sessions, lock.NewLocalLocker())

	store := &model.Store{ShopDomain: "demo.myshopify.com", AccessToken: "token", IsActive: true}
	if err := db.Create(store).Error; err != nil {
		t.Fatalf("创建店铺失败: %v", err)
	}

	return &syncFixture{db: db, svc: svc, remote: remote, server: server, store: store, invRepo: invRepo}
}

// ==================== 同步幂等性 ====================

func TestSyncStore_Idempotent(t *testing.T) {
	remote := &fakeShopify{
		products:    []string{productJSON},
		levelsByIID: map[int64]string{3001: `[{"inventory_item_id":3001,"location_id":7001,"available":5}]`},
	}
	fx := newSyncFixture(t, remote)
	ctx := context.Background()

	if err := fx.svc.SyncStore(ctx, fx.store.ID); err != nil {
		t.Fatalf("SyncStore() error = %v", err)
	}

	var products, variants, levels, locations int64
	fx.db.Model(&model.Product{}).Count(&products)
	fx.db.Model(&model.ProductVariant{}).Count(&variants)
	fx.db.Model(&model.InventoryLevel{}).Count(&levels)
	fx.db.Model(&model.InventoryLocation{}).Count(&locations)
	if products != 1 || variants != 1 || levels != 1 || locations != 1 {
		t.Fatalf("首次同步落库不完整: p=%d v=%d l=%d loc=%d", products, variants, levels, locations)
	}

	var store model.Store
	fx.db.First(&store, fx.store.ID)
	if store.SyncStatus != model.SyncStatusSuccess {
		t.Errorf("同步状态应为 success，实际 %s", store.SyncStatus)
	}
	if store.LastSyncAt == nil {
		t.Error("last_sync_at 应被写入")
	}

	// 第二次同步：零增量
	if err := fx.svc.SyncStore(ctx, fx.store.ID); err != nil {
		t.Fatalf("重复 SyncStore() error = %v", err)
	}
	fx.db.Model(&model.Product{}).Count(&products)
	fx.db.Model(&model.ProductVariant{}).Count(&variants)
	fx.db.Model(&model.InventoryLevel{}).Count(&levels)
	fx.db.Model(&model.InventoryLocation{}).Count(&locations)
	if products != 1 || variants != 1 || levels != 1 || locations != 1 {
		t.Errorf("重复同步应零增量: p=%d v=%d l=%d loc=%d", products, variants, levels, locations)
	}
}

func TestSyncStore_Pagination(t *testing.T) {
	page2 := strings.Replace(productJSON, "1001", "1002", 2)
	page2 = strings.Replace(page2, "2001", "2002", 1)
	page2 = strings.Replace(page2, "3001", "3002", 1)

	remote := &fakeShopify{
		products: []string{productJSON, page2},
		levelsByIID: map[int64]string{
			3001: `[{"inventory_item_id":3001,"location_id":7001,"available":5}]`,
			3002: `[{"inventory_item_id":3002,"location_id":7001,"available":2}]`,
		},
	}
	fx := newSyncFixture(t, remote)

	if err := fx.svc.SyncStore(context.Background(), fx.store.ID); err != nil {
		t.Fatalf("SyncStore() error = %v", err)
	}

	var count int64
	fx.db.Model(&model.Product{}).Count(&count)
	if count != 2 {
		t.Errorf("两页商品都应落库，实际 %d", count)
	}
}

// ==================== 场景 C：凭证失效 ====================

func TestSyncStore_NoCredential(t *testing.T) {
	remote := &fakeShopify{products: []string{productJSON}}
	fx := newSyncFixture(t, remote)
	ctx := context.Background()

	// 先正常同步一轮，制造已有镜像
	remote.levelsByIID = map[int64]string{3001: `[{"inventory_item_id":3001,"location_id":7001,"available":5}]`}
	if err := fx.svc.SyncStore(ctx, fx.store.ID); err != nil {
		t.Fatalf("SyncStore() error = %v", err)
	}

	// 撤销凭证
	fx.db.Model(&model.Store{}).Where("id = ?", fx.store.ID).Update("access_token", "")

	err := fx.svc.SyncStore(ctx, fx.store.ID)
	if err == nil {
		t.Fatal("无凭证同步应失败")
	}
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("应返回 ErrNoCredential，实际 %v", err)
	}

	var store model.Store
	fx.db.First(&store, fx.store.ID)
	if store.SyncStatus != model.SyncStatusFailed {
		t.Errorf("同步状态应为 failed，实际 %s", store.SyncStatus)
	}

	// 已有商品镜像保持不变
	var count int64
	fx.db.Model(&model.Product{}).Count(&count)
	if count != 1 {
		t.Errorf("商品镜像不应被破坏，实际 %d 条", count)
	}
}

func TestSyncStore_RevokedToken(t *testing.T) {
	// 凭证在远端被撤销：探活返回 401（永久失败）
	remote := &fakeShopify{products: []string{productJSON}, shopStatus: http.StatusUnauthorized}
	fx := newSyncFixture(t, remote)

	err := fx.svc.SyncStore(context.Background(), fx.store.ID)
	if err == nil {
		t.Fatal("401 应导致同步失败")
	}
	if !shopify.IsPermanent(err) {
		t.Errorf("401 应判定为永久失败，实际 %v", err)
	}

	var store model.Store
	fx.db.First(&store, fx.store.ID)
	if store.SyncStatus != model.SyncStatusFailed {
		t.Errorf("同步状态应为 failed，实际 %s", store.SyncStatus)
	}
}

// ==================== 局部失败包含 ====================

func TestSyncStore_LevelFailureContained(t *testing.T) {
	remote := &fakeShopify{
		products:    []string{productJSON},
		levelsByIID: map[int64]string{},
		failLevels:  map[int64]bool{3001: true},
	}
	fx := newSyncFixture(t, remote)

	// 单变体的级别查询失败不应使整轮同步失败
	if err := fx.svc.SyncStore(context.Background(), fx.store.ID); err != nil {
		t.Fatalf("级别失败应被包含，同步仍应成功: %v", err)
	}

	var store model.Store
	fx.db.First(&store, fx.store.ID)
	if store.SyncStatus != model.SyncStatusSuccess {
		t.Errorf("同步状态应为 success，实际 %s", store.SyncStatus)
	}

	var products, levels int64
	fx.db.Model(&model.Product{}).Count(&products)
	fx.db.Model(&model.InventoryLevel{}).Count(&levels)
	if products != 1 {
		t.Errorf("商品仍应落库，实际 %d", products)
	}
	if levels != 0 {
		t.Errorf("失败变体不应有级别记录，实际 %d", levels)
	}
}

// ==================== 同步触发规则评估 ====================

func TestSyncStore_TriggersOutOfStockRule(t *testing.T) {
	remote := &fakeShopify{
		products:    []string{productJSON},
		levelsByIID: map[int64]string{3001: `[{"inventory_item_id":3001,"location_id":7001,"available":0}]`},
	}
	fx := newSyncFixture(t, remote)

	rule := &model.Rule{
		StoreID:     fx.store.ID,
		Name:        "auto hide",
		TriggerType: model.TriggerOutOfStock,
		ActionType:  model.ActionHideProduct,
		IsActive:    true,
	}
	if err := fx.db.Create(rule).Error; err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}

	if err := fx.svc.SyncStore(context.Background(), fx.store.ID); err != nil {
		t.Fatalf("SyncStore() error = %v", err)
	}

	// 缺货商品应立即被规则隐藏（延迟 0 同步应用）
	var app model.RuleApplication
	if err := fx.db.First(&app).Error; err != nil {
		t.Fatalf("应产生规则应用记录: %v", err)
	}
	if app.Status != model.ApplicationApplied {
		t.Errorf("应为 applied，实际 %s", app.Status)
	}

	var product model.Product
	fx.db.Where("shopify_id = ?", 1001).First(&product)
	if product.IsVisible {
		t.Error("缺货商品应被隐藏")
	}
	if remote.putCount != 1 {
		t.Errorf("应有 1 次远端下架调用，实际 %d", remote.putCount)
	}
}
