package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stockmaster/internal/model"
	"stockmaster/internal/repository"
	"stockmaster/pkg/shopify"
)

// ==================== 测试夹具 ====================

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	err = db.AutoMigrate(
		&model.Store{}, &model.Webhook{},
		&model.Product{}, &model.ProductVariant{},
		&model.InventoryLocation{}, &model.InventoryLevel{}, &model.InventoryLog{},
		&model.Rule{}, &model.RuleApplication{},
		&model.NotificationLog{},
	)
	if err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

// fakeSession 内存版远程会话，记录所有远端写操作
type fakeSession struct {
	updates   []map[string]interface{}
	updateErr error
	closed    bool
}

func (f *fakeSession) GetShop(context.Context) (*shopify.Shop, error) { return &shopify.Shop{}, nil }
func (f *fakeSession) GetProducts(context.Context, int, string) ([]shopify.Product, string, error) {
	return nil, "", nil
}
func (f *fakeSession) GetProduct(context.Context, int64) (*shopify.Product, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeSession) UpdateProduct(_ context.Context, _ int64, patch map[string]interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, patch)
	return nil
}
func (f *fakeSession) GetInventoryLevels(context.Context, []int64) ([]shopify.InventoryLevel, error) {
	return nil, nil
}
func (f *fakeSession) CreateWebhook(context.Context, string, string) (*shopify.WebhookSubscription, error) {
	return &shopify.WebhookSubscription{}, nil
}
func (f *fakeSession) GetWebhooks(context.Context) ([]shopify.WebhookSubscription, error) {
	return nil, nil
}
func (f *fakeSession) Close() { f.closed = true }

// fakeNotifier 记录通知决策
type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ int64, eventType string, _ map[string]interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

type ruleFixture struct {
	db       *gorm.DB
	svc      *RuleService
	session  *fakeSession
	notifier *fakeNotifier
	store    *model.Store
	product  *model.Product
}

func newRuleFixture(t *testing.T) *ruleFixture {
	db := setupTestDB(t)
	session := &fakeSession{}
	notifier := &fakeNotifier{}

	svc := NewRuleService(db,
		repository.NewRuleRepository(db),
		repository.NewProductRepository(db),
		repository.NewInventoryRepository(db),
		repository.NewStoreRepository(db),
		func(*model.Store) CatalogSession { return session },
		notifier,
	)

	store := &model.Store{ShopDomain: "demo.myshopify.com", AccessToken: "token", IsActive: true}
	if err := db.Create(store).Error; err != nil {
		t.Fatalf("创建店铺失败: %v", err)
	}
	product := &model.Product{StoreID: store.ID, ShopifyID: 9001, Title: "Widget", IsVisible: true}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("创建商品失败: %v", err)
	}

	return &ruleFixture{db: db, svc: svc, session: session, notifier: notifier, store: store, product: product}
}

func (fx *ruleFixture) createRule(t *testing.T, mutate func(*model.Rule)) *model.Rule {
	rule := &model.Rule{
		StoreID:     fx.store.ID,
		Name:        "test rule",
		TriggerType: model.TriggerOutOfStock,
		ActionType:  model.ActionHideProduct,
		IsActive:    true,
	}
	if mutate != nil {
		mutate(rule)
	}
	if err := fx.db.Create(rule).Error; err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}
	return rule
}

// ==================== 匹配器 ====================

func TestMatches(t *testing.T) {
	product := &model.Product{ProductType: "Shirt", Vendor: "Acme"}

	cases := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{"空过滤恒匹配", model.Rule{}, true},
		{"类型命中", model.Rule{ProductTypeFilter: "Shirt"}, true},
		{"类型不符", model.Rule{ProductTypeFilter: "Hat"}, false},
		{"供应商命中", model.Rule{VendorFilter: "Acme"}, true},
		{"供应商不符", model.Rule{VendorFilter: "Other"}, false},
		{"双条件全满足", model.Rule{ProductTypeFilter: "Shirt", VendorFilter: "Acme"}, true},
		{"双条件半满足", model.Rule{ProductTypeFilter: "Shirt", VendorFilter: "Other"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(&tc.rule, product); got != tc.want {
				t.Errorf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTriggerHit(t *testing.T) {
	oos := &model.Rule{TriggerType: model.TriggerOutOfStock, Threshold: 0}
	if !triggerHit(oos, 0) || !triggerHit(oos, -2) {
		t.Error("可用量 <= 0 应触发缺货规则")
	}
	if triggerHit(oos, 1) {
		t.Error("可用量 > 0 不应触发缺货规则")
	}

	low := &model.Rule{TriggerType: model.TriggerLowStock, Threshold: 5}
	if !triggerHit(low, 5) || triggerHit(low, 6) {
		t.Error("低库存阈值比较不正确")
	}

	back := &model.Rule{TriggerType: model.TriggerBackInStock, Threshold: 0}
	if !triggerHit(back, 1) || triggerHit(back, 0) {
		t.Error("回归库存阈值比较不正确")
	}
}

// ==================== 调度 ====================

func TestScheduleRule_Dedup(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) { r.DelayMinutes = 30 })
	ctx := context.Background()

	app, err := fx.svc.ScheduleRule(ctx, rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}
	if app == nil {
		t.Fatal("首次调度应返回记录")
	}

	// 重复触发去重
	dup, err := fx.svc.ScheduleRule(ctx, rule, fx.product)
	if err != nil {
		t.Fatalf("重复调度出错: %v", err)
	}
	if dup != nil {
		t.Error("已有 pending 记录时应返回 nil")
	}

	var count int64
	fx.db.Model(&model.RuleApplication{}).Count(&count)
	if count != 1 {
		t.Errorf("应只有 1 条记录，实际 %d", count)
	}
}

func TestScheduleRule_DelayedNotAppliedImmediately(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) { r.DelayMinutes = 60 })

	base := time.Now()
	fx.svc.now = func() time.Time { return base }

	app, err := fx.svc.ScheduleRule(context.Background(), rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}
	if app.Status != model.ApplicationPending {
		t.Errorf("延迟规则应停留在 pending，实际 %s", app.Status)
	}
	if app.ScheduledFor == nil || !app.ScheduledFor.Equal(base.Add(60*time.Minute)) {
		t.Error("scheduled_for 应为触发时间 + 延迟")
	}
	if len(fx.session.updates) != 0 {
		t.Error("延迟期间不应有远端写操作")
	}
}

// ==================== 状态机：场景 A 立即隐藏 ====================

func TestApplyRule_HideImmediately(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) {
		r.ActionType = model.ActionHideProduct
		r.DelayMinutes = 0
		r.SendNotification = true
	})

	app, err := fx.svc.ScheduleRule(context.Background(), rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}

	var saved model.RuleApplication
	fx.db.First(&saved, app.ID)
	if saved.Status != model.ApplicationApplied {
		t.Fatalf("延迟 0 应立即应用，实际 %s", saved.Status)
	}
	if saved.AppliedAt == nil {
		t.Error("applied_at 应被写入")
	}

	// 远端先收到了下架
	if len(fx.session.updates) != 1 {
		t.Fatalf("应有 1 次远端更新，实际 %d", len(fx.session.updates))
	}
	if published, ok := fx.session.updates[0]["published"].(bool); !ok || published {
		t.Error("远端更新应为取消发布")
	}

	// 本地可见性与审计
	var product model.Product
	fx.db.First(&product, fx.product.ID)
	if product.IsVisible {
		t.Error("商品应被隐藏")
	}
	if product.HiddenAt == nil {
		t.Error("hidden_at 应被写入")
	}

	var logCount int64
	fx.db.Model(&model.InventoryLog{}).Where("action = ?", model.LogActionHide).Count(&logCount)
	if logCount != 1 {
		t.Errorf("应有 1 条 hide 审计日志，实际 %d", logCount)
	}

	if len(fx.notifier.events) != 1 || fx.notifier.events[0] != "rule_applied" {
		t.Errorf("应发出 rule_applied 通知，实际 %v", fx.notifier.events)
	}
}

// ==================== 状态机：场景 B 计划回归 ====================

func TestApplyAndRestore_ScheduleReturn(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) {
		r.ActionType = model.ActionScheduleReturn
		r.DelayMinutes = 0
		r.RestoreAfterDays = 2
	})

	base := time.Now()
	fx.svc.now = func() time.Time { return base }

	app, err := fx.svc.ScheduleRule(context.Background(), rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}

	var saved model.RuleApplication
	fx.db.First(&saved, app.ID)
	if saved.Status != model.ApplicationApplied {
		t.Fatalf("应为 applied，实际 %s", saved.Status)
	}
	wantRestore := base.AddDate(0, 0, 2)
	if saved.RestoreScheduledFor == nil || saved.RestoreScheduledFor.Sub(wantRestore).Abs() > time.Second {
		t.Error("restore_scheduled_for 应为应用时间 + 2 天")
	}

	var product model.Product
	fx.db.First(&product, fx.product.ID)
	if product.IsVisible || product.ScheduledReturn == nil {
		t.Error("商品应隐藏且带恢复计划")
	}

	// 两天后恢复
	fx.svc.now = func() time.Time { return base.AddDate(0, 0, 2).Add(time.Minute) }
	result, err := fx.svc.RestoreRule(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("RestoreRule() error = %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("恢复应成功，实际 %s (%s)", result.Outcome, result.Reason)
	}

	fx.db.First(&saved, app.ID)
	if saved.Status != model.ApplicationReversed {
		t.Errorf("应为 reversed，实际 %s", saved.Status)
	}
	if saved.RestoredAt == nil {
		t.Error("restored_at 应被写入")
	}

	// 换新结构体重读：gorm 扫描 NULL 列不会清掉旧指针值
	var restored model.Product
	fx.db.First(&restored, fx.product.ID)
	if !restored.IsVisible || restored.HiddenAt != nil || restored.ScheduledReturn != nil {
		t.Error("商品可见性应完全恢复")
	}

	// 终态不再迁移
	result, err = fx.svc.RestoreRule(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("重复恢复出错: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("终态记录应跳过，实际 %s", result.Outcome)
	}
}

// ==================== 状态机：失败路径 ====================

func TestApplyRule_RemoteFailure(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) { r.DelayMinutes = 30 })

	app, err := fx.svc.ScheduleRule(context.Background(), rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}

	fx.session.updateErr = errors.New("boom")
	result, err := fx.svc.ApplyRule(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("ApplyRule() error = %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("远端失败应标记 failed，实际 %s", result.Outcome)
	}

	var saved model.RuleApplication
	fx.db.First(&saved, app.ID)
	if saved.Status != model.ApplicationFailed {
		t.Errorf("状态应为 failed，实际 %s", saved.Status)
	}
	if saved.Notes == "" {
		t.Error("失败原因应写入 notes")
	}

	// 本地可见性不动
	var product model.Product
	fx.db.First(&product, fx.product.ID)
	if !product.IsVisible {
		t.Error("远端失败时本地可见性不应改变")
	}
}

func TestApplyRule_UnsupportedAction(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) {
		r.ActionType = "discount_product" // 不在动作集合内
		r.DelayMinutes = 30
	})

	app, err := fx.svc.ScheduleRule(context.Background(), rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}

	result, err := fx.svc.ApplyRule(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("ApplyRule() error = %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("未知动作应标记 failed，实际 %s", result.Outcome)
	}

	var saved model.RuleApplication
	fx.db.First(&saved, app.ID)
	if saved.Status != model.ApplicationFailed {
		t.Errorf("状态应为 failed，实际 %s", saved.Status)
	}
	if saved.Notes == "" {
		t.Error("notes 应说明不支持的动作类型")
	}
	if len(fx.session.updates) != 0 {
		t.Error("未知动作不应触达远端")
	}
}

func TestApplyRule_SkipsNonPending(t *testing.T) {
	fx := newRuleFixture(t)
	rule := fx.createRule(t, func(r *model.Rule) { r.DelayMinutes = 30 })

	app, err := fx.svc.ScheduleRule(context.Background(), rule, fx.product)
	if err != nil {
		t.Fatalf("ScheduleRule() error = %v", err)
	}

	// 第一次应用成功
	result, err := fx.svc.ApplyRule(context.Background(), app.ID)
	if err != nil || result.Outcome != OutcomeSuccess {
		t.Fatalf("首次应用应成功: outcome=%v err=%v", result.Outcome, err)
	}

	// 重复派发：守卫拦截为 no-op，不再触达远端
	remoteCalls := len(fx.session.updates)
	result, err = fx.svc.ApplyRule(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("重复应用出错: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("重复派发应跳过，实际 %s", result.Outcome)
	}
	if len(fx.session.updates) != remoteCalls {
		t.Error("跳过的派发不应产生远端写操作")
	}

	var logCount int64
	fx.db.Model(&model.InventoryLog{}).Count(&logCount)
	if logCount != 1 {
		t.Errorf("重复派发不应追加日志，实际 %d 条", logCount)
	}
}

// ==================== 库存评估 ====================

func TestEvaluateStockLevel_SchedulesMatchingRules(t *testing.T) {
	fx := newRuleFixture(t)
	// 命中：缺货 + 无过滤
	hit := fx.createRule(t, func(r *model.Rule) { r.DelayMinutes = 30; r.Name = "hit" })
	// 不命中：供应商过滤不符
	fx.createRule(t, func(r *model.Rule) {
		r.DelayMinutes = 30
		r.Name = "miss"
		r.VendorFilter = "SomeoneElse"
	})

	err := fx.svc.EvaluateStockLevel(context.Background(), fx.store, fx.product, 0)
	if err != nil {
		t.Fatalf("EvaluateStockLevel() error = %v", err)
	}

	var apps []model.RuleApplication
	fx.db.Find(&apps)
	if len(apps) != 1 {
		t.Fatalf("应只调度命中的规则，实际 %d 条", len(apps))
	}
	if apps[0].RuleID != hit.ID {
		t.Error("调度的应是无过滤规则")
	}
}
