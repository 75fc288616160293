package shopify

import (
	"strconv"
	"time"
)

// ==================== 远端 DTO ====================

// Product Shopify 商品
type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Handle      string    `json:"handle"`
	ProductType string    `json:"product_type"`
	Vendor      string    `json:"vendor"`
	Status      string    `json:"status"`
	Tags        string    `json:"tags"` // 逗号分隔
	PublishedAt *DateTime `json:"published_at"`
	Variants    []Variant `json:"variants"`
}

// Variant Shopify 商品变体
type Variant struct {
	ID              int64  `json:"id"`
	ProductID       int64  `json:"product_id"`
	Title           string `json:"title"`
	SKU             string `json:"sku"`
	Barcode         string `json:"barcode"`
	Price           string `json:"price"` // Shopify 以字符串下发
	CompareAtPrice  string `json:"compare_at_price"`
	Position        int    `json:"position"`
	InventoryItemID int64  `json:"inventory_item_id"`
}

// PriceValue 解析价格字符串，解析失败返回 0
func (v Variant) PriceValue() float64 {
	f, _ := strconv.ParseFloat(v.Price, 64)
	return f
}

// CompareAtPriceValue 同 PriceValue
func (v Variant) CompareAtPriceValue() float64 {
	f, _ := strconv.ParseFloat(v.CompareAtPrice, 64)
	return f
}

// InventoryLevel 变体库存项在某地点的可用量
type InventoryLevel struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       *int  `json:"available"` // 未跟踪库存时为 null
}

// AvailableValue null 按 0 处理
func (l InventoryLevel) AvailableValue() int {
	if l.Available == nil {
		return 0
	}
	return *l.Available
}

// WebhookSubscription 远端 webhook 订阅
type WebhookSubscription struct {
	ID      int64  `json:"id"`
	Topic   string `json:"topic"`
	Address string `json:"address"`
	Format  string `json:"format"`
}

// Shop 店铺信息，会话探活用
type Shop struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Domain string `json:"myshopify_domain"`
}

// ==================== 响应包装 ====================

type productsResp struct {
	Products []Product `json:"products"`
}

type productResp struct {
	Product Product `json:"product"`
}

type levelsResp struct {
	InventoryLevels []InventoryLevel `json:"inventory_levels"`
}

type webhooksResp struct {
	Webhooks []WebhookSubscription `json:"webhooks"`
}

type webhookResp struct {
	Webhook WebhookSubscription `json:"webhook"`
}

type shopResp struct {
	Shop Shop `json:"shop"`
}

// ==================== 时间解析 ====================

// DateTime Shopify 日期时间（ISO8601，可能为 null）
type DateTime struct {
	time.Time
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		return nil
	}
	t, err := time.Parse(`"`+time.RFC3339+`"`, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
