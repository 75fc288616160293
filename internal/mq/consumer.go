package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"stockmaster/internal/service"
	"stockmaster/pkg/logger"
)

// ==================== 入站事件 ====================

// WebhookEvent 入站边界发布到事件总线的统一信封
// 入站控制器只做校验 + 入队，重活全部在消费端
type WebhookEvent struct {
	Topic      string          `json:"topic"`       // 远端事件主题，如 products/update
	ShopDomain string          `json:"shop_domain"` // 租户定位
	Payload    json.RawMessage `json:"payload"`     // 远端原始载荷
}

type productPayload struct {
	ID int64 `json:"id"`
}

type inventoryLevelPayload struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       *int  `json:"available"`
}

// ==================== Consumer 事件消费者 ====================

// Consumer 消费 webhook 事件并驱动入站事件服务
// 处理失败不提交重试（消息已自动提交），依赖周期性全量同步兜底
type Consumer struct {
	reader    *kafka.Reader
	inventory *service.InventoryService
}

// NewConsumer 创建事件消费者
func NewConsumer(reader *kafka.Reader, inventory *service.InventoryService) *Consumer {
	return &Consumer{reader: reader, inventory: inventory}
}

// Start 阻塞式消费循环，ctx 取消后退出
func (c *Consumer) Start(ctx context.Context) {
	logger.L().Info("[Consumer] webhook 事件消费者已启动")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.L().Info("[Consumer] 消费者停止")
				return
			}
			logger.L().Errorf("[Consumer] 读取消息失败: %v", err)
			time.Sleep(time.Second)
			continue
		}
		c.processMessage(ctx, msg)
	}
}

// Close 关闭底层读取器
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	var event WebhookEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.L().Errorf("[Consumer] 消息解析失败 offset=%d: %v", msg.Offset, err)
		return
	}

	if err := c.handleEvent(ctx, &event); err != nil {
		logger.L().Errorf("[Consumer] 事件处理失败 topic=%s store=%s: %v",
			event.Topic, event.ShopDomain, err)
	}
}

func (c *Consumer) handleEvent(ctx context.Context, event *WebhookEvent) error {
	switch event.Topic {
	case "products/update", "products/create":
		var p productPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		return c.inventory.OnProductUpdate(ctx, event.ShopDomain, p.ID)

	case "inventory_levels/update":
		var p inventoryLevelPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		available := 0
		if p.Available != nil {
			available = *p.Available
		}
		return c.inventory.OnInventoryLevelUpdate(ctx, event.ShopDomain, p.InventoryItemID, available)

	case "app/uninstalled":
		return c.inventory.OnAppUninstalled(ctx, event.ShopDomain)

	default:
		logger.L().Debugf("[Consumer] 忽略未知主题 %s", event.Topic)
		return nil
	}
}
