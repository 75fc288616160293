package controller

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"

	"stockmaster/internal/mq"
	"stockmaster/internal/service"
	"stockmaster/pkg/logger"
)

// WebhookController 入站 webhook 边界
// 职责只有三件：HMAC 校验、组装事件信封、入队（或无队列时直接处理）
// 必须快速返回 200，否则远端会反复重投
type WebhookController struct {
	writer    *kafka.Writer
	inventory *service.InventoryService
	secret    string
}

// NewWebhookController 创建 webhook 控制器
// writer 为 nil 时退化为同步处理（无 Kafka 的单机部署）
func NewWebhookController(writer *kafka.Writer, inventory *service.InventoryService, secret string) *WebhookController {
	return &WebhookController{writer: writer, inventory: inventory, secret: secret}
}

// ==================== Handler 实现 ====================

// Receive 接收 Shopify webhook
// @Summary 接收远端 webhook 事件
// @Tags Webhook
// @Router /webhooks/shopify [post]
func (c *WebhookController) Receive(ctx *gin.Context) {
	topic := ctx.GetHeader("X-Shopify-Topic")
	shopDomain := ctx.GetHeader("X-Shopify-Shop-Domain")
	if topic == "" || shopDomain == "" {
		ctx.JSON(400, gin.H{"code": 400, "message": "missing webhook headers"})
		return
	}

	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(400, gin.H{"code": 400, "message": "unreadable body"})
		return
	}

	if !c.verifySignature(body, ctx.GetHeader("X-Shopify-Hmac-Sha256")) {
		logger.L().Warnf("[WebhookController] HMAC 校验失败 store=%s topic=%s", shopDomain, topic)
		ctx.JSON(401, gin.H{"code": 401, "message": "invalid signature"})
		return
	}

	event := mq.WebhookEvent{
		Topic:      topic,
		ShopDomain: shopDomain,
		Payload:    body,
	}

	if c.writer != nil {
		value, err := json.Marshal(event)
		if err != nil {
			ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
			return
		}
		err = c.writer.WriteMessages(ctx.Request.Context(), kafka.Message{
			Key:   []byte(shopDomain),
			Value: value,
		})
		if err != nil {
			logger.L().Errorf("[WebhookController] 入队失败 topic=%s: %v", topic, err)
			ctx.JSON(500, gin.H{"code": 500, "message": "enqueue failed"})
			return
		}
	} else {
		// 同步处理也不能拖慢响应，放到独立 goroutine
		go c.handleInline(event)
	}

	ctx.JSON(200, gin.H{"code": 200, "message": "ok"})
}

// verifySignature Shopify HMAC-SHA256 校验，密钥未配置时跳过（开发模式）
func (c *WebhookController) verifySignature(body []byte, signature string) bool {
	if c.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *WebhookController) handleInline(event mq.WebhookEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch event.Topic {
	case "products/update", "products/create":
		var p struct {
			ID int64 `json:"id"`
		}
		if err = json.Unmarshal(event.Payload, &p); err == nil {
			err = c.inventory.OnProductUpdate(ctx, event.ShopDomain, p.ID)
		}
	case "inventory_levels/update":
		var p struct {
			InventoryItemID int64 `json:"inventory_item_id"`
			Available       *int  `json:"available"`
		}
		if err = json.Unmarshal(event.Payload, &p); err == nil {
			available := 0
			if p.Available != nil {
				available = *p.Available
			}
			err = c.inventory.OnInventoryLevelUpdate(ctx, event.ShopDomain, p.InventoryItemID, available)
		}
	case "app/uninstalled":
		err = c.inventory.OnAppUninstalled(ctx, event.ShopDomain)
	}
	if err != nil {
		logger.L().Errorf("[WebhookController] 事件处理失败 topic=%s store=%s: %v",
			event.Topic, event.ShopDomain, err)
	}
}
