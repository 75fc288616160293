package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"stockmaster/internal/model"
	"stockmaster/pkg/logger"
	"stockmaster/pkg/metrics"
)

// ==================== Notifier 通知分发边界 ====================

// Notifier 核心只决定"通知什么"，投递属外部协作方
// 对核心而言 fire-and-forget：分发失败绝不回滚状态迁移
type Notifier interface {
	Notify(ctx context.Context, storeID int64, eventType string, payload map[string]interface{}) error
}

// ==================== Webhook 实现 ====================

// WebhookNotifier 把决策 POST 到配置的回调地址，并在本地留痕
// 回调地址为空时只留痕不投递
type WebhookNotifier struct {
	db   *gorm.DB
	http *resty.Client
	url  string
}

// NewWebhookNotifier 创建通知分发器
func NewWebhookNotifier(db *gorm.DB, url string) *WebhookNotifier {
	return &WebhookNotifier{
		db:   db,
		http: resty.New().SetTimeout(10 * time.Second),
		url:  url,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, storeID int64, eventType string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	entry := &model.NotificationLog{
		StoreID:   storeID,
		EventType: eventType,
		EventID:   uuid.NewString(),
		Payload:   body,
	}

	if n.url != "" {
		resp, postErr := n.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Stockmaster-Event", eventType).
			SetHeader("X-Stockmaster-Event-Id", entry.EventID).
			SetBody(body).
			Post(n.url)

		switch {
		case postErr != nil:
			entry.Error = postErr.Error()
		case resp.IsError():
			entry.Error = resp.Status()
		default:
			entry.Delivered = true
		}
	}

	if entry.Delivered || n.url == "" {
		metrics.NotificationsSent.WithLabelValues("ok").Inc()
	} else {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		logger.L().Warnf("[Notifier] 通知投递失败 store=%d event=%s err=%s", storeID, eventType, entry.Error)
	}

	return n.db.WithContext(ctx).Create(entry).Error
}
