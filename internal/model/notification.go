package model

import (
	"time"

	"gorm.io/datatypes"
)

// ==================== NotificationLog 通知决策记录 ====================

// NotificationLog 核心只负责决定"通知什么"，投递由外部渠道完成
// 每次交给分发器的决策都在此留痕，只追加
type NotificationLog struct {
	ID        int64 `gorm:"primary_key;AUTO_INCREMENT"`
	CreatedAt time.Time

	StoreID   int64          `gorm:"index;not null"`
	EventType string         `gorm:"size:100;index;not null"`
	EventID   string         `gorm:"size:64"` // 分发幂等键
	Payload   datatypes.JSON `gorm:"type:jsonb"`

	Delivered bool   `gorm:"default:false"`
	Error     string `gorm:"type:text"`
}

func (NotificationLog) TableName() string {
	return "notification_logs"
}
