package model

import (
	"time"
)

// ==================== 同步状态 ====================

type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusSuccess    SyncStatus = "success"
	SyncStatusFailed     SyncStatus = "failed"
)

// ==================== Store 店铺 ====================

// Store 一个已接入的 Shopify 商户店铺（多租户核心实体）
type Store struct {
	BaseModel
	ShopDomain string `gorm:"size:255;uniqueIndex;not null"` // myshopify.com 域名
	ShopName   string `gorm:"size:255"`
	ShopEmail  string `gorm:"size:255"`

	// --- 凭证 ---
	AccessToken string `gorm:"size:255" json:"-"` // OAuth 永久令牌，卸载时清空
	Scope       string `gorm:"type:text"`

	// --- 状态 ---
	IsActive      bool `gorm:"default:true;index"`
	SetupComplete bool `gorm:"default:false"`

	// --- 同步状态（仅允许同步引擎修改）---
	SyncStatus SyncStatus `gorm:"size:50;default:pending"`
	LastSyncAt *time.Time

	LastAccess time.Time
}

func (Store) TableName() string {
	return "stores"
}

// HasCredential 是否持有可用凭证
func (s *Store) HasCredential() bool {
	return s.AccessToken != ""
}

// ==================== Webhook 注册记录 ====================

// Webhook 已在远端注册的 webhook 订阅
type Webhook struct {
	BaseModel
	StoreID   int64  `gorm:"uniqueIndex:idx_store_webhook;not null"`
	Store     *Store `gorm:"foreignKey:StoreID"`
	WebhookID int64  `gorm:"uniqueIndex:idx_store_webhook;not null"` // 远端 webhook ID
	Topic     string `gorm:"size:100;index"`
	Address   string `gorm:"size:512"`
	Format    string `gorm:"size:20;default:json"`
}

func (Webhook) TableName() string {
	return "webhooks"
}
