package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 进程级配置，全部来自环境变量，代码内给默认值
type Config struct {
	Debug      bool
	ServerPort string

	// --- 数据库 ---
	DatabaseDSN string

	// --- Shopify ---
	ShopifyAPIVersion  string
	WebhookSecret      string // HMAC 校验密钥（入站边界）
	WebhookCallbackURL string // 注册 webhook 时使用的回调地址

	// --- 同步任务 ---
	SyncIntervalMinutes int
	SyncConcurrency     int
	SyncMaxAttempts     int
	SyncRetryDelay      time.Duration

	// --- 轮询器 ---
	PollerConcurrency int
	PollerBatchSize   int

	// --- 通知分发 ---
	NotifyWebhookURL string

	// --- Kafka（可选，入站事件总线）---
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// --- Redis（可选，跨进程锁）---
	RedisAddr string
}

// Load 读取环境变量并套用默认值
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DEBUG", false)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DATABASE_DSN", "host=localhost user=stockmaster password=stockmaster dbname=stockmaster port=5432 sslmode=disable")
	v.SetDefault("SHOPIFY_API_VERSION", "2024-01")
	v.SetDefault("SHOPIFY_WEBHOOK_SECRET", "")
	v.SetDefault("WEBHOOK_CALLBACK_URL", "")
	v.SetDefault("SYNC_INTERVAL_MINUTES", 360)
	v.SetDefault("SYNC_CONCURRENCY", 3)
	v.SetDefault("SYNC_MAX_ATTEMPTS", 3)
	v.SetDefault("SYNC_RETRY_DELAY_SECONDS", 60)
	v.SetDefault("POLLER_CONCURRENCY", 5)
	v.SetDefault("POLLER_BATCH_SIZE", 500)
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "stockmaster.webhook-events")
	v.SetDefault("KAFKA_GROUP_ID", "stockmaster-core")
	v.SetDefault("REDIS_ADDR", "")

	cfg := &Config{
		Debug:               v.GetBool("DEBUG"),
		ServerPort:          v.GetString("SERVER_PORT"),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		ShopifyAPIVersion:   v.GetString("SHOPIFY_API_VERSION"),
		WebhookSecret:       v.GetString("SHOPIFY_WEBHOOK_SECRET"),
		WebhookCallbackURL:  v.GetString("WEBHOOK_CALLBACK_URL"),
		SyncIntervalMinutes: v.GetInt("SYNC_INTERVAL_MINUTES"),
		SyncConcurrency:     v.GetInt("SYNC_CONCURRENCY"),
		SyncMaxAttempts:     v.GetInt("SYNC_MAX_ATTEMPTS"),
		SyncRetryDelay:      time.Duration(v.GetInt("SYNC_RETRY_DELAY_SECONDS")) * time.Second,
		PollerConcurrency:   v.GetInt("POLLER_CONCURRENCY"),
		PollerBatchSize:     v.GetInt("POLLER_BATCH_SIZE"),
		NotifyWebhookURL:    v.GetString("NOTIFY_WEBHOOK_URL"),
		KafkaTopic:          v.GetString("KAFKA_TOPIC"),
		KafkaGroupID:        v.GetString("KAFKA_GROUP_ID"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}
