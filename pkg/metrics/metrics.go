package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ==================== 业务指标 ====================

var (
	// SyncTotal 店铺同步结果计数，label: status = success|failed
	SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockmaster",
		Name:      "store_sync_total",
		Help:      "Store catalog reconciliation outcomes.",
	}, []string{"status"})

	// ProductsSynced 累计 upsert 的商品数
	ProductsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockmaster",
		Name:      "products_synced_total",
		Help:      "Products upserted during reconciliation.",
	})

	// RuleTransitions 规则应用状态迁移计数，label: transition = applied|reversed|failed|skipped
	RuleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockmaster",
		Name:      "rule_transitions_total",
		Help:      "Rule application state machine transitions.",
	}, []string{"transition"})

	// PollerDispatched 轮询器派发的到期工作项计数，label: kind = apply|restore
	PollerDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockmaster",
		Name:      "poller_dispatched_total",
		Help:      "Due work items dispatched by the scheduled-work poller.",
	}, []string{"kind"})

	// NotificationsSent 通知分发计数，label: status = ok|error
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockmaster",
		Name:      "notifications_total",
		Help:      "Notification decisions handed to the dispatcher.",
	}, []string{"status"})
)
