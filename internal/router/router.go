package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockmaster/internal/controller"
)

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine,
	webhookCtl *controller.WebhookController,
	syncCtl *controller.SyncController,
	ruleCtl *controller.RuleController,
	productCtl *controller.ProductController) {

	// 健康检查与指标
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 入站 webhook（远端回调，签名校验在控制器内）
	r.POST("/webhooks/shopify", webhookCtl.Receive)

	// API 路由组
	api := r.Group("/api")
	{
		// sync 同步管理
		sync := api.Group("/sync")
		{
			// POST /api/sync/stores/:id
			sync.POST("/stores/:id", syncCtl.SyncStore)
			// POST /api/sync/stores
			sync.POST("/stores", syncCtl.SyncAllStores)
		}

		// 手动触发到期扫描
		api.POST("/poll", syncCtl.Poll)

		// rule 规则管理
		rules := api.Group("/rules")
		{
			rules.POST("", ruleCtl.Create)
			rules.PUT("/:id/active", ruleCtl.SetActive)
		}

		// 店铺维度的只读查询
		stores := api.Group("/stores")
		{
			stores.GET("/:store_id/rules", ruleCtl.List)
			stores.GET("/:store_id/products", productCtl.List)
		}

		// 商品审计日志
		api.GET("/products/:id/logs", productCtl.Logs)
	}
}
