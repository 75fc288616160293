package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"stockmaster/internal/task"
)

// SyncController 同步控制器
type SyncController struct {
	taskManager *task.TaskManager
}

// NewSyncController 创建同步控制器
func NewSyncController(taskManager *task.TaskManager) *SyncController {
	return &SyncController{taskManager: taskManager}
}

// ==================== Handler 实现 ====================

// SyncStore 同步单个店铺
// @Summary 手动触发单店铺目录同步
// @Tags Sync
// @Param id path int true "店铺 ID"
// @Router /api/sync/stores/{id} [post]
func (c *SyncController) SyncStore(ctx *gin.Context) {
	storeID := parseID(ctx, "id")
	if storeID == 0 {
		return
	}

	if err := c.taskManager.TriggerStoreSync(ctx.Request.Context(), storeID); err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "store sync completed",
		"data":    gin.H{"store_id": storeID},
	})
}

// SyncAllStores 同步所有店铺
// @Summary 手动触发所有店铺目录同步
// @Tags Sync
// @Router /api/sync/stores [post]
func (c *SyncController) SyncAllStores(ctx *gin.Context) {
	c.taskManager.TriggerAllStoresSync()

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "sync started for all stores",
	})
}

// Poll 手动触发一轮到期扫描
// @Summary 手动触发到期工作扫描
// @Tags Sync
// @Router /api/poll [post]
func (c *SyncController) Poll(ctx *gin.Context) {
	if err := c.taskManager.TriggerPoll(ctx.Request.Context()); err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "poll completed",
	})
}

// ==================== 工具函数 ====================

// parseID 解析路径参数中的 ID，失败时直接写 400 响应
func parseID(ctx *gin.Context, name string) int64 {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(400, gin.H{"code": 400, "message": "invalid " + name})
		return 0
	}
	return id
}
