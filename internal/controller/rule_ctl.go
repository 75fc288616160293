package controller

import (
	"github.com/gin-gonic/gin"

	"stockmaster/internal/model"
	"stockmaster/internal/repository"
)

// RuleController 规则管理控制器
type RuleController struct {
	ruleRepo repository.RuleRepository
}

// NewRuleController 创建规则控制器
func NewRuleController(ruleRepo repository.RuleRepository) *RuleController {
	return &RuleController{ruleRepo: ruleRepo}
}

// ==================== 请求体 ====================

type createRuleReq struct {
	StoreID          int64  `json:"store_id" binding:"required"`
	Name             string `json:"name" binding:"required"`
	Description      string `json:"description"`
	TriggerType      string `json:"trigger_type" binding:"required"`
	Threshold        int    `json:"threshold"`
	ActionType       string `json:"action_type" binding:"required"`
	DelayMinutes     int    `json:"delay_minutes"`
	AutoRestore      bool   `json:"auto_restore"`
	RestoreAfterDays int    `json:"restore_after_days"`
	ProductType      string `json:"product_type_filter"`
	Vendor           string `json:"vendor_filter"`
	SendNotification bool   `json:"send_notification"`
	Priority         int    `json:"priority"`
}

// ==================== Handler 实现 ====================

// Create 创建规则
// @Summary 创建库存规则
// @Tags Rule
// @Router /api/rules [post]
func (c *RuleController) Create(ctx *gin.Context) {
	var req createRuleReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"code": 400, "message": err.Error()})
		return
	}

	rule := &model.Rule{
		StoreID:           req.StoreID,
		Name:              req.Name,
		Description:       req.Description,
		TriggerType:       model.TriggerType(req.TriggerType),
		Threshold:         req.Threshold,
		ActionType:        model.ActionType(req.ActionType),
		DelayMinutes:      req.DelayMinutes,
		AutoRestore:       req.AutoRestore,
		RestoreAfterDays:  req.RestoreAfterDays,
		ProductTypeFilter: req.ProductType,
		VendorFilter:      req.Vendor,
		SendNotification:  req.SendNotification,
		IsActive:          true,
		Priority:          req.Priority,
	}
	if err := c.ruleRepo.CreateRule(ctx.Request.Context(), rule); err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{"code": 200, "message": "rule created", "data": rule})
}

// List 店铺规则列表
// @Summary 查询店铺的规则
// @Tags Rule
// @Param store_id path int true "店铺 ID"
// @Router /api/stores/{store_id}/rules [get]
func (c *RuleController) List(ctx *gin.Context) {
	storeID := parseID(ctx, "store_id")
	if storeID == 0 {
		return
	}

	rules, err := c.ruleRepo.ListByStore(ctx.Request.Context(), storeID)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{"code": 200, "data": rules})
}

// SetActive 启用/停用规则
// 停用规则后，轮询器不再派发它名下的 pending 记录
// @Summary 启用或停用规则
// @Tags Rule
// @Param id path int true "规则 ID"
// @Router /api/rules/{id}/active [put]
func (c *RuleController) SetActive(ctx *gin.Context) {
	ruleID := parseID(ctx, "id")
	if ruleID == 0 {
		return
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"code": 400, "message": err.Error()})
		return
	}

	err := c.ruleRepo.UpdateRuleFields(ctx.Request.Context(), ruleID,
		map[string]interface{}{"is_active": req.IsActive})
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{"code": 200, "message": "rule updated"})
}
