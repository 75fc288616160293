package controller

import (
	"github.com/gin-gonic/gin"

	"stockmaster/internal/repository"
)

// ProductController 商品查询控制器（本地镜像只读）
type ProductController struct {
	productRepo   repository.ProductRepository
	inventoryRepo repository.InventoryRepository
}

// NewProductController 创建商品控制器
func NewProductController(productRepo repository.ProductRepository, inventoryRepo repository.InventoryRepository) *ProductController {
	return &ProductController{productRepo: productRepo, inventoryRepo: inventoryRepo}
}

// ==================== Handler 实现 ====================

// List 店铺商品列表
// @Summary 查询店铺的本地商品镜像
// @Tags Product
// @Param store_id path int true "店铺 ID"
// @Router /api/stores/{store_id}/products [get]
func (c *ProductController) List(ctx *gin.Context) {
	storeID := parseID(ctx, "store_id")
	if storeID == 0 {
		return
	}

	products, err := c.productRepo.ListByStore(ctx.Request.Context(), storeID)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{"code": 200, "data": products})
}

// Logs 商品审计日志
// @Summary 查询商品的库存审计日志
// @Tags Product
// @Param id path int true "商品 ID"
// @Router /api/products/{id}/logs [get]
func (c *ProductController) Logs(ctx *gin.Context) {
	productID := parseID(ctx, "id")
	if productID == 0 {
		return
	}

	logs, err := c.inventoryRepo.ListLogsByProduct(ctx.Request.Context(), productID, 100)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{"code": 200, "data": logs})
}
