package plans

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/plan"

	"github.com/gin-gonic/gin"
)

// Handler 套餐目录处理器
type Handler struct {
	catalog *plan.Catalog
}

// NewHandler 创建处理器
func NewHandler(catalog *plan.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// ListPlans 列出全部套餐
// @Summary 列出全部套餐
// @Tags Plans
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/plans [get]
func (h *Handler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: h.catalog.List()})
}

// ListAddons 列出全部加油包
// @Summary 列出全部加油包
// @Tags Plans
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/plans/addons [get]
func (h *Handler) ListAddons(c *gin.Context) {
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: h.catalog.ListAddons()})
}
