package payment

import (
	"errors"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	walletSvc "backend/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handler 支付事件处理器。
// 上游是各支付网关的回调服务，事件在网关侧已确认收款后投递到这里。
type Handler struct {
	svc *walletSvc.Service
}

// NewHandler 创建处理器
func NewHandler(svc *walletSvc.Service) *Handler {
	return &Handler{svc: svc}
}

// ApplyEvent 应用支付事件（幂等：同一 provider+orderId 重复投递返回首次结果）
// @Summary 应用支付事件
// @Tags Payment
// @Security BearerAuth
// @Param body body walletSvc.PaymentEvent true "支付事件"
// @Accept json
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payments/events [post]
func (h *Handler) ApplyEvent(c *gin.Context) {
	var ev walletSvc.PaymentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "无效的请求参数: " + err.Error()})
		return
	}

	result, err := h.svc.ApplyPayment(c.Request.Context(), &ev)
	if err != nil {
		switch {
		case errors.Is(err, walletSvc.ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		case errors.Is(err, walletSvc.ErrUnknownPlan), errors.Is(err, walletSvc.ErrUnknownAddonPackage):
			// 已落为 failed 记录，等待人工对账
			c.JSON(http.StatusUnprocessableEntity, response.ErrorResponse{Success: false, Message: err.Error()})
		case errors.Is(err, walletSvc.ErrConcurrentUpdate):
			c.JSON(http.StatusConflict, response.ErrorResponse{Success: false, Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}

// ListSubscriptions 查询用户订阅历史（按时间倒序）
// @Summary 查询用户订阅历史
// @Tags Payment
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Param limit query int false "返回条数，默认 20，最大 100"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/wallet/{userId}/subscriptions [get]
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID := c.Param("userId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, err := h.svc.ListSubscriptions(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: records})
}
