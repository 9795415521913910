package wallet

import (
	"errors"
	"net/http"

	response "backend/api/handlers/common"
	walletSvc "backend/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handler 钱包权益与配额处理器
type Handler struct {
	svc *walletSvc.Service
}

// NewHandler 创建处理器
func NewHandler(svc *walletSvc.Service) *Handler {
	return &Handler{svc: svc}
}

// GetEntitlement 获取用户权益快照
// @Summary 获取用户权益快照
// @Tags Wallet
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/wallet/{userId}/entitlement [get]
func (h *Handler) GetEntitlement(c *gin.Context) {
	userID := c.Param("userId")

	ent, err := h.svc.GetEntitlement(c.Request.Context(), userID)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: ent})
}

type quotaDTO struct {
	ImageCount      int `json:"imageCount" binding:"min=0"`
	VideoAudioCount int `json:"videoAudioCount" binding:"min=0"`
}

// CheckQuota 检查多模态配额（只读，不扣减）
// @Summary 检查多模态配额
// @Tags Wallet
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Param body body quotaDTO true "检查请求"
// @Accept json
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/wallet/{userId}/quota/check [post]
func (h *Handler) CheckQuota(c *gin.Context) {
	userID := c.Param("userId")

	var req quotaDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "无效的请求参数: " + err.Error()})
		return
	}

	result, err := h.svc.CheckQuota(c.Request.Context(), userID, req.ImageCount, req.VideoAudioCount)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}

// ConsumeQuota 扣减多模态配额（月度桶优先，其次加油包）
// @Summary 扣减多模态配额
// @Tags Wallet
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Param body body quotaDTO true "扣减请求"
// @Accept json
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/wallet/{userId}/quota/consume [post]
func (h *Handler) ConsumeQuota(c *gin.Context) {
	userID := c.Param("userId")

	var req quotaDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "无效的请求参数: " + err.Error()})
		return
	}

	result, err := h.svc.ConsumeQuota(c.Request.Context(), userID, req.ImageCount, req.VideoAudioCount)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}

type dailyConsumeDTO struct {
	Count int `json:"count" binding:"min=0"`
}

// ConsumeDailyExternal 扣减当日外部模型调用次数
// @Summary 扣减当日外部模型调用次数
// @Tags Wallet
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Param body body dailyConsumeDTO false "扣减请求，count 缺省为 1"
// @Accept json
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/wallet/{userId}/daily/consume [post]
func (h *Handler) ConsumeDailyExternal(c *gin.Context) {
	userID := c.Param("userId")

	req := dailyConsumeDTO{Count: 1}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "无效的请求参数: " + err.Error()})
			return
		}
	}

	result, err := h.svc.ConsumeDailyExternal(c.Request.Context(), userID, req.Count)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}

// writeWalletError 将钱包领域错误映射为 HTTP 状态码
func writeWalletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, walletSvc.ErrInvalidCount):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
	case errors.Is(err, walletSvc.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
	case errors.Is(err, walletSvc.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, response.ErrorResponse{Success: false, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
	}
}
