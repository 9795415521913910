package api

import (
	"backend/internal/auth"
	middlewarepkg "backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	// 服务间限流（按调用方 IP）
	limiter := middlewarepkg.NewRateLimiter(middlewarepkg.DefaultRateLimiterConfig())

	// 主 API 组（向后兼容）
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware(container.JWTService), middlewarepkg.RateLimitMiddleware(limiter))
	registerAPIRoutes(api, handlers)

	// 版本化 API 组
	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.AuthMiddleware(container.JWTService), middlewarepkg.RateLimitMiddleware(limiter))
	registerAPIRoutes(apiV1, handlers)
}

// registerAPIRoutes 注册需要认证的 API 路由
func registerAPIRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	// 套餐目录
	plansGroup := apiGroup.Group("/plans")
	{
		plansGroup.GET("", h.Plans.ListPlans)
		plansGroup.GET("/addons", h.Plans.ListAddons)
	}

	// 钱包：权益查询与配额扣减
	walletGroup := apiGroup.Group("/wallet/:userId")
	{
		walletGroup.GET("/entitlement", h.Wallet.GetEntitlement)
		walletGroup.POST("/quota/check", h.Wallet.CheckQuota)
		walletGroup.POST("/quota/consume", h.Wallet.ConsumeQuota)
		walletGroup.POST("/daily/consume", h.Wallet.ConsumeDailyExternal)
		walletGroup.GET("/subscriptions", h.Payment.ListSubscriptions)
	}

	// 支付事件（网关回调服务投递）
	paymentsGroup := apiGroup.Group("/payments")
	{
		paymentsGroup.POST("/events", h.Payment.ApplyEvent)
	}
}
