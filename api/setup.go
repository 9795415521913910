package api

import (
	"os"
	"strings"

	paymentHandlers "backend/api/handlers/payment"
	plansHandlers "backend/api/handlers/plans"
	walletHandlers "backend/api/handlers/wallet"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/metrics"
	middlewarepkg "backend/internal/middleware"
	"backend/internal/plan"
	"backend/internal/wallet"
	"backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	// 基础设施
	DB          *gorm.DB // Redis 后端下为 nil
	Config      *config.Config
	RedisClient redis.UniversalClient
	QueueClient queue.Client

	// 认证
	JWTService *auth.JWTService

	// 核心服务
	Catalog       *plan.Catalog
	WalletStore   wallet.Store
	WalletService *wallet.Service
}

// Handlers 处理器集合
type Handlers struct {
	Wallet  *walletHandlers.Handler
	Payment *paymentHandlers.Handler
	Plans   *plansHandlers.Handler
}

// SetupRouter 设置并返回 Gin 路由和 Worker 服务器。
// db 仅在 postgres 存储后端下使用，redis 后端传 nil。
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	router := gin.New()

	// 统一归一化 Redis 配置，优先使用 cfg.Redis，再回退到环境变量
	redisCfg := normalizeRedisConfig(cfg.Redis)
	cfg.Redis = redisCfg

	// 初始化队列客户端（asynq 始终走 Redis，与存储后端无关）
	queueClient := queue.NewClient(redisCfg)

	// 初始化认证服务
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	jwtSecretKey := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	if jwtSecretKey == "" {
		// 生产模式必须显式配置密钥，防止使用弱默认值
		if strings.EqualFold(cfg.Server.Mode, "release") || strings.EqualFold(appEnv, "prod") || strings.EqualFold(appEnv, "production") {
			logger.Fatal("JWT_SECRET_KEY 未配置，生产环境禁止使用默认密钥")
		}
		jwtSecretKey = "default_jwt_secret_key_change_in_production" // 本地/测试默认值，需明确提示
		logger.Warn("JWT_SECRET_KEY 未配置，已回退为开发默认值，请在生产环境设置强随机密钥")
	}
	jwtService := auth.NewJWTService(jwtSecretKey, "chat-wallet")

	// 加载套餐目录
	catalog, err := plan.Load(cfg.Wallet.PlansPath)
	if err != nil {
		logger.Fatal("加载套餐目录失败", zap.String("path", cfg.Wallet.PlansPath), zap.Error(err))
	}

	// 按配置选择存储后端；引擎逻辑只有一份，后端只提供读写与加锁
	seed := wallet.NewFreeWallet(catalog)
	var walletStore wallet.Store
	var redisClient redis.UniversalClient
	switch strings.ToLower(cfg.Store.Backend) {
	case "redis":
		redisClient, err = infra.InitRedis(&redisCfg)
		if err != nil {
			logger.Fatal("初始化 Redis 存储后端失败", zap.Error(err))
		}
		walletStore = wallet.NewRedisStore(redisClient, seed)
	default:
		if db == nil {
			logger.Fatal("postgres 存储后端需要数据库连接")
		}
		gormStore := wallet.NewGormStore(db, seed)
		if cfg.Database.AutoMigrate {
			if err := gormStore.AutoMigrate(); err != nil {
				logger.Fatal("钱包表结构迁移失败", zap.Error(err))
			}
		}
		walletStore = gormStore
	}

	walletService := wallet.NewService(walletStore, catalog)

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middlewarepkg.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())

	// Prometheus 指标收集中间件
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点（不需要认证）
	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(db, cfg.Store.Backend))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	container := &AppContainer{
		DB:            db,
		Config:        cfg,
		RedisClient:   redisClient,
		QueueClient:   queueClient,
		JWTService:    jwtService,
		Catalog:       catalog,
		WalletStore:   walletStore,
		WalletService: walletService,
	}

	handlers := &Handlers{
		Wallet:  walletHandlers.NewHandler(walletService),
		Payment: paymentHandlers.NewHandler(walletService),
		Plans:   plansHandlers.NewHandler(catalog),
	}

	RegisterRoutes(router, container, handlers)

	// Worker：周期巡检到期钱包、归档历史支付记录
	workerServer := worker.NewServer(
		redisCfg,
		cfg.Wallet,
		queueClient,
		walletService,
		walletStore,
		logger.Get(),
	)

	return router, workerServer
}
