package worker

import (
	"context"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/infra/queue"
	"backend/internal/wallet"
	"backend/internal/worker/handlers"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 后台任务服务器：钱包巡检 + 支付记录归档
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger

	queueClient queue.Client
	walletCfg   config.WalletConfig
	stopTicker  chan struct{}
}

// NewServer 创建 Worker 服务器
func NewServer(
	cfg config.RedisConfig,
	walletCfg config.WalletConfig,
	queueClient queue.Client,
	walletService *wallet.Service,
	walletStore wallet.Store,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"wallet":  3,
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	walletHandler := handlers.NewWalletHandler(walletService, walletStore, logger)
	mux.HandleFunc(tasks.TypeWalletSweep, walletHandler.HandleWalletSweep)
	mux.HandleFunc(tasks.TypePaymentArchive, walletHandler.HandlePaymentArchive)

	return &Server{
		server:      srv,
		mux:         mux,
		logger:      logger,
		queueClient: queueClient,
		walletCfg:   walletCfg,
		stopTicker:  make(chan struct{}),
	}
}

// Start 非阻塞启动，并按配置周期入队巡检任务
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	if err := s.server.Start(s.mux); err != nil {
		return err
	}

	if s.walletCfg.SweepIntervalMinutes > 0 {
		go s.runScheduler()
	}
	return nil
}

// runScheduler 周期入队巡检/归档任务（轻量调度，避免引入 cron 组件）
func (s *Server) runScheduler() {
	interval := time.Duration(s.walletCfg.SweepIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.queueClient.EnqueueWalletSweep(s.walletCfg.SweepBatchSize); err != nil {
				s.logger.Warn("入队钱包巡检失败", zap.Error(err))
			}
			if err := s.queueClient.EnqueuePaymentArchive(s.walletCfg.PaymentRetentionDays); err != nil {
				s.logger.Warn("入队支付归档失败", zap.Error(err))
			}
		case <-s.stopTicker:
			return
		}
	}
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	close(s.stopTicker)
	s.server.Shutdown()
}
