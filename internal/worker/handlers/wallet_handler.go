package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/metrics"
	"backend/internal/wallet"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WalletHandler 钱包巡检与支付归档任务处理器
type WalletHandler struct {
	service *wallet.Service
	store   wallet.Store
	logger  *zap.Logger
}

// NewWalletHandler 创建处理器
func NewWalletHandler(service *wallet.Service, store wallet.Store, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{service: service, store: store, logger: logger}
}

// HandleWalletSweep 扫描到期钱包并触发惰性归一化落库。
// 纯加速：引擎读路径自洽，这里漏扫/重复扫都不影响正确性。
func (h *WalletHandler) HandleWalletSweep(ctx context.Context, task *asynq.Task) error {
	var payload tasks.WalletSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %w", err)
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 500
	}

	now := time.Now()
	userIDs, err := h.store.ListDueWallets(ctx, now, payload.BatchSize)
	if err != nil {
		return fmt.Errorf("列出到期钱包失败: %w", err)
	}

	var failed int
	for _, userID := range userIDs {
		if err := h.service.Touch(ctx, userID); err != nil {
			failed++
			metrics.WalletSweepTotal.WithLabelValues("error").Inc()
			h.logger.Warn("钱包归一化失败",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		metrics.WalletSweepTotal.WithLabelValues("ok").Inc()
	}

	h.logger.Info("钱包巡检完成",
		zap.Int("total", len(userIDs)),
		zap.Int("failed", failed),
	)
	return nil
}

// HandlePaymentArchive 归档保留期外的已完成支付记录
func (h *WalletHandler) HandlePaymentArchive(ctx context.Context, task *asynq.Task) error {
	var payload tasks.PaymentArchivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %w", err)
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 90
	}

	before := time.Now().AddDate(0, 0, -payload.RetentionDays)
	n, err := h.store.ArchiveCompletedPayments(ctx, before)
	if err != nil {
		return fmt.Errorf("归档支付记录失败: %w", err)
	}

	h.logger.Info("支付记录归档完成", zap.Int64("archived", n))
	return nil
}
