package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ApplyPayment 幂等地把一笔已确认的外部支付翻译为一次钱包变更。
// 幂等键 = (provider, providerOrderId)：已 completed 的记录直接返回
// 此前的计算结果，webhook/轮询重投不会二次记账。
// 钱包变更失败时记录保持非 completed，重试会重新应用。
func (s *Service) ApplyPayment(ctx context.Context, ev *PaymentEvent) (*ApplyResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "wallet.ApplyPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", ev.Provider),
		attribute.String("payment.product_type", string(ev.ProductType)),
	)

	now := s.now()

	// 1. 幂等检查
	rec, err := s.store.GetPayment(ctx, ev.Provider, ev.ProviderOrderID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}
	if rec != nil && rec.Status == PaymentCompleted {
		metrics.PaymentsAppliedTotal.WithLabelValues(string(rec.ProductType), ev.Provider, "duplicate").Inc()
		return replayResult(rec), nil
	}

	// 2. 观察态落库（重试时复用既有记录）
	if rec == nil {
		rec = &PaymentRecord{
			ID:              uuid.New().String(),
			UserID:          ev.UserID,
			Provider:        ev.Provider,
			ProviderOrderID: ev.ProviderOrderID,
			ProductType:     ev.ProductType,
			Amount:          ev.Amount,
			Currency:        ev.Currency,
			Status:          PaymentPending,
			PlanTier:        ev.Plan,
			Period:          ev.Period,
			AddonPackageID:  ev.AddonPackageID,
			CreatedAt:       now,
		}
		if err := s.store.SavePayment(ctx, rec); err != nil {
			return nil, fmt.Errorf("落支付记录失败: %w", err)
		}
	}

	// 3. 事件内容解析（目录校验在钱包锁外完成）
	var applyErr error
	var result *ApplyResult

	switch ev.ProductType {
	case ProductAddon:
		result, applyErr = s.applyAddonPayment(ctx, ev, rec, now)
	case ProductSubscription:
		result, applyErr = s.applySubscriptionPayment(ctx, ev, rec, now)
	default:
		applyErr = ErrInvalidEvent
	}

	if applyErr != nil {
		// 致命事件（目录外套餐等）：记失败留待人工对账，不静默丢弃
		if errors.Is(applyErr, ErrUnknownPlan) || errors.Is(applyErr, ErrUnknownAddonPackage) {
			rec.Status = PaymentFailed
			rec.FailReason = applyErr.Error()
			rec.UpdatedAt = now
			if saveErr := s.store.SavePayment(ctx, rec); saveErr != nil {
				logger.Error("标记支付失败态出错",
					zap.String("provider", ev.Provider),
					zap.String("order_id", ev.ProviderOrderID),
					zap.Error(saveErr),
				)
			}
			logger.Error("支付事件无法应用，留待人工对账",
				zap.String("provider", ev.Provider),
				zap.String("order_id", ev.ProviderOrderID),
				zap.Error(applyErr),
			)
		}
		metrics.PaymentsAppliedTotal.WithLabelValues(string(ev.ProductType), ev.Provider, "error").Inc()
		return nil, applyErr
	}

	metrics.PaymentsAppliedTotal.WithLabelValues(string(ev.ProductType), ev.Provider, "applied").Inc()
	if result.TransitionKind != "" {
		metrics.PlanTransitionsTotal.WithLabelValues(string(result.TransitionKind)).Inc()
	}
	return result, nil
}

// applyAddonPayment 加油包：只增永久余额，不碰档位/到期/月度配额
func (s *Service) applyAddonPayment(ctx context.Context, ev *PaymentEvent, rec *PaymentRecord, now time.Time) (*ApplyResult, error) {
	imageCredits := ev.ImageCredits
	videoAudioCredits := ev.VideoAudioCredits
	if ev.AddonPackageID != "" {
		pkg, err := s.catalog.Addon(ev.AddonPackageID)
		if err != nil {
			return nil, ErrUnknownAddonPackage
		}
		imageCredits = pkg.ImageCredits
		videoAudioCredits = pkg.VideoAudioCredits
	}

	res := &ApplyResult{
		ProductType:   ProductAddon,
		ChargedAmount: ev.Amount,
	}

	_, err := s.store.UpdateWallet(ctx, ev.UserID, func(w *Wallet, tx Txn) error {
		s.normalize(w, now)
		w.AddonImageBalance += imageCredits
		w.AddonVideoAudioBalance += videoAudioCredits

		rec.ImageCredits = imageCredits
		rec.VideoAudioCredits = videoAudioCredits
		rec.Status = PaymentCompleted
		rec.UpdatedAt = now
		return tx.SavePayment(rec)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("加油包已入账",
		zap.String("user_id", ev.UserID),
		zap.String("order_id", ev.ProviderOrderID),
		zap.Int("image_credits", imageCredits),
		zap.Int("video_audio_credits", videoAudioCredits),
	)
	return res, nil
}

// applySubscriptionPayment 订阅：走套餐切换引擎并追加订阅历史
func (s *Service) applySubscriptionPayment(ctx context.Context, ev *PaymentEvent, rec *PaymentRecord, now time.Time) (*ApplyResult, error) {
	if _, err := s.catalog.Get(ev.Plan); err != nil {
		return nil, ErrUnknownPlan
	}

	var result *ApplyResult
	_, err := s.store.UpdateWallet(ctx, ev.UserID, func(w *Wallet, tx Txn) error {
		s.normalize(w, now)

		res, terr := s.applySubscription(w, ev, now)
		if terr != nil {
			return terr
		}
		result = res

		sub := &SubscriptionRecord{
			ID:              uuid.New().String(),
			UserID:          ev.UserID,
			Plan:            res.EffectivePlan,
			Period:          res.EffectivePeriod,
			Status:          SubscriptionActive,
			Provider:        ev.Provider,
			ProviderOrderID: ev.ProviderOrderID,
			StartedAt:       now,
			CreatedAt:       now,
		}
		if res.TransitionKind == TransitionDowngradeQueued {
			sub.Status = SubscriptionPending
		}
		if res.ExpiresAt != nil {
			sub.ExpiresAt = *res.ExpiresAt
		}
		if err := tx.AppendSubscription(sub); err != nil {
			return err
		}

		rec.Status = PaymentCompleted
		rec.EffectivePlan = res.EffectivePlan
		rec.EffectivePeriod = res.EffectivePeriod
		rec.EffectiveExpiresAt = res.ExpiresAt
		rec.ChargedAmount = res.ChargedAmount
		rec.UpdatedAt = now
		return tx.SavePayment(rec)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("订阅支付已应用",
		zap.String("user_id", ev.UserID),
		zap.String("order_id", ev.ProviderOrderID),
		zap.String("kind", string(result.TransitionKind)),
		zap.String("plan", string(result.EffectivePlan)),
		zap.Float64("charged", result.ChargedAmount),
	)
	return result, nil
}

// replayResult 由已完成记录重建应用结果（幂等重放）
func replayResult(rec *PaymentRecord) *ApplyResult {
	return &ApplyResult{
		AlreadyProcessed: true,
		ProductType:      rec.ProductType,
		EffectivePlan:    rec.EffectivePlan,
		EffectivePeriod:  rec.EffectivePeriod,
		ExpiresAt:        rec.EffectiveExpiresAt,
		ChargedAmount:    rec.ChargedAmount,
	}
}

// ListSubscriptions 订阅历史（审计投影）
func (s *Service) ListSubscriptions(ctx context.Context, userID string, limit int) ([]SubscriptionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListSubscriptions(ctx, userID, limit)
}
