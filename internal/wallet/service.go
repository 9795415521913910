package wallet

import (
	"context"
	"time"

	"backend/internal/plan"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("backend/internal/wallet")

// Service 订阅与配额钱包引擎。
// 所有读写都经由注入的 Store 端口，引擎自身不持有任何全局状态。
type Service struct {
	store   Store
	catalog *plan.Catalog

	// 可注入时钟，测试用；默认 time.Now
	now func() time.Time
}

// NewService 创建钱包引擎
func NewService(store Store, catalog *plan.Catalog) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		now:     time.Now,
	}
}

// NewFreeWallet 免费档钱包播种模板，供 Store 适配器在首次访问时使用
func NewFreeWallet(catalog *plan.Catalog) SeedFunc {
	return func(userID string, now time.Time) *Wallet {
		free := catalog.Free()
		return &Wallet{
			UserID:                 userID,
			Plan:                   plan.TierFree,
			DailyExternalLimit:     free.DailyExternalLimit,
			DailyResetAt:           now,
			MonthlyImageLimit:      free.MonthlyImageLimit,
			MonthlyVideoAudioLimit: free.MonthlyVideoAudioLimit,
			MonthlyResetAt:         now,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
	}
}

// GetEntitlement 权益快照。读路径同样走 UpdateWallet，
// 使惰性重置/降级弹出被持久化，后续读不再重复计算。
func (s *Service) GetEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	now := s.now()
	w, err := s.store.UpdateWallet(ctx, userID, func(w *Wallet, _ Txn) error {
		s.normalize(w, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.entitlementOf(w, now), nil
}

// Touch 触发一次惰性归一化并落库（巡检 worker 使用）
func (s *Service) Touch(ctx context.Context, userID string) error {
	now := s.now()
	_, err := s.store.UpdateWallet(ctx, userID, func(w *Wallet, _ Txn) error {
		s.normalize(w, now)
		return nil
	})
	return err
}

// entitlementOf 由已归一化的钱包构建快照
func (s *Service) entitlementOf(w *Wallet, now time.Time) *Entitlement {
	tier := effectiveTier(w, now)
	ent := &Entitlement{
		UserID:                     w.UserID,
		Plan:                       tier,
		PlanActive:                 tier != plan.TierFree,
		DailyRemaining:             remaining(w.DailyExternalLimit, w.DailyExternalUsed),
		MonthlyImageRemaining:      remaining(w.MonthlyImageLimit, w.MonthlyImageUsed),
		MonthlyVideoAudioRemaining: remaining(w.MonthlyVideoAudioLimit, w.MonthlyVideoAudioUsed),
		AddonImageBalance:          w.AddonImageBalance,
		AddonVideoAudioBalance:     w.AddonVideoAudioBalance,
	}
	if tier != plan.TierFree {
		expires := w.PlanExpiresAt
		ent.PlanExpiresAt = &expires
	}
	if len(w.PendingDowngrades) > 0 {
		ent.PendingDowngrades = append([]PendingDowngrade(nil), w.PendingDowngrades...)
	}
	return ent
}

// remaining 余量，用量可能瞬时超限，对外不出现负数
func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

// startSpan 内部埋点辅助
func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
