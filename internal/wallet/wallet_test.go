package wallet

import (
	"context"
	"os"
	"testing"
	"time"

	"backend/internal/logger"
	"backend/internal/plan"

	"github.com/stretchr/testify/require"
)

// 测试基准时刻：2025-03-15 10:00 UTC（UTC+8 为 18:00，锚定日 15）
var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	catalog, err := plan.NewCatalog(
		[]plan.Plan{
			{Tier: plan.TierFree, Name: "免费版", MonthlyImageLimit: 3, DailyExternalLimit: 5},
			{Tier: plan.TierBasic, Name: "基础版", PriceMonthly: 9.98, PriceYearly: 99.8,
				MonthlyImageLimit: 50, MonthlyVideoAudioLimit: 10, DailyExternalLimit: 50},
			{Tier: plan.TierPro, Name: "专业版", PriceMonthly: 39.98, PriceYearly: 399.8,
				MonthlyImageLimit: 200, MonthlyVideoAudioLimit: 50, DailyExternalLimit: 200},
			// 刻意低价的最高档，覆盖抵扣价值超过目标周期价的折算分支
			{Tier: plan.TierEnterprise, Name: "旗舰版", PriceMonthly: 20, PriceYearly: 199.8,
				MonthlyImageLimit: 800, MonthlyVideoAudioLimit: 200, DailyExternalLimit: 1000},
		},
		[]plan.AddonPackage{
			{ID: "addon_image_100", Name: "图像包", ImageCredits: 100, Price: 6.98},
			{ID: "addon_mix", Name: "混合包", ImageCredits: 100, VideoAudioCredits: 50, Price: 14.98},
		},
	)
	require.NoError(t, err)
	return catalog
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	catalog := newTestCatalog(t)
	store := NewMemoryStore(NewFreeWallet(catalog))
	svc := NewService(store, catalog)
	svc.now = func() time.Time { return testNow }
	return svc, store
}

// setWallet 直接写入一个钱包状态
func setWallet(t *testing.T, store *MemoryStore, w *Wallet) {
	t.Helper()
	_, err := store.UpdateWallet(context.Background(), w.UserID, func(cur *Wallet, _ Txn) error {
		*cur = *w
		return nil
	})
	require.NoError(t, err)
}

// activeWallet 一个处于 now 时刻、无待办重置的付费钱包骨架
func activeWallet(userID string, tier plan.Tier, now time.Time) *Wallet {
	return &Wallet{
		UserID:           userID,
		Plan:             tier,
		PlanStartedAt:    now.AddDate(0, 0, -10),
		PlanExpiresAt:    now.AddDate(0, 0, 20),
		BillingAnchorDay: now.Day(),
		DailyResetAt:     now,
		MonthlyResetAt:   now,
	}
}
