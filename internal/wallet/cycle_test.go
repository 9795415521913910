package wallet

import (
	"context"
	"testing"
	"time"

	"backend/internal/plan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCalendarMonths(t *testing.T) {
	t.Run("短月clamp到月末", func(t *testing.T) {
		from := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
		got := AddCalendarMonths(from, 1, 31)
		assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("锚定日不被clamp侵蚀", func(t *testing.T) {
		// 2月底出发，锚定日仍是 31：下个长月回到 31 号
		from := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
		got := AddCalendarMonths(from, 1, 31)
		assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("闰年二月", func(t *testing.T) {
		from := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
		got := AddCalendarMonths(from, 1, 31)
		assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("30天月", func(t *testing.T) {
		from := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
		got := AddCalendarMonths(from, 1, 31)
		assert.Equal(t, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("年付跨12个月", func(t *testing.T) {
		from := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
		got := AddCalendarMonths(from, 12, 15)
		assert.Equal(t, time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), got)
	})

	t.Run("缺省锚定日取出发日", func(t *testing.T) {
		from := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
		got := AddCalendarMonths(from, 1, 0)
		assert.Equal(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), got)
	})
}

func TestDailyResetBoundary(t *testing.T) {
	// 23:59 UTC+8 的下一个重置点是次日零点，即 16:00 UTC
	at := time.Date(2025, 3, 15, 15, 59, 0, 0, time.UTC)
	got := DailyResetBoundary(at)
	assert.True(t, got.Equal(time.Date(2025, 3, 16, 0, 0, 0, 0, ResetZone)))

	// 边界与锚定日无关，只看 UTC+8 自然日
	early := time.Date(2025, 3, 15, 17, 0, 0, 0, time.UTC) // 已是 UTC+8 的 3月16日
	assert.True(t, DailyResetBoundary(early).Equal(time.Date(2025, 3, 17, 0, 0, 0, 0, ResetZone)))
}

func TestDailyResetDue(t *testing.T) {
	t.Run("UTC同日但跨UTC8日界", func(t *testing.T) {
		// 15:59 UTC = 23:59 UTC+8；16:01 UTC = 次日 00:01 UTC+8
		w := &Wallet{DailyResetAt: time.Date(2025, 3, 15, 15, 59, 0, 0, time.UTC)}
		now := time.Date(2025, 3, 15, 16, 1, 0, 0, time.UTC)
		assert.True(t, DailyResetDue(w, now))
	})

	t.Run("同一UTC8自然日不重置", func(t *testing.T) {
		w := &Wallet{DailyResetAt: time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC)}
		now := time.Date(2025, 3, 15, 15, 0, 0, 0, time.UTC)
		assert.False(t, DailyResetDue(w, now))
	})

	t.Run("零值视为到期", func(t *testing.T) {
		assert.True(t, DailyResetDue(&Wallet{}, testNow))
	})
}

func TestMonthlyResetDue(t *testing.T) {
	w := &Wallet{
		BillingAnchorDay: 15,
		MonthlyResetAt:   time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC),
	}
	assert.False(t, MonthlyResetDue(w, time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)))
	assert.True(t, MonthlyResetDue(w, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeDailyReset(t *testing.T) {
	svc, store := newTestService(t)

	w := activeWallet("u1", plan.TierBasic, testNow)
	w.DailyExternalUsed = 42
	w.MonthlyImageUsed = 17
	w.MonthlyVideoAudioUsed = 4
	w.AddonImageBalance = 9
	w.DailyResetAt = testNow.AddDate(0, 0, -1)
	setWallet(t, store, w)

	ent, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, ent.DailyRemaining)

	// 日重置只动每日桶：月度用量与加油包余额原样保留
	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, stored.DailyExternalUsed)
	assert.Equal(t, 17, stored.MonthlyImageUsed)
	assert.Equal(t, 4, stored.MonthlyVideoAudioUsed)
	assert.Equal(t, 9, stored.AddonImageBalance)
}

func TestNormalizeMonthlyCatchUp(t *testing.T) {
	svc, store := newTestService(t)

	// 三个月没被访问过的钱包：一次补做所有漏掉的锚定日重置
	w := activeWallet("u1", plan.TierBasic, testNow)
	w.PlanExpiresAt = testNow.AddDate(1, 0, 0)
	w.MonthlyResetAt = time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	w.MonthlyImageUsed = 48
	setWallet(t, store, w)

	ent, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, ent.MonthlyImageRemaining)

	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	// 追到最近一个锚定日（3月15日零点），下一个边界在未来
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), stored.MonthlyResetAt)
	assert.Zero(t, stored.MonthlyImageUsed)
}

func TestNormalizeLapseToFree(t *testing.T) {
	svc, store := newTestService(t)

	// 套餐已过期：权益立即回落免费档，档位字段不靠存储标志
	w := activeWallet("u1", plan.TierPro, testNow)
	w.PlanExpiresAt = testNow.AddDate(0, 0, -1)
	setWallet(t, store, w)

	ent, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, ent.Plan)
	assert.False(t, ent.PlanActive)
	assert.Nil(t, ent.PlanExpiresAt)
	assert.Equal(t, 5, ent.DailyRemaining)
	assert.Equal(t, 3, ent.MonthlyImageRemaining)
}

func TestNormalizeLapsePreservesAddon(t *testing.T) {
	svc, store := newTestService(t)

	w := activeWallet("u1", plan.TierPro, testNow)
	w.PlanExpiresAt = testNow.AddDate(0, 0, -1)
	w.AddonImageBalance = 77
	setWallet(t, store, w)

	ent, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 77, ent.AddonImageBalance)
}

func TestNormalizePopsDueDowngrade(t *testing.T) {
	svc, store := newTestService(t)

	// 队首降级已到生效时间：按一次全新购买应用，锚定日重置为生效日
	effective := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	w := activeWallet("u1", plan.TierPro, testNow)
	w.PlanExpiresAt = effective
	w.MonthlyResetAt = testNow.AddDate(0, 0, -6)
	w.PendingDowngrades = DowngradeQueue{{
		TargetPlan:   plan.TierBasic,
		PeriodMonths: 1,
		PurchasedAt:  testNow.AddDate(0, 0, -20),
		EffectiveAt:  effective,
		ExpiresAt:    time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
	}}
	setWallet(t, store, w)

	ent, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierBasic, ent.Plan)
	assert.True(t, ent.PlanActive)
	assert.Empty(t, ent.PendingDowngrades)
	assert.Equal(t, 50, ent.MonthlyImageRemaining)

	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, stored.BillingAnchorDay)
	assert.Equal(t, effective, stored.PlanStartedAt)
	assert.Equal(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), stored.PlanExpiresAt)
}

func TestNormalizeIdempotent(t *testing.T) {
	svc, store := newTestService(t)

	w := activeWallet("u1", plan.TierBasic, testNow)
	w.MonthlyImageUsed = 7
	w.DailyExternalUsed = 3
	setWallet(t, store, w)

	first, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	second, err := svc.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
