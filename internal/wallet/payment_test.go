package wallet

import (
	"context"
	"testing"

	"backend/internal/plan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addonEvent(userID, orderID, packageID string) *PaymentEvent {
	return &PaymentEvent{
		UserID:          userID,
		Provider:        "alipay",
		ProviderOrderID: orderID,
		ProductType:     ProductAddon,
		AddonPackageID:  packageID,
		Amount:          6.98,
		Currency:        "USD",
	}
}

func TestApplyAddonPayment(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.ApplyPayment(context.Background(), addonEvent("u1", "ord-a1", "addon_mix"))
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, ProductAddon, res.ProductType)

	w, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, w.AddonImageBalance)
	assert.Equal(t, 50, w.AddonVideoAudioBalance)
	// 加油包不影响档位
	assert.Equal(t, plan.TierFree, w.Plan)

	rec, err := store.GetPayment(context.Background(), "alipay", "ord-a1")
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, rec.Status)
	assert.Equal(t, 100, rec.ImageCredits)
}

func TestApplyAddonPaymentExplicitCredits(t *testing.T) {
	svc, store := newTestService(t)

	ev := addonEvent("u1", "ord-a2", "")
	ev.ImageCredits = 30
	_, err := svc.ApplyPayment(context.Background(), ev)
	require.NoError(t, err)

	w, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, w.AddonImageBalance)
}

func TestApplyPaymentIdempotent(t *testing.T) {
	svc, store := newTestService(t)

	first, err := svc.ApplyPayment(context.Background(), addonEvent("u1", "ord-dup", "addon_image_100"))
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)

	// webhook 重投：同一幂等键不二次记账
	second, err := svc.ApplyPayment(context.Background(), addonEvent("u1", "ord-dup", "addon_image_100"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)

	w, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, w.AddonImageBalance)
}

func TestApplySubscriptionIdempotentReplay(t *testing.T) {
	svc, store := newTestService(t)

	first, err := svc.ApplyPayment(context.Background(), subscriptionEvent("u1", "ord-s1", plan.TierBasic, plan.PeriodMonthly))
	require.NoError(t, err)

	second, err := svc.ApplyPayment(context.Background(), subscriptionEvent("u1", "ord-s1", plan.TierBasic, plan.PeriodMonthly))
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.EffectivePlan, second.EffectivePlan)
	require.NotNil(t, second.ExpiresAt)
	assert.Equal(t, *first.ExpiresAt, *second.ExpiresAt)

	// 重放不会把续费多算一次
	w, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, *first.ExpiresAt, w.PlanExpiresAt)
}

func TestApplyPaymentUnknownPlan(t *testing.T) {
	svc, store := newTestService(t)

	ev := subscriptionEvent("u1", "ord-bad", plan.Tier("gold"), plan.PeriodMonthly)
	_, err := svc.ApplyPayment(context.Background(), ev)
	assert.ErrorIs(t, err, ErrUnknownPlan)

	// 记录落为 failed，留待人工对账，不静默丢弃
	rec, recErr := store.GetPayment(context.Background(), "stripe", "ord-bad")
	require.NoError(t, recErr)
	assert.Equal(t, PaymentFailed, rec.Status)
	assert.NotEmpty(t, rec.FailReason)
}

func TestApplyPaymentUnknownAddonPackage(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.ApplyPayment(context.Background(), addonEvent("u1", "ord-bad2", "no_such_package"))
	assert.ErrorIs(t, err, ErrUnknownAddonPackage)

	rec, recErr := store.GetPayment(context.Background(), "alipay", "ord-bad2")
	require.NoError(t, recErr)
	assert.Equal(t, PaymentFailed, rec.Status)

	// 钱包未被触碰
	_, werr := store.GetWallet(context.Background(), "u1")
	assert.ErrorIs(t, werr, ErrWalletNotFound)
}

func TestApplyPaymentValidation(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []struct {
		name string
		ev   *PaymentEvent
	}{
		{"缺用户", &PaymentEvent{Provider: "stripe", ProviderOrderID: "o", ProductType: ProductSubscription, Plan: plan.TierBasic}},
		{"缺订单号", &PaymentEvent{UserID: "u", Provider: "stripe", ProductType: ProductSubscription, Plan: plan.TierBasic}},
		{"订阅缺套餐", &PaymentEvent{UserID: "u", Provider: "stripe", ProviderOrderID: "o", ProductType: ProductSubscription}},
		{"加油包空内容", &PaymentEvent{UserID: "u", Provider: "stripe", ProviderOrderID: "o", ProductType: ProductAddon}},
		{"未知产品类型", &PaymentEvent{UserID: "u", Provider: "stripe", ProviderOrderID: "o", ProductType: "GIFT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ApplyPayment(context.Background(), tc.ev)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestSubscriptionHistory(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ApplyPayment(context.Background(), subscriptionEvent("u1", "ord-h1", plan.TierBasic, plan.PeriodMonthly))
	require.NoError(t, err)
	_, err = svc.ApplyPayment(context.Background(), subscriptionEvent("u1", "ord-h2", plan.TierPro, plan.PeriodMonthly))
	require.NoError(t, err)

	subs, err := svc.ListSubscriptions(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, sub := range subs {
		assert.Equal(t, "u1", sub.UserID)
		assert.Equal(t, SubscriptionActive, sub.Status)
	}
}

func TestSubscriptionHistoryPendingForDowngrade(t *testing.T) {
	svc, store := newTestService(t)

	w := activeWallet("u1", plan.TierPro, testNow)
	setWallet(t, store, w)

	_, err := svc.ApplyPayment(context.Background(), subscriptionEvent("u1", "ord-h3", plan.TierBasic, plan.PeriodMonthly))
	require.NoError(t, err)

	subs, err := svc.ListSubscriptions(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, SubscriptionPending, subs[0].Status)
}
