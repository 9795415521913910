package wallet

import (
	"context"
	"testing"

	"backend/internal/plan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckQuota(t *testing.T) {
	t.Run("零请求永远放行", func(t *testing.T) {
		svc, _ := newTestService(t)
		res, err := svc.CheckQuota(context.Background(), "u1", 0, 0)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("余量充足", func(t *testing.T) {
		svc, store := newTestService(t)
		setWallet(t, store, activeWallet("u1", plan.TierBasic, testNow))

		res, err := svc.CheckQuota(context.Background(), "u1", 10, 5)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 50, res.MonthlyImageRemaining)
		assert.Equal(t, 10, res.MonthlyVideoAudioRemaining)
	})

	t.Run("月度余量与加油包合并计算", func(t *testing.T) {
		svc, store := newTestService(t)
		w := activeWallet("u1", plan.TierBasic, testNow)
		w.MonthlyImageUsed = 47 // 月度余 3
		w.AddonImageBalance = 10
		setWallet(t, store, w)

		res, err := svc.CheckQuota(context.Background(), "u1", 13, 0)
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = svc.CheckQuota(context.Background(), "u1", 14, 0)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, BucketMonthlyImage, res.InsufficientBucket)
	})

	t.Run("检查不扣减", func(t *testing.T) {
		svc, store := newTestService(t)
		setWallet(t, store, activeWallet("u1", plan.TierBasic, testNow))

		_, err := svc.CheckQuota(context.Background(), "u1", 10, 5)
		require.NoError(t, err)

		w, err := store.GetWallet(context.Background(), "u1")
		require.NoError(t, err)
		assert.Zero(t, w.MonthlyImageUsed)
		assert.Zero(t, w.MonthlyVideoAudioUsed)
	})

	t.Run("负数数量报错", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.CheckQuota(context.Background(), "u1", -1, 0)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})
}

func TestConsumeQuotaFEFO(t *testing.T) {
	svc, store := newTestService(t)

	// 月度余 3、加油包 10：扣 5 应当先月度后加油包
	w := activeWallet("u1", plan.TierBasic, testNow)
	w.MonthlyImageUsed = 47
	w.AddonImageBalance = 10
	setWallet(t, store, w)

	res, err := svc.ConsumeQuota(context.Background(), "u1", 5, 0)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, 3, res.ImageFromMonthly)
	assert.Equal(t, 2, res.ImageFromAddon)

	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, stored.MonthlyImageUsed)
	assert.Equal(t, 8, stored.AddonImageBalance)
}

func TestConsumeQuotaInsufficientNoMutation(t *testing.T) {
	svc, store := newTestService(t)

	w := activeWallet("u1", plan.TierBasic, testNow)
	w.MonthlyImageUsed = 47
	w.AddonImageBalance = 1
	setWallet(t, store, w)

	res, err := svc.ConsumeQuota(context.Background(), "u1", 5, 0)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, BucketMonthlyImage, res.InsufficientBucket)

	// 拒绝是全量拒绝：任何桶都不能被部分扣减
	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 47, stored.MonthlyImageUsed)
	assert.Equal(t, 1, stored.AddonImageBalance)
}

func TestConsumeQuotaRejectsSecondBucketAtomically(t *testing.T) {
	svc, store := newTestService(t)

	// 图像桶够、音视频桶不够：两桶都不能动
	w := activeWallet("u1", plan.TierBasic, testNow)
	w.MonthlyVideoAudioUsed = 10
	setWallet(t, store, w)

	res, err := svc.ConsumeQuota(context.Background(), "u1", 2, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, BucketMonthlyVideoAudio, res.InsufficientBucket)

	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, stored.MonthlyImageUsed)
}

func TestConsumeQuotaZeroIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.ConsumeQuota(context.Background(), "u1", 0, 0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestConsumeDailyExternal(t *testing.T) {
	t.Run("缺省扣1", func(t *testing.T) {
		svc, store := newTestService(t)
		setWallet(t, store, activeWallet("u1", plan.TierBasic, testNow))

		res, err := svc.ConsumeDailyExternal(context.Background(), "u1", 0)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 49, res.DailyRemaining)
	})

	t.Run("超限拒绝", func(t *testing.T) {
		svc, store := newTestService(t)
		w := activeWallet("u1", plan.TierBasic, testNow)
		w.DailyExternalUsed = 50
		setWallet(t, store, w)

		res, err := svc.ConsumeDailyExternal(context.Background(), "u1", 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, BucketDaily, res.InsufficientBucket)
	})

	t.Run("每日桶与月度桶相互独立", func(t *testing.T) {
		svc, store := newTestService(t)
		w := activeWallet("u1", plan.TierBasic, testNow)
		w.MonthlyImageUsed = 50
		w.MonthlyVideoAudioUsed = 10
		setWallet(t, store, w)

		res, err := svc.ConsumeDailyExternal(context.Background(), "u1", 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})
}

// retriedStore 先把变更函数跑在一份过期读数上再委托真实存储提交，
// 模拟乐观并发冲突后被丢弃的首次尝试
type retriedStore struct {
	Store
	stale *Wallet
}

type droppedTxn struct{}

func (droppedTxn) SavePayment(*PaymentRecord) error             { return nil }
func (droppedTxn) AppendSubscription(*SubscriptionRecord) error { return nil }

func (s *retriedStore) UpdateWallet(ctx context.Context, userID string, fn MutateFunc) (*Wallet, error) {
	dropped := *s.stale
	_ = fn(&dropped, droppedTxn{})
	return s.Store.UpdateWallet(ctx, userID, fn)
}

func TestConsumeQuotaResultFollowsCommittedAttempt(t *testing.T) {
	svc, store := newTestService(t)

	// 真实钱包：月度用尽但加油包有余额，扣减应当成功
	w := activeWallet("u1", plan.TierBasic, testNow)
	w.MonthlyImageUsed = 50
	w.AddonImageBalance = 10
	setWallet(t, store, w)

	// 被丢弃的首次尝试读到的是加油包也为空的过期读数
	stale := *w
	stale.AddonImageBalance = 0
	svc.store = &retriedStore{Store: store, stale: &stale}

	res, err := svc.ConsumeQuota(context.Background(), "u1", 1, 0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.InsufficientBucket)
	assert.Equal(t, 1, res.ImageFromAddon)

	// 返回结果与提交的扣减一致
	stored, err := store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, stored.AddonImageBalance)
}

func TestConsumeDailyResultFollowsCommittedAttempt(t *testing.T) {
	svc, store := newTestService(t)

	setWallet(t, store, activeWallet("u1", plan.TierBasic, testNow))

	stale := *activeWallet("u1", plan.TierBasic, testNow)
	stale.DailyExternalUsed = 50
	svc.store = &retriedStore{Store: store, stale: &stale}

	res, err := svc.ConsumeDailyExternal(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.InsufficientBucket)
	assert.Equal(t, 49, res.DailyRemaining)
}

func TestConsumeSeedsFreeWallet(t *testing.T) {
	svc, _ := newTestService(t)

	// 首次访问即播种免费档：3 张图的月度额度可用
	res, err := svc.ConsumeQuota(context.Background(), "newcomer", 3, 0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.ImageFromMonthly)

	res, err = svc.ConsumeQuota(context.Background(), "newcomer", 1, 0)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
