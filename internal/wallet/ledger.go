package wallet

import (
	"context"

	"backend/internal/metrics"

	"go.opentelemetry.io/otel/attribute"
)

// CheckQuota 判断一次多模态请求能否放行。
// 每个桶独立计算 available = 月度余量 + 加油包余额；
// 结果仅供提示，消费前会重新校验（不信任先前的 Check）。
func (s *Service) CheckQuota(ctx context.Context, userID string, imageCount, videoAudioCount int) (*CheckResult, error) {
	if imageCount < 0 || videoAudioCount < 0 {
		return nil, ErrInvalidCount
	}

	now := s.now()
	w, err := s.store.UpdateWallet(ctx, userID, func(w *Wallet, _ Txn) error {
		s.normalize(w, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &CheckResult{
		Allowed:                    true,
		MonthlyImageRemaining:      remaining(w.MonthlyImageLimit, w.MonthlyImageUsed),
		MonthlyVideoAudioRemaining: remaining(w.MonthlyVideoAudioLimit, w.MonthlyVideoAudioUsed),
		AddonImageBalance:          w.AddonImageBalance,
		AddonVideoAudioBalance:     w.AddonVideoAudioBalance,
	}

	// 0/0 请求永远放行；只有 advanced_multimodal 类调用会带非零数量
	if imageCount == 0 && videoAudioCount == 0 {
		return res, nil
	}

	if imageCount > res.MonthlyImageRemaining+res.AddonImageBalance {
		res.Allowed = false
		res.InsufficientBucket = BucketMonthlyImage
	} else if videoAudioCount > res.MonthlyVideoAudioRemaining+res.AddonVideoAudioBalance {
		res.Allowed = false
		res.InsufficientBucket = BucketMonthlyVideoAudio
	}

	if !res.Allowed {
		metrics.QuotaDenialsTotal.WithLabelValues(string(res.InsufficientBucket)).Inc()
	}
	return res, nil
}

// ConsumeQuota 重读钱包、重新校验后按 FEFO 扣减：
// 月度额度会在下个锚定日作废，先扣；加油包永久，后扣。
func (s *Service) ConsumeQuota(ctx context.Context, userID string, imageCount, videoAudioCount int) (*ConsumeResult, error) {
	if imageCount < 0 || videoAudioCount < 0 {
		return nil, ErrInvalidCount
	}

	ctx, span := startSpan(ctx, "wallet.ConsumeQuota")
	defer span.End()
	span.SetAttributes(
		attribute.Int("wallet.image_count", imageCount),
		attribute.Int("wallet.video_audio_count", videoAudioCount),
	)

	now := s.now()
	res := &ConsumeResult{Allowed: true}

	if imageCount == 0 && videoAudioCount == 0 {
		return res, nil
	}

	w, err := s.store.UpdateWallet(ctx, userID, func(w *Wallet, _ Txn) error {
		// 存储层冲突重试会重跑本函数，结果必须按提交的那次尝试重算
		*res = ConsumeResult{Allowed: true}
		s.normalize(w, now)

		imgMonthly := remaining(w.MonthlyImageLimit, w.MonthlyImageUsed)
		vaMonthly := remaining(w.MonthlyVideoAudioLimit, w.MonthlyVideoAudioUsed)

		imgFromMonthly := min(imageCount, imgMonthly)
		imgFromAddon := imageCount - imgFromMonthly
		if imgFromAddon > w.AddonImageBalance {
			res.Allowed = false
			res.InsufficientBucket = BucketMonthlyImage
			return nil
		}

		vaFromMonthly := min(videoAudioCount, vaMonthly)
		vaFromAddon := videoAudioCount - vaFromMonthly
		if vaFromAddon > w.AddonVideoAudioBalance {
			res.Allowed = false
			res.InsufficientBucket = BucketMonthlyVideoAudio
			return nil
		}

		w.MonthlyImageUsed += imgFromMonthly
		w.AddonImageBalance -= imgFromAddon
		w.MonthlyVideoAudioUsed += vaFromMonthly
		w.AddonVideoAudioBalance -= vaFromAddon

		res.ImageFromMonthly = imgFromMonthly
		res.ImageFromAddon = imgFromAddon
		res.VideoAudioFromMonthly = vaFromMonthly
		res.VideoAudioFromAddon = vaFromAddon
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Allowed {
		metrics.QuotaConsumedTotal.WithLabelValues(string(BucketMonthlyImage)).Add(float64(imageCount))
		metrics.QuotaConsumedTotal.WithLabelValues(string(BucketMonthlyVideoAudio)).Add(float64(videoAudioCount))
		res.DailyRemaining = remaining(w.DailyExternalLimit, w.DailyExternalUsed)
	} else {
		metrics.QuotaDenialsTotal.WithLabelValues(string(res.InsufficientBucket)).Inc()
	}
	return res, nil
}

// ConsumeDailyExternal 扣减每日外部模型调用额度。
// 通用模型档不经过这里，调用方只在外部模型路径上计数。
func (s *Service) ConsumeDailyExternal(ctx context.Context, userID string, count int) (*ConsumeResult, error) {
	if count <= 0 {
		count = 1
	}

	now := s.now()
	res := &ConsumeResult{Allowed: true}

	w, err := s.store.UpdateWallet(ctx, userID, func(w *Wallet, _ Txn) error {
		*res = ConsumeResult{Allowed: true}
		s.normalize(w, now)

		if count > remaining(w.DailyExternalLimit, w.DailyExternalUsed) {
			res.Allowed = false
			res.InsufficientBucket = BucketDaily
			return nil
		}
		w.DailyExternalUsed += count
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Allowed {
		res.DailyRemaining = remaining(w.DailyExternalLimit, w.DailyExternalUsed)
		metrics.QuotaConsumedTotal.WithLabelValues(string(BucketDaily)).Add(float64(count))
	} else {
		metrics.QuotaDenialsTotal.WithLabelValues(string(BucketDaily)).Inc()
	}
	return res, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
