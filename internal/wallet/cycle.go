package wallet

import (
	"time"

	"backend/internal/plan"
)

// ResetZone 每日额度重置时区（UTC+8 自然日，与锚定日无关）
var ResetZone = time.FixedZone("UTC+8", 8*60*60)

// daysInMonth 某年某月的天数
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddCalendarMonths 以锚定日投影的加月运算。
// 目标月天数不足时 clamp 到月末，但 clamp 只是本次投影：
// 存储的 anchorDay 永远不变，后续落在长月时仍能回到 31 号。
func AddCalendarMonths(from time.Time, months int, anchorDay int) time.Time {
	if anchorDay < 1 {
		anchorDay = from.Day()
	}
	year, month, _ := from.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, from.Location())

	day := anchorDay
	if dim := daysInMonth(first.Year(), first.Month()); day > dim {
		day = dim
	}

	hour, min, sec := from.Clock()
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, from.Nanosecond(), from.Location())
}

// startOfResetDay now 所在 UTC+8 自然日的零点
func startOfResetDay(t time.Time) time.Time {
	local := t.In(ResetZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ResetZone)
}

// DailyResetBoundary 下一个 UTC+8 零点
func DailyResetBoundary(now time.Time) time.Time {
	return startOfResetDay(now).AddDate(0, 0, 1)
}

// DailyResetDue 自上次重置以来是否跨过了 UTC+8 日界
func DailyResetDue(w *Wallet, now time.Time) bool {
	if w.DailyResetAt.IsZero() {
		return true
	}
	return !now.Before(DailyResetBoundary(w.DailyResetAt))
}

// MonthlyResetDue now 是否已越过自上次重置（或套餐开始）后的下一个锚定日
func MonthlyResetDue(w *Wallet, now time.Time) bool {
	base := w.MonthlyResetAt
	if base.IsZero() {
		base = w.PlanStartedAt
	}
	if base.IsZero() {
		return false
	}
	return !now.Before(AddCalendarMonths(base, 1, w.BillingAnchorDay))
}

// effectiveTier 当前时刻的有效档位；失效由 PlanExpiresAt 推导，不存标志
func effectiveTier(w *Wallet, now time.Time) plan.Tier {
	if w.Plan == plan.TierFree || w.Plan == "" {
		return plan.TierFree
	}
	if now.Before(w.PlanExpiresAt) {
		return w.Plan
	}
	return plan.TierFree
}

// normalize 惰性状态转换：弹出到期降级、补做月度/每日重置。
// 幂等——以单调递增的 last-reset 时间戳为守卫，可被调用零次或多次。
func (s *Service) normalize(w *Wallet, now time.Time) {
	// 1. 降级队列：队首生效时间已到则弹出，按一次全新购买应用
	for len(w.PendingDowngrades) > 0 && !now.Before(w.PendingDowngrades[0].EffectiveAt) {
		entry := w.PendingDowngrades[0]
		w.PendingDowngrades = w.PendingDowngrades[1:]
		s.activateDowngrade(w, entry)
	}

	// 2. 月度配额：可能一次补做多个周期
	for MonthlyResetDue(w, now) {
		base := w.MonthlyResetAt
		if base.IsZero() {
			base = w.PlanStartedAt
		}
		boundary := AddCalendarMonths(base, 1, w.BillingAnchorDay)
		s.resetMonthly(w, boundary)
	}

	// 3. 每日额度：跨过 UTC+8 日界即归零，仅重置不结转
	if DailyResetDue(w, now) {
		w.DailyExternalUsed = 0
		w.DailyResetAt = now
	}

	// 额度上限跟随有效档位（失效后立即回落到免费档语义）
	s.syncLimits(w, now)
}

// activateDowngrade 把到期的降级条目当作其生效时刻的一次全新购买应用
func (s *Service) activateDowngrade(w *Wallet, entry PendingDowngrade) {
	target, err := s.catalog.Get(entry.TargetPlan)
	if err != nil {
		// 目录外档位：按免费档兜底，队列继续
		target = s.catalog.Free()
	}

	w.Plan = target.Tier
	w.PlanStartedAt = entry.EffectiveAt
	w.PlanExpiresAt = entry.ExpiresAt
	w.BillingAnchorDay = entry.EffectiveAt.Day()
	w.MonthlyImageUsed = 0
	w.MonthlyImageLimit = target.MonthlyImageLimit
	w.MonthlyVideoAudioUsed = 0
	w.MonthlyVideoAudioLimit = target.MonthlyVideoAudioLimit
	w.DailyExternalLimit = target.DailyExternalLimit
	w.MonthlyResetAt = entry.EffectiveAt
}

// resetMonthly 在 boundary 处做一次锚定日重置
func (s *Service) resetMonthly(w *Wallet, boundary time.Time) {
	tier := effectiveTier(w, boundary)
	p, err := s.catalog.Get(tier)
	if err != nil {
		p = s.catalog.Free()
	}

	w.MonthlyImageUsed = 0
	w.MonthlyVideoAudioUsed = 0
	w.MonthlyImageLimit = p.MonthlyImageLimit
	w.MonthlyVideoAudioLimit = p.MonthlyVideoAudioLimit
	w.MonthlyResetAt = boundary
}

// syncLimits 上限对齐到有效档位（处理已失效但尚未跨锚定日的钱包）
func (s *Service) syncLimits(w *Wallet, now time.Time) {
	p, err := s.catalog.Get(effectiveTier(w, now))
	if err != nil {
		p = s.catalog.Free()
	}
	w.MonthlyImageLimit = p.MonthlyImageLimit
	w.MonthlyVideoAudioLimit = p.MonthlyVideoAudioLimit
	w.DailyExternalLimit = p.DailyExternalLimit
}
