package wallet

import (
	"math"
	"sort"
	"time"

	"backend/internal/plan"
)

// MinimumCharge 抵扣足额时收取的最小计价单位
const MinimumCharge = 0.01

// applySubscription 把一笔已确认的订阅购买应用到钱包，
// 按 rank 判定续费/升级/降级/全新购买并计算新的权益状态。
// 调用方保证 w 已经过 normalize。
func (s *Service) applySubscription(w *Wallet, ev *PaymentEvent, now time.Time) (*ApplyResult, error) {
	target, err := s.catalog.Get(ev.Plan)
	if err != nil {
		return nil, ErrUnknownPlan
	}

	period := ev.Period
	if period == "" {
		period = plan.PeriodMonthly
	}
	months := period.Months()

	currentTier := effectiveTier(w, now)
	active := currentTier != plan.TierFree

	res := &ApplyResult{
		ProductType:     ProductSubscription,
		EffectivePlan:   target.Tier,
		EffectivePeriod: period,
	}

	switch {
	case !active:
		// 全新购买或过期后回购：全价、新锚定日、配额重置
		s.startTerm(w, target, now, months)
		res.TransitionKind = TransitionPurchase
		res.ChargedAmount = target.PeriodPrice(period)

	case target.Tier.Rank() == currentTier.Rank():
		// 同档续费：顺延到期日，月度配额不重置，锚定日不变
		w.PlanExpiresAt = AddCalendarMonths(w.PlanExpiresAt, months, w.BillingAnchorDay)
		res.TransitionKind = TransitionRenewal
		res.ChargedAmount = target.PeriodPrice(period)

	case target.Tier.Rank() > currentTier.Rank():
		// 升级：立即生效，未用完的当前套餐价值按日折算抵扣
		current, cerr := s.catalog.Get(currentTier)
		if cerr != nil {
			return nil, ErrUnknownPlan
		}
		charge, grantedDays := s.prorate(w, current, target, period, now)
		s.startTerm(w, target, now, months)
		if grantedDays > 0 {
			w.PlanExpiresAt = w.PlanExpiresAt.AddDate(0, 0, grantedDays)
		}
		res.TransitionKind = TransitionUpgrade
		res.ChargedAmount = charge
		res.GrantedDays = grantedDays

	default:
		// 降级：不立即生效，入队等待当前（更高）档位到期
		entry := PendingDowngrade{
			TargetPlan:   target.Tier,
			PeriodMonths: months,
			PurchasedAt:  now,
		}
		w.PendingDowngrades = append(w.PendingDowngrades, entry)
		s.rechainDowngrades(w)
		res.TransitionKind = TransitionDowngradeQueued
		res.ChargedAmount = target.PeriodPrice(period)

		// 回填重链后的实际档期
		for _, e := range w.PendingDowngrades {
			if e.TargetPlan == entry.TargetPlan && e.PurchasedAt.Equal(entry.PurchasedAt) {
				expires := e.ExpiresAt
				res.ExpiresAt = &expires
				break
			}
		}
		return res, nil
	}

	// 续费/升级/新购都改变了当前到期日，队列整体重新链接
	s.rechainDowngrades(w)

	expires := w.PlanExpiresAt
	res.ExpiresAt = &expires
	return res, nil
}

// startTerm 以 now 为起点开启一个新档期：新锚定日、配额强制重置
func (s *Service) startTerm(w *Wallet, target *plan.Plan, now time.Time, months int) {
	w.Plan = target.Tier
	w.PlanStartedAt = now
	w.BillingAnchorDay = now.Day()
	w.PlanExpiresAt = AddCalendarMonths(now, months, w.BillingAnchorDay)

	// forceReset：月度桶按新套餐清零重来，加油包余额不动
	w.MonthlyImageUsed = 0
	w.MonthlyImageLimit = target.MonthlyImageLimit
	w.MonthlyVideoAudioUsed = 0
	w.MonthlyVideoAudioLimit = target.MonthlyVideoAudioLimit
	w.DailyExternalLimit = target.DailyExternalLimit
	w.MonthlyResetAt = now
}

// prorate 升级折算。
// remainingValue = ceil(剩余天数) × 当前套餐月价/30：
//   - 够抵目标周期价：收最小计价单位，按目标日价折算加赠天数
//   - 不够：收差价，只给购买的周期
func (s *Service) prorate(w *Wallet, current, target *plan.Plan, period plan.Period, now time.Time) (charge float64, grantedDays int) {
	remainingDays := int(math.Ceil(w.PlanExpiresAt.Sub(now).Hours() / 24))
	if remainingDays < 0 {
		remainingDays = 0
	}

	remainingValue := plan.Round2(float64(remainingDays) * current.PriceMonthly / 30)
	periodPrice := target.PeriodPrice(period)

	if remainingValue >= periodPrice {
		dailyPrice := target.DailyPrice()
		if dailyPrice <= 0 {
			return MinimumCharge, 0
		}
		return MinimumCharge, int(math.Floor(remainingValue / dailyPrice))
	}
	return plan.Round2(periodPrice - remainingValue), 0
}

// rechainDowngrades 维护降级队列不变量：
// 按 (rank desc, purchasedAt asc) 排序——已付费的最高剩余档位先生效，
// 同档先买先生效；然后自当前到期日起首尾相接地重新定档期。
// clamp 投影用钱包当前锚定日，条目生效时锚定日才重置。
func (s *Service) rechainDowngrades(w *Wallet) {
	q := w.PendingDowngrades
	if len(q) == 0 {
		return
	}

	sort.SliceStable(q, func(i, j int) bool {
		ri, rj := q[i].TargetPlan.Rank(), q[j].TargetPlan.Rank()
		if ri != rj {
			return ri > rj
		}
		return q[i].PurchasedAt.Before(q[j].PurchasedAt)
	})

	start := w.PlanExpiresAt
	for i := range q {
		q[i].EffectiveAt = start
		q[i].ExpiresAt = AddCalendarMonths(start, q[i].PeriodMonths, w.BillingAnchorDay)
		start = q[i].ExpiresAt
	}
	w.PendingDowngrades = q
}
