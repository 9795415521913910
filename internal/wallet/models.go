package wallet

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/plan"
)

var (
	ErrWalletNotFound      = errors.New("钱包不存在")
	ErrPaymentNotFound     = errors.New("支付记录不存在")
	ErrConcurrentUpdate    = errors.New("钱包并发更新冲突")
	ErrUnknownPlan         = errors.New("支付引用的套餐不在目录中")
	ErrUnknownAddonPackage = errors.New("支付引用的加油包不在目录中")
	ErrInvalidCount        = errors.New("无效的消费数量")
	ErrInvalidEvent        = errors.New("支付事件缺少必填字段")
)

// Bucket 配额桶标识，用于拒绝原因
type Bucket string

const (
	BucketDaily             Bucket = "daily"
	BucketMonthlyImage      Bucket = "monthly_image"
	BucketMonthlyVideoAudio Bucket = "monthly_video_audio"
)

// PendingDowngrade 已付费但尚未生效的低档位条目
type PendingDowngrade struct {
	TargetPlan   plan.Tier `json:"targetPlan"`
	PeriodMonths int       `json:"periodMonths"`
	PurchasedAt  time.Time `json:"purchasedAt"`
	EffectiveAt  time.Time `json:"effectiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// DowngradeQueue 降级队列，JSON 序列化存储
type DowngradeQueue []PendingDowngrade

// Value 实现 driver.Valuer
func (q DowngradeQueue) Value() (driver.Value, error) {
	if len(q) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (q *DowngradeQueue) Scan(value interface{}) error {
	if value == nil {
		*q = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法解析降级队列: %T", value)
	}
	if len(data) == 0 {
		*q = nil
		return nil
	}
	return json.Unmarshal(data, q)
}

// Wallet 用户权益钱包，本引擎的唯一主体实体
type Wallet struct {
	UserID string `json:"userId" gorm:"primaryKey;size:64"`

	// 当前档位；失效永远由 PlanExpiresAt 推导，不落存储标志
	Plan          plan.Tier `json:"plan" gorm:"size:20;not null;default:free"`
	PlanStartedAt time.Time `json:"planStartedAt"`
	PlanExpiresAt time.Time `json:"planExpiresAt" gorm:"index"`

	// 月度配额重置的锚定日（1-31），首次付费订阅时固定，续费不变
	BillingAnchorDay int `json:"billingAnchorDay"`

	// 每日外部模型调用额度（UTC+8 自然日重置）
	DailyExternalUsed  int       `json:"dailyExternalUsed"`
	DailyExternalLimit int       `json:"dailyExternalLimit"`
	DailyResetAt       time.Time `json:"dailyResetAt"`

	// 计费周期内的多模态额度（锚定日重置）
	MonthlyImageUsed       int       `json:"monthlyImageUsed"`
	MonthlyImageLimit      int       `json:"monthlyImageLimit"`
	MonthlyVideoAudioUsed  int       `json:"monthlyVideoAudioUsed"`
	MonthlyVideoAudioLimit int       `json:"monthlyVideoAudioLimit"`
	MonthlyResetAt         time.Time `json:"monthlyResetAt"`

	// 加油包永久积分，只增于完成的加油包购买，只减于消费
	AddonImageBalance      int `json:"addonImageBalance"`
	AddonVideoAudioBalance int `json:"addonVideoAudioBalance"`

	// 已购买待生效的低档位队列，按 (rank desc, purchasedAt asc) 维护
	PendingDowngrades DowngradeQueue `json:"pendingDowngrades" gorm:"type:text"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Wallet) TableName() string { return "wallets" }

// ProductType 支付产品类型
type ProductType string

const (
	ProductSubscription ProductType = "SUBSCRIPTION"
	ProductAddon        ProductType = "ADDON"
)

// PaymentStatus 支付记录状态
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentArchived  PaymentStatus = "archived"
)

// PaymentRecord 支付事件落库记录，(provider, provider_order_id) 为幂等键
type PaymentRecord struct {
	ID              string        `json:"id" gorm:"primaryKey;size:36"`
	UserID          string        `json:"userId" gorm:"size:64;index"`
	Provider        string        `json:"provider" gorm:"size:32;uniqueIndex:idx_payment_dedup"`
	ProviderOrderID string        `json:"providerOrderId" gorm:"size:128;uniqueIndex:idx_payment_dedup"`
	ProductType     ProductType   `json:"productType" gorm:"size:20"`
	Amount          float64       `json:"amount"`
	Currency        string        `json:"currency" gorm:"size:10"`
	Status          PaymentStatus `json:"status" gorm:"size:16;index"`

	// SUBSCRIPTION 事件内容
	PlanTier plan.Tier   `json:"planTier" gorm:"size:20"`
	Period   plan.Period `json:"period" gorm:"size:16"`

	// ADDON 事件内容
	AddonPackageID    string `json:"addonPackageId" gorm:"size:64"`
	ImageCredits      int    `json:"imageCredits"`
	VideoAudioCredits int    `json:"videoAudioCredits"`

	// 完成时的计算结果，幂等重放直接返回
	EffectivePlan      plan.Tier   `json:"effectivePlan" gorm:"size:20"`
	EffectivePeriod    plan.Period `json:"effectivePeriod" gorm:"size:16"`
	EffectiveExpiresAt *time.Time  `json:"effectiveExpiresAt"`
	ChargedAmount      float64     `json:"chargedAmount"`

	FailReason string    `json:"failReason" gorm:"size:500"`
	CreatedAt  time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName 表名
func (PaymentRecord) TableName() string { return "payment_records" }

// SubscriptionStatus 订阅历史状态
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// SubscriptionRecord 订阅历史（仅审计，不参与实时权益计算）
type SubscriptionRecord struct {
	ID              string             `json:"id" gorm:"primaryKey;size:36"`
	UserID          string             `json:"userId" gorm:"size:64;index"`
	Plan            plan.Tier          `json:"plan" gorm:"size:20"`
	Period          plan.Period        `json:"period" gorm:"size:16"`
	Status          SubscriptionStatus `json:"status" gorm:"size:16"`
	Provider        string             `json:"provider" gorm:"size:32"`
	ProviderOrderID string             `json:"providerOrderId" gorm:"size:128"`
	StartedAt       time.Time          `json:"startedAt"`
	ExpiresAt       time.Time          `json:"expiresAt"`
	CreatedAt       time.Time          `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName 表名
func (SubscriptionRecord) TableName() string { return "subscription_records" }

// PaymentEvent 网关确认后的支付事件（外部输入）
type PaymentEvent struct {
	UserID          string      `json:"userId"`
	Provider        string      `json:"provider"`
	ProviderOrderID string      `json:"providerOrderId"`
	ProductType     ProductType `json:"productType"`
	Amount          float64     `json:"amount"`
	Currency        string      `json:"currency"`

	// SUBSCRIPTION
	Plan   plan.Tier   `json:"plan,omitempty"`
	Period plan.Period `json:"period,omitempty"`

	// ADDON：给包 ID 或直接给积分数
	AddonPackageID    string `json:"addonPackageId,omitempty"`
	ImageCredits      int    `json:"imageCredits,omitempty"`
	VideoAudioCredits int    `json:"videoAudioCredits,omitempty"`
}

// Validate 校验事件必填字段
func (e *PaymentEvent) Validate() error {
	if e.UserID == "" || e.Provider == "" || e.ProviderOrderID == "" {
		return ErrInvalidEvent
	}
	switch e.ProductType {
	case ProductSubscription:
		if e.Plan == "" {
			return ErrInvalidEvent
		}
		if e.Period == "" {
			e.Period = plan.PeriodMonthly
		}
	case ProductAddon:
		if e.AddonPackageID == "" && e.ImageCredits <= 0 && e.VideoAudioCredits <= 0 {
			return ErrInvalidEvent
		}
	default:
		return ErrInvalidEvent
	}
	return nil
}

// Entitlement 权益快照（只读投影，供 UI/计费弹窗展示）
type Entitlement struct {
	UserID                     string             `json:"userId"`
	Plan                       plan.Tier          `json:"plan"`
	PlanActive                 bool               `json:"planActive"`
	PlanExpiresAt              *time.Time         `json:"planExpiresAt,omitempty"`
	DailyRemaining             int                `json:"dailyRemaining"`
	MonthlyImageRemaining      int                `json:"monthlyImageRemaining"`
	MonthlyVideoAudioRemaining int                `json:"monthlyVideoAudioRemaining"`
	AddonImageBalance          int                `json:"addonImageBalance"`
	AddonVideoAudioBalance     int                `json:"addonVideoAudioBalance"`
	PendingDowngrades          []PendingDowngrade `json:"pendingDowngrades,omitempty"`
}

// CheckResult 配额检查结果；拒绝以结构化结果返回，不走 error
type CheckResult struct {
	Allowed            bool   `json:"allowed"`
	InsufficientBucket Bucket `json:"insufficientBucket,omitempty"`

	MonthlyImageRemaining      int `json:"monthlyImageRemaining"`
	MonthlyVideoAudioRemaining int `json:"monthlyVideoAudioRemaining"`
	AddonImageBalance          int `json:"addonImageBalance"`
	AddonVideoAudioBalance     int `json:"addonVideoAudioBalance"`
}

// ConsumeResult 配额消费结果
type ConsumeResult struct {
	Allowed            bool   `json:"allowed"`
	InsufficientBucket Bucket `json:"insufficientBucket,omitempty"`

	ImageFromMonthly      int `json:"imageFromMonthly"`
	ImageFromAddon        int `json:"imageFromAddon"`
	VideoAudioFromMonthly int `json:"videoAudioFromMonthly"`
	VideoAudioFromAddon   int `json:"videoAudioFromAddon"`

	DailyRemaining int `json:"dailyRemaining"`
}

// TransitionKind 套餐切换类型
type TransitionKind string

const (
	TransitionRenewal         TransitionKind = "renewal"
	TransitionUpgrade         TransitionKind = "upgrade"
	TransitionPurchase        TransitionKind = "purchase"
	TransitionDowngradeQueued TransitionKind = "downgrade_queued"
)

// ApplyResult 支付应用结果
type ApplyResult struct {
	AlreadyProcessed bool           `json:"alreadyProcessed"`
	ProductType      ProductType    `json:"productType"`
	TransitionKind   TransitionKind `json:"transitionKind,omitempty"`
	EffectivePlan    plan.Tier      `json:"effectivePlan,omitempty"`
	EffectivePeriod  plan.Period    `json:"effectivePeriod,omitempty"`
	ExpiresAt        *time.Time     `json:"expiresAt,omitempty"`
	ChargedAmount    float64        `json:"chargedAmount"`
	GrantedDays      int            `json:"grantedDays,omitempty"`
}
