package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwallet_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatwallet_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 配额指标
var (
	// QuotaDenialsTotal 配额拒绝总数
	QuotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwallet_quota_denials_total",
			Help: "配额检查/消费被拒绝总数",
		},
		[]string{"bucket"},
	)

	// QuotaConsumedTotal 配额消费总量
	QuotaConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwallet_quota_consumed_total",
			Help: "各配额桶消费总量",
		},
		[]string{"bucket"},
	)
)

// 支付与订阅指标
var (
	// PaymentsAppliedTotal 支付事件应用总数
	PaymentsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwallet_payments_applied_total",
			Help: "支付事件应用总数（含幂等命中与失败）",
		},
		[]string{"product_type", "provider", "status"},
	)

	// PlanTransitionsTotal 套餐切换总数
	PlanTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwallet_plan_transitions_total",
			Help: "套餐切换总数（续费/升级/降级入队/全新购买）",
		},
		[]string{"kind"},
	)
)

// Store 与 worker 指标
var (
	// StoreRetriesTotal Store 层 CAS 重试总数
	StoreRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwallet_store_cas_retries_total",
			Help: "钱包存储乐观并发冲突重试总数",
		},
	)

	// WalletSweepTotal 巡检处理的钱包总数
	WalletSweepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwallet_wallet_sweep_total",
			Help: "巡检 worker 处理的钱包总数",
		},
		[]string{"result"},
	)
)
