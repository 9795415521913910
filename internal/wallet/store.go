package wallet

import (
	"context"
	"time"
)

// Txn 钱包变更事务内的附带写入。
// 支付记录、订阅历史与钱包写入落在同一个原子提交里，
// 避免「钱包已扣/已升级但支付记录未完成」的窗口。
type Txn interface {
	SavePayment(rec *PaymentRecord) error
	AppendSubscription(rec *SubscriptionRecord) error
}

// MutateFunc 对最新读数应用的钱包变更；返回错误则整体回滚
type MutateFunc func(w *Wallet, tx Txn) error

// Store 钱包持久化端口。
// 实现必须保证 UpdateWallet 对同一用户串行化（行锁或 CAS），
// 跨用户不需要任何事务；钱包完全按 userId 分片。
type Store interface {
	// GetWallet 读取钱包；不存在返回 ErrWalletNotFound
	GetWallet(ctx context.Context, userID string) (*Wallet, error)

	// UpdateWallet 读-改-写；钱包不存在时先用 seed 播种再应用变更。
	// 返回写入后的钱包副本。
	UpdateWallet(ctx context.Context, userID string, fn MutateFunc) (*Wallet, error)

	// GetPayment 按幂等键读取支付记录；不存在返回 ErrPaymentNotFound
	GetPayment(ctx context.Context, provider, providerOrderID string) (*PaymentRecord, error)

	// SavePayment 在钱包事务之外落支付记录（观察态/失败态）
	SavePayment(ctx context.Context, rec *PaymentRecord) error

	// ListSubscriptions 按用户倒序列出订阅历史
	ListSubscriptions(ctx context.Context, userID string, limit int) ([]SubscriptionRecord, error)

	// ListDueWallets 列出套餐已过期或队首降级已到期的钱包（巡检加速用）
	ListDueWallets(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ArchiveCompletedPayments 归档 before 之前完成的支付记录，返回条数
	ArchiveCompletedPayments(ctx context.Context, before time.Time) (int64, error)
}

// SeedFunc 钱包缺失时的播种模板（免费档）
type SeedFunc func(userID string, now time.Time) *Wallet
