package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"backend/internal/plan"
)

// MemoryStore 内存 Store，按用户互斥锁串行化读-改-写。
// 测试与本地开发使用；生产走 GORM/Redis 适配器。
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	walletsMu sync.RWMutex
	wallets   map[string]*Wallet

	recordsMu     sync.RWMutex
	payments      map[string]*PaymentRecord // key: provider + "\x00" + orderID
	subscriptions map[string][]SubscriptionRecord

	seed SeedFunc
	now  func() time.Time
}

// NewMemoryStore 创建内存 Store
func NewMemoryStore(seed SeedFunc) *MemoryStore {
	return &MemoryStore{
		locks:         make(map[string]*sync.Mutex),
		wallets:       make(map[string]*Wallet),
		payments:      make(map[string]*PaymentRecord),
		subscriptions: make(map[string][]SubscriptionRecord),
		seed:          seed,
		now:           time.Now,
	}
}

// userLock 取该用户的互斥锁（惰性创建）
func (m *MemoryStore) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

func paymentKey(provider, orderID string) string {
	return provider + "\x00" + orderID
}

// GetWallet 读取钱包副本
func (m *MemoryStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	m.walletsMu.RLock()
	defer m.walletsMu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := cloneWallet(w)
	return cp, nil
}

// memoryTxn 收集事务内写入，钱包写入成功时一并提交
type memoryTxn struct {
	payments      []*PaymentRecord
	subscriptions []*SubscriptionRecord
}

func (t *memoryTxn) SavePayment(rec *PaymentRecord) error {
	t.payments = append(t.payments, rec)
	return nil
}

func (t *memoryTxn) AppendSubscription(rec *SubscriptionRecord) error {
	t.subscriptions = append(t.subscriptions, rec)
	return nil
}

// UpdateWallet 串行化读-改-写；钱包缺失时播种免费档
func (m *MemoryStore) UpdateWallet(ctx context.Context, userID string, fn MutateFunc) (*Wallet, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	m.walletsMu.RLock()
	stored, ok := m.wallets[userID]
	m.walletsMu.RUnlock()

	var w *Wallet
	if ok {
		w = cloneWallet(stored)
	} else {
		w = m.seed(userID, m.now())
	}

	tx := &memoryTxn{}
	if err := fn(w, tx); err != nil {
		return nil, err
	}

	w.Version++
	w.UpdatedAt = m.now()

	m.walletsMu.Lock()
	m.wallets[userID] = cloneWallet(w)
	m.walletsMu.Unlock()

	m.recordsMu.Lock()
	for _, rec := range tx.payments {
		cp := *rec
		m.payments[paymentKey(rec.Provider, rec.ProviderOrderID)] = &cp
	}
	for _, sub := range tx.subscriptions {
		m.subscriptions[sub.UserID] = append(m.subscriptions[sub.UserID], *sub)
	}
	m.recordsMu.Unlock()

	return w, nil
}

// GetPayment 按幂等键读取
func (m *MemoryStore) GetPayment(ctx context.Context, provider, providerOrderID string) (*PaymentRecord, error) {
	m.recordsMu.RLock()
	defer m.recordsMu.RUnlock()
	rec, ok := m.payments[paymentKey(provider, providerOrderID)]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *rec
	return &cp, nil
}

// SavePayment 事务外落支付记录
func (m *MemoryStore) SavePayment(ctx context.Context, rec *PaymentRecord) error {
	m.recordsMu.Lock()
	defer m.recordsMu.Unlock()
	cp := *rec
	m.payments[paymentKey(rec.Provider, rec.ProviderOrderID)] = &cp
	return nil
}

// ListSubscriptions 按用户倒序
func (m *MemoryStore) ListSubscriptions(ctx context.Context, userID string, limit int) ([]SubscriptionRecord, error) {
	m.recordsMu.RLock()
	defer m.recordsMu.RUnlock()
	subs := append([]SubscriptionRecord(nil), m.subscriptions[userID]...)
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

// ListDueWallets 套餐到期或队首降级到期的钱包
func (m *MemoryStore) ListDueWallets(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.walletsMu.RLock()
	defer m.walletsMu.RUnlock()
	var due []string
	for id, w := range m.wallets {
		if limit > 0 && len(due) >= limit {
			break
		}
		if w.Plan != "" && w.Plan != plan.TierFree && now.After(w.PlanExpiresAt) {
			due = append(due, id)
			continue
		}
		if len(w.PendingDowngrades) > 0 && !now.Before(w.PendingDowngrades[0].EffectiveAt) {
			due = append(due, id)
		}
	}
	return due, nil
}

// ArchiveCompletedPayments 归档保留期外的完成记录
func (m *MemoryStore) ArchiveCompletedPayments(ctx context.Context, before time.Time) (int64, error) {
	m.recordsMu.Lock()
	defer m.recordsMu.Unlock()
	var n int64
	for _, rec := range m.payments {
		if rec.Status == PaymentCompleted && rec.UpdatedAt.Before(before) {
			rec.Status = PaymentArchived
			n++
		}
	}
	return n, nil
}

// cloneWallet 深拷贝（降级队列独立）
func cloneWallet(w *Wallet) *Wallet {
	cp := *w
	if len(w.PendingDowngrades) > 0 {
		cp.PendingDowngrades = append(DowngradeQueue(nil), w.PendingDowngrades...)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
