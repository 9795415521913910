package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"backend/internal/metrics"
	"backend/internal/plan"

	"github.com/redis/go-redis/v9"
)

// casMaxRetries WATCH/MULTI 乐观并发的有限重试次数，
// 耗尽后返回 ErrConcurrentUpdate，由调用方整体重试
const casMaxRetries = 5

// RedisStore 第二后端适配器：钱包整体 JSON 存键，
// WATCH/MULTI 做 compare-and-swap，后写者不会盲目覆盖。
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	seed   SeedFunc
}

// NewRedisStore 创建 Redis 适配器
func NewRedisStore(rdb redis.UniversalClient, seed SeedFunc) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "chatwallet", seed: seed}
}

func (s *RedisStore) walletKey(userID string) string {
	return fmt.Sprintf("%s:wallet:%s", s.prefix, userID)
}

func (s *RedisStore) paymentKey(provider, orderID string) string {
	return fmt.Sprintf("%s:payment:%s:%s", s.prefix, provider, orderID)
}

func (s *RedisStore) subsKey(userID string) string {
	return fmt.Sprintf("%s:subs:%s", s.prefix, userID)
}

// GetWallet 读取钱包
func (s *RedisStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	data, err := s.rdb.Get(ctx, s.walletKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("解析钱包数据失败: %w", err)
	}
	return &w, nil
}

// redisTxn 收集附带写入，与钱包 SET 同一个 MULTI 提交
type redisTxn struct {
	store         *RedisStore
	payments      []*PaymentRecord
	subscriptions []*SubscriptionRecord
}

func (t *redisTxn) SavePayment(rec *PaymentRecord) error {
	t.payments = append(t.payments, rec)
	return nil
}

func (t *redisTxn) AppendSubscription(rec *SubscriptionRecord) error {
	t.subscriptions = append(t.subscriptions, rec)
	return nil
}

// UpdateWallet CAS 读-改-写，有限重试
func (s *RedisStore) UpdateWallet(ctx context.Context, userID string, fn MutateFunc) (*Wallet, error) {
	key := s.walletKey(userID)
	var out *Wallet

	txf := func(tx *redis.Tx) error {
		var w *Wallet
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			w = s.seed(userID, time.Now())
		case err != nil:
			return err
		default:
			w = &Wallet{}
			if err := json.Unmarshal(data, w); err != nil {
				return fmt.Errorf("解析钱包数据失败: %w", err)
			}
		}

		txn := &redisTxn{store: s}
		if err := fn(w, txn); err != nil {
			return err
		}

		w.Version++
		w.UpdatedAt = time.Now()
		payload, err := json.Marshal(w)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			for _, rec := range txn.payments {
				recData, merr := json.Marshal(rec)
				if merr != nil {
					return merr
				}
				pipe.Set(ctx, s.paymentKey(rec.Provider, rec.ProviderOrderID), recData, 0)
			}
			for _, sub := range txn.subscriptions {
				subData, merr := json.Marshal(sub)
				if merr != nil {
					return merr
				}
				pipe.LPush(ctx, s.subsKey(sub.UserID), subData)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = w
		return nil
	}

	for i := 0; i < casMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			metrics.StoreRetriesTotal.Inc()
			continue
		}
		return nil, err
	}
	return nil, ErrConcurrentUpdate
}

// GetPayment 按幂等键读取
func (s *RedisStore) GetPayment(ctx context.Context, provider, providerOrderID string) (*PaymentRecord, error) {
	data, err := s.rdb.Get(ctx, s.paymentKey(provider, providerOrderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec PaymentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("解析支付记录失败: %w", err)
	}
	return &rec, nil
}

// SavePayment 事务外落支付记录
func (s *RedisStore) SavePayment(ctx context.Context, rec *PaymentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.paymentKey(rec.Provider, rec.ProviderOrderID), data, 0).Err()
}

// ListSubscriptions 按用户倒序（LPush 使最新在表头）
func (s *RedisStore) ListSubscriptions(ctx context.Context, userID string, limit int) ([]SubscriptionRecord, error) {
	items, err := s.rdb.LRange(ctx, s.subsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]SubscriptionRecord, 0, len(items))
	for _, item := range items {
		var sub SubscriptionRecord
		if err := json.Unmarshal([]byte(item), &sub); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ListDueWallets SCAN 扫键（巡检是加速手段，允许线性扫描）
func (s *RedisStore) ListDueWallets(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var due []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+":wallet:*", 512).Iterator()
	for iter.Next(ctx) {
		if limit > 0 && len(due) >= limit {
			break
		}
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var w Wallet
		if err := json.Unmarshal(data, &w); err != nil {
			continue
		}
		if w.Plan != "" && w.Plan != plan.TierFree && now.After(w.PlanExpiresAt) {
			due = append(due, w.UserID)
			continue
		}
		if len(w.PendingDowngrades) > 0 && !now.Before(w.PendingDowngrades[0].EffectiveAt) {
			due = append(due, w.UserID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(due)
	return due, nil
}

// ArchiveCompletedPayments 归档保留期外的完成记录
func (s *RedisStore) ArchiveCompletedPayments(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+":payment:*", 512).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec PaymentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Status == PaymentCompleted && rec.UpdatedAt.Before(before) {
			rec.Status = PaymentArchived
			payload, merr := json.Marshal(&rec)
			if merr != nil {
				continue
			}
			if err := s.rdb.Set(ctx, key, payload, 0).Err(); err == nil {
				n++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	return n, nil
}

var _ Store = (*RedisStore)(nil)
