package wallet

import (
	"context"
	"errors"
	"time"

	"backend/internal/plan"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 主后端（Postgres）适配器。
// 单用户串行化靠事务内 SELECT ... FOR UPDATE 行锁，
// 锁持续到提交，变更对最新读数应用，不会丢更新。
type GormStore struct {
	db   *gorm.DB
	seed SeedFunc
}

// NewGormStore 创建 GORM 适配器
func NewGormStore(db *gorm.DB, seed SeedFunc) *GormStore {
	return &GormStore{db: db, seed: seed}
}

// AutoMigrate 建表
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Wallet{}, &PaymentRecord{}, &SubscriptionRecord{})
}

// lockClause 行锁子句；sqlite 不支持 FOR UPDATE，写事务本身互斥
func (s *GormStore) lockClause(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// GetWallet 读取钱包
func (s *GormStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// gormTxn 事务内附带写入
type gormTxn struct {
	db *gorm.DB
}

func (t *gormTxn) SavePayment(rec *PaymentRecord) error {
	return t.db.Save(rec).Error
}

func (t *gormTxn) AppendSubscription(rec *SubscriptionRecord) error {
	return t.db.Create(rec).Error
}

// UpdateWallet 行锁读-改-写；缺失时播种免费档钱包
func (s *GormStore) UpdateWallet(ctx context.Context, userID string, fn MutateFunc) (*Wallet, error) {
	var out *Wallet
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var w Wallet
		err := s.lockClause(db).
			Where("user_id = ?", userID).
			First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.seedWallet(db, userID, &w); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := fn(&w, &gormTxn{db: db}); err != nil {
			return err
		}

		w.Version++
		if err := db.Save(&w).Error; err != nil {
			return err
		}
		out = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// seedWallet 播种免费档钱包。并发的首次访问可能同时走到这里：
// 冲突方 DO NOTHING 放弃插入，改为加锁读赢家的行
func (s *GormStore) seedWallet(db *gorm.DB, userID string, w *Wallet) error {
	seeded := s.seed(userID, time.Now())
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seeded).Error; err != nil {
		return err
	}
	return s.lockClause(db).
		Where("user_id = ?", userID).
		First(w).Error
}

// GetPayment 按幂等键读取
func (s *GormStore) GetPayment(ctx context.Context, provider, providerOrderID string) (*PaymentRecord, error) {
	var rec PaymentRecord
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_order_id = ?", provider, providerOrderID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SavePayment 事务外落支付记录
func (s *GormStore) SavePayment(ctx context.Context, rec *PaymentRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

// ListSubscriptions 按用户倒序列出订阅历史
func (s *GormStore) ListSubscriptions(ctx context.Context, userID string, limit int) ([]SubscriptionRecord, error) {
	var subs []SubscriptionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// ListDueWallets 套餐过期的付费钱包（降级队列到期包含在其中——
// 队首 EffectiveAt 即当前到期日，过期即到期）
func (s *GormStore) ListDueWallets(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Wallet{}).
		Where("plan <> ? AND plan_expires_at < ?", plan.TierFree, now).
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ArchiveCompletedPayments 归档保留期外的完成记录
func (s *GormStore) ArchiveCompletedPayments(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&PaymentRecord{}).
		Where("status = ? AND updated_at < ?", PaymentCompleted, before).
		Update("status", PaymentArchived)
	return res.RowsAffected, res.Error
}

var _ Store = (*GormStore)(nil)
