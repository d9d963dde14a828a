package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("store: not found")
	// ErrInsufficientStock 可用卡密不足，预占整体失败、不做部分锁定。
	ErrInsufficientStock = errors.New("store: insufficient stock")
)

// Store 聚合卡密、订单、商品三个存储，共享同一个 *gorm.DB（可以是事务句柄）。
type Store struct {
	db       *gorm.DB
	Cards    *CardStore
	Orders   *OrderStore
	Products *ProductStore
}

// New 基于连接或事务句柄构造 Store。
func New(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Cards:    &CardStore{db: db},
		Orders:   &OrderStore{db: db},
		Products: &ProductStore{db: db},
	}
}

// DB 返回底层句柄。
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction 在一个数据库事务内执行 fn，fn 返回错误时整体回滚。
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
