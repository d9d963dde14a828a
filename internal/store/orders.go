package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"card_shop/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderStore 订单存储。状态迁移全部是带 status 守卫的单条 UPDATE（CAS）。
type OrderStore struct {
	db *gorm.DB
}

// NewOrderNo 生成订单号：LD + UTC 时间戳 + 12 位随机十六进制。
func NewOrderNo(now time.Time) string {
	u := uuid.New()
	return "LD" + now.UTC().Format("20060102150405") + strings.ToUpper(hex.EncodeToString(u[10:16]))
}

// Create 写入一笔 pending 订单，OrderNo 为空时自动生成。
func (s *OrderStore) Create(ctx context.Context, o *model.Order) (string, error) {
	if o.OrderNo == "" {
		o.OrderNo = NewOrderNo(time.Now())
	}
	o.Status = model.OrderPending
	o.ExpiredAt = o.ExpiredAt.UTC()
	if o.PaymentMethod == "" {
		o.PaymentMethod = model.PaymentLDC
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	return o.OrderNo, nil
}

// GetByOrderNo 按订单号查询。
func (s *OrderStore) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).Where("order_no = ?", orderNo).Take(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// FetchStatus 只读取订单状态，CAS 失败后用于判断是否为幂等重放。
func (s *OrderStore) FetchStatus(ctx context.Context, orderNo string) (model.OrderStatus, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).Select("status").Where("order_no = ?", orderNo).Take(&o).Error; err != nil {
		return "", notFound(err)
	}
	return o.Status, nil
}

// TransitionToCompleted pending -> completed，同时写入 trade_no 与 paid_at。
// 返回 false 表示订单已不在 pending（被并发回调或回收器抢先）。
func (s *OrderStore) TransitionToCompleted(ctx context.Context, orderNo, tradeNo string, paidAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderPending).
		Updates(map[string]any{
			"status":   model.OrderCompleted,
			"trade_no": tradeNo,
			"paid_at":  paidAt.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete order %s: %w", orderNo, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TransitionToExpired pending -> expired，仅当 expired_at 早于 now。
func (s *OrderStore) TransitionToExpired(ctx context.Context, orderNo string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND status = ? AND expired_at < ?", orderNo, model.OrderPending, now.UTC()).
		Update("status", model.OrderExpired)
	if res.Error != nil {
		return false, fmt.Errorf("expire order %s: %w", orderNo, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListExpiredPending 列出已过截止时间仍为 pending 的订单，最早过期的优先。
func (s *OrderStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 200
	}
	var orders []model.Order
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expired_at < ?", model.OrderPending, now.UTC()).
		Order("expired_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	return orders, nil
}
