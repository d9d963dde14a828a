// Package fulfillment 是订单履约引擎：下单预占卡密、处理支付回调、过期回收与订单读取。
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"card_shop/internal/config"
	"card_shop/internal/model"
	"card_shop/internal/payment"
	"card_shop/internal/queue"
	"card_shop/internal/security"
	"card_shop/internal/store"
	"card_shop/pkg/money"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// EventPublisher 订单事件出口（Redis Stream outbox）。发布失败只记日志，不影响主流程。
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev queue.OrderEvent) error
}

// StockCache 展示用的库存缓存，不参与任何正确性判断。
type StockCache interface {
	AdjustAvailable(ctx context.Context, productID uint, delta int64) error
}

// Engine 订单履约引擎。配置在构造时注入，运行期不读取环境变量。
type Engine struct {
	store    *store.Store
	verifier payment.Verifier
	payCfg   config.PaymentConfig
	orderCfg config.OrderConfig

	events EventPublisher
	stock  StockCache
	now    func() time.Time
}

type Option func(*Engine)

func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithStockCache(c StockCache) Option {
	return func(e *Engine) { e.stock = c }
}

// WithClock 替换时间源，测试用。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s *store.Store, v payment.Verifier, payCfg config.PaymentConfig, orderCfg config.OrderConfig, opts ...Option) *Engine {
	if orderCfg.ExpireAfter <= 0 {
		orderCfg.ExpireAfter = 5 * time.Minute
	}
	e := &Engine{
		store:    s,
		verifier: v,
		payCfg:   payCfg,
		orderCfg: orderCfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceOrderInput 下单参数。UserID/Username 来自已登录用户的 JWT，可为空。
type PlaceOrderInput struct {
	ProductID     uint
	Quantity      int
	Email         string
	QueryPassword string
	PaymentMethod string
	Remark        string
	UserID        string
	Username      string
}

// PlaceOrderResult 下单结果与跳转网关所需参数。
type PlaceOrderResult struct {
	OrderNo     string          `json:"order_no"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ExpiredAt   time.Time       `json:"expired_at"`
	Payment     payment.Request `json:"payment"`
}

// PlaceOrder 校验商品与数量，在同一事务中创建 pending 订单并预占卡密。
// 库存不足时事务整体回滚，不会留下订单。
func (e *Engine) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, invalid("email", "invalid_input")
	}
	if n := utf8.RuneCountInString(in.QueryPassword); n < 4 || n > 64 {
		return nil, invalid("query_password", "invalid_input")
	}
	if utf8.RuneCountInString(in.Remark) > 500 {
		return nil, invalid("remark", "invalid_input")
	}
	method := strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		method = string(model.PaymentLDC)
	}
	if !model.ValidPaymentMethod(method) {
		return nil, invalid("payment_method", "invalid_input")
	}

	product, err := e.store.Products.Get(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, ErrProductUnavailable
	}
	if !product.QuantityAllowed(in.Quantity) {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrQuantityOutOfRange, in.Quantity, product.MinQuantity, product.MaxQuantity)
	}

	hash, err := security.HashPassword(in.QueryPassword)
	if err != nil {
		return nil, fmt.Errorf("hash query password: %w", err)
	}

	now := e.now().UTC()
	order := &model.Order{
		ProductID:     product.ID,
		ProductName:   product.Name,
		ProductPrice:  product.Price,
		Quantity:      in.Quantity,
		TotalAmount:   money.Total(product.Price, in.Quantity),
		PaymentMethod: model.PaymentMethod(method),
		Email:         email,
		QueryPassword: hash,
		UserID:        optional(in.UserID),
		Username:      optional(in.Username),
		ExpiredAt:     now.Add(e.orderCfg.ExpireAfter),
		Remark:        strings.TrimSpace(in.Remark),
	}

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.Orders.Create(ctx, order); err != nil {
			return err
		}
		_, err := tx.Cards.Reserve(ctx, product.ID, in.Quantity, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_no":   order.OrderNo,
		"product_id": product.ID,
		"quantity":   in.Quantity,
		"total":      money.Format(order.TotalAmount),
	}).Info("order placed")

	e.adjustStock(ctx, product.ID, -int64(in.Quantity))
	e.publish(ctx, queue.KindOrderCreated, order)

	return &PlaceOrderResult{
		OrderNo:     order.OrderNo,
		TotalAmount: order.TotalAmount,
		ExpiredAt:   order.ExpiredAt,
		Payment:     payment.BuildPaymentRequest(e.payCfg, order),
	}, nil
}

// ExpireOrder 把超时的 pending 订单置为 expired 并释放其卡密，两步在同一事务内完成。
// 返回 false 表示订单已不可过期（已支付、已过期或尚未到期）。
func (e *Engine) ExpireOrder(ctx context.Context, orderNo string, now time.Time) (bool, error) {
	var (
		order    *model.Order
		released int64
		expired  bool
	)
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		o, err := tx.Orders.GetByOrderNo(ctx, orderNo)
		if err != nil {
			return err
		}
		ok, err := tx.Orders.TransitionToExpired(ctx, orderNo, now)
		if err != nil || !ok {
			return err
		}
		n, err := tx.Cards.Release(ctx, o.ID)
		if err != nil {
			return err
		}
		order, released, expired = o, n, true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !expired {
		return false, nil
	}

	log.WithFields(log.Fields{
		"order_no": orderNo,
		"released": released,
	}).Info("order expired")

	e.adjustStock(ctx, order.ProductID, released)
	e.publish(ctx, queue.KindOrderExpired, order)
	return true, nil
}

func (e *Engine) adjustStock(ctx context.Context, productID uint, delta int64) {
	if e.stock == nil || delta == 0 {
		return
	}
	if err := e.stock.AdjustAvailable(ctx, productID, delta); err != nil {
		log.WithError(err).WithField("product_id", productID).Warn("stock cache adjust failed")
	}
}

func (e *Engine) publish(ctx context.Context, kind string, order *model.Order) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishOrderEvent(ctx, queue.NewOrderEvent(kind, order, e.now())); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"order_no": order.OrderNo,
			"kind":     kind,
		}).Warn("publish order event failed")
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
