package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"card_shop/internal/model"
	"card_shop/internal/security"
	"card_shop/internal/store"
	"card_shop/pkg/money"

	log "github.com/sirupsen/logrus"
)

// Receipt 支付凭证。
type Receipt struct {
	OrderNo     string     `json:"order_no"`
	ProductName string     `json:"product_name"`
	TotalAmount string     `json:"total_amount"`
	PaidAt      *time.Time `json:"paid_at"`
	Username    *string    `json:"username"`
	TradeNo     *string    `json:"trade_no"`
}

// Receipt 只对订单所属用户开放，且订单必须已确认收款；其余情况一律按不存在处理。
func (e *Engine) Receipt(ctx context.Context, orderNo, userID string) (*Receipt, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, invalid("order_no", "invalid_input")
	}

	order, err := e.store.Orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if !order.Status.Settled() || order.UserID == nil || *order.UserID != userID {
		return nil, store.ErrNotFound
	}

	r := &Receipt{
		OrderNo:     order.OrderNo,
		ProductName: order.ProductName,
		TotalAmount: money.Format(order.TotalAmount),
		PaidAt:      order.PaidAt,
	}
	if order.Username != nil {
		if masked := MaskUsername(*order.Username); masked != "" {
			r.Username = &masked
		}
	}
	if order.TradeNo != nil {
		if t := strings.TrimSpace(*order.TradeNo); t != "" {
			r.TradeNo = &t
		}
	}
	return r, nil
}

// MaskUsername 保留首尾字符，中间替换为 ***；两个字符及以下只保留首字符。
func MaskUsername(name string) string {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return ""
	}
	runes := []rune(name)
	if n <= 2 {
		return string(runes[0]) + "*"
	}
	return string(runes[0]) + "***" + string(runes[n-1])
}

// Identity 读取卡密时的调用方身份：登录用户或订单查询密码，二者满足其一即可。
type Identity struct {
	UserID        string
	QueryPassword string
}

// OrderCards 订单卡密。待支付订单 Cards 为空。
type OrderCards struct {
	OrderNo string            `json:"order_no"`
	Status  model.OrderStatus `json:"status"`
	Cards   []string          `json:"cards"`
}

// OrderCards 向订单所有者返回已售卡密。
// 订单已 completed 但卡密仍为 locked（回调时置 sold 失败）时，在此补偿。
func (e *Engine) OrderCards(ctx context.Context, orderNo string, id Identity) (*OrderCards, error) {
	order, err := e.store.Orders.GetByOrderNo(ctx, strings.TrimSpace(orderNo))
	if err != nil {
		return nil, err
	}
	if !owns(order, id) {
		return nil, ErrUnauthorized
	}

	out := &OrderCards{OrderNo: order.OrderNo, Status: order.Status, Cards: []string{}}
	switch {
	case order.Status == model.OrderPending:
		return out, nil
	case !order.Status.Settled():
		// expired / refunded 的订单不再持有卡密
		return nil, fmt.Errorf("%w: order %s is %s", ErrStateConflict, order.OrderNo, order.Status)
	}

	if order.Status == model.OrderCompleted {
		locked, err := e.store.Cards.CountLocked(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if locked > 0 {
			n, err := e.store.Cards.MarkSold(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			log.WithFields(log.Fields{"order_no": order.OrderNo, "sold": n}).Warn("reconciled locked cards of completed order")
		}
	}

	contents, err := e.store.Cards.ContentsFor(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	out.Cards = contents
	return out, nil
}

func owns(order *model.Order, id Identity) bool {
	if id.UserID != "" && order.UserID != nil && *order.UserID == id.UserID {
		return true
	}
	return security.CheckPassword(order.QueryPassword, id.QueryPassword)
}

// OrderView 公开的订单状态，不含联系方式与身份信息。
type OrderView struct {
	OrderNo     string            `json:"order_no"`
	Status      model.OrderStatus `json:"status"`
	ProductName string            `json:"product_name"`
	Quantity    int               `json:"quantity"`
	TotalAmount string            `json:"total_amount"`
	ExpiredAt   time.Time         `json:"expired_at"`
	PaidAt      *time.Time        `json:"paid_at,omitempty"`
}

// OrderStatus 按订单号查询公开状态。
func (e *Engine) OrderStatus(ctx context.Context, orderNo string) (*OrderView, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, invalid("order_no", "invalid_input")
	}
	order, err := e.store.Orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return &OrderView{
		OrderNo:     order.OrderNo,
		Status:      order.Status,
		ProductName: order.ProductName,
		Quantity:    order.Quantity,
		TotalAmount: money.Format(order.TotalAmount),
		ExpiredAt:   order.ExpiredAt,
		PaidAt:      order.PaidAt,
	}, nil
}
