package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus 订单状态。paid 只会由人工操作产生，回调直接 pending -> completed。
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderExpired   OrderStatus = "expired"
	OrderRefunded  OrderStatus = "refunded"
)

// Settled 表示订单已确认收款（paid/completed）。
func (s OrderStatus) Settled() bool {
	return s == OrderPaid || s == OrderCompleted
}

// PaymentMethod 支付渠道
type PaymentMethod string

const (
	PaymentLDC    PaymentMethod = "ldc"
	PaymentAlipay PaymentMethod = "alipay"
	PaymentWechat PaymentMethod = "wechat"
	PaymentUSDT   PaymentMethod = "usdt"
)

// ValidPaymentMethod 校验渠道名是否受支持。
func ValidPaymentMethod(m string) bool {
	switch PaymentMethod(m) {
	case PaymentLDC, PaymentAlipay, PaymentWechat, PaymentUSDT:
		return true
	}
	return false
}

// Order 卡密订单。商品名与单价在下单时冗余保存，不受后续改价影响。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo      string          `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	ProductID    uint            `gorm:"not null;index" json:"product_id"`
	ProductName  string          `gorm:"size:128;not null" json:"product_name"`
	ProductPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"product_price"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"` // = 单价 * 数量，创建后不变

	PaymentMethod PaymentMethod `gorm:"size:16;not null;default:ldc" json:"payment_method"`
	Status        OrderStatus   `gorm:"size:16;not null;default:pending;index" json:"status"`
	TradeNo       *string       `gorm:"size:128;index" json:"trade_no,omitempty"` // 支付平台流水号，只写一次

	Email         string  `gorm:"size:255;not null;index" json:"email"`
	QueryPassword string  `gorm:"size:100;not null" json:"-"` // bcrypt
	UserID        *string `gorm:"size:64;index" json:"user_id,omitempty"`
	Username      *string `gorm:"size:128" json:"-"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	ExpiredAt time.Time  `gorm:"not null;index" json:"expired_at"`
	Remark    string     `gorm:"size:500" json:"remark,omitempty"`
}

// 显式实现结构，确定表名
func (Order) TableName() string { return "orders" }
