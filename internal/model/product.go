package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product 可售商品：名称、单价、单次购买数量区间
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string          `gorm:"size:128;not null" json:"name"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	MinQuantity int             `gorm:"not null;default:1" json:"min_quantity"`
	MaxQuantity int             `gorm:"not null;default:10" json:"max_quantity"`
	IsActive    bool            `gorm:"not null;index" json:"is_active"`
	// SalesCount 由订单事件消费者异步累加，仅用于展示。
	SalesCount int64 `gorm:"not null;default:0" json:"sales_count"`
}

func (Product) TableName() string { return "products" }

// QuantityAllowed 判断购买数量是否落在商品配置的区间内。
func (p Product) QuantityAllowed(quantity int) bool {
	minQ, maxQ := p.MinQuantity, p.MaxQuantity
	if minQ <= 0 {
		minQ = 1
	}
	if maxQ < minQ {
		maxQ = minQ
	}
	return quantity >= minQ && quantity <= maxQ
}
