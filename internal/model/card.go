package model

import "time"

// CardStatus 卡密状态机：available -> locked -> sold，locked 可回退到 available。
type CardStatus string

const (
	CardAvailable CardStatus = "available" // 可售
	CardLocked    CardStatus = "locked"    // 已被待支付订单占用
	CardSold      CardStatus = "sold"      // 已售出，内容可对订单所有者展示
)

// Card 单张卡密。OrderID 仅在 locked/sold 时非空。
type Card struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID uint       `gorm:"not null;index:idx_cards_product_status,priority:1" json:"product_id"`
	Content   string     `gorm:"type:text;not null" json:"-"`
	Status    CardStatus `gorm:"size:16;not null;default:available;index:idx_cards_product_status,priority:2" json:"status"`
	OrderID   *uint      `gorm:"index" json:"order_id,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	SoldAt    *time.Time `json:"sold_at,omitempty"`
}

func (Card) TableName() string { return "cards" }
