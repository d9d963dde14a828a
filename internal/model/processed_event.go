package model

import "time"

// ProcessedEvent 记录已消费的订单事件，EventID 唯一约束保证重复消息只生效一次。
type ProcessedEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	EventID string `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	OrderNo string `gorm:"size:64;index;not null" json:"order_no"`
	Kind    string `gorm:"size:32;not null" json:"kind"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// All 返回需要 AutoMigrate 的全部模型。
func All() []any {
	return []any{&Product{}, &Card{}, &Order{}, &ProcessedEvent{}}
}
