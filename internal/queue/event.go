package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"card_shop/internal/model"
	"card_shop/pkg/money"

	"github.com/google/uuid"
)

// 订单事件类型
const (
	KindOrderCreated   = "order.created"
	KindOrderCompleted = "order.completed"
	KindOrderExpired   = "order.expired"
)

// OrderEvent 订单状态变化事件：引擎写入 Redis Stream，Relay 转发 Kafka，消费者据此维护销量。
type OrderEvent struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	OrderNo    string    `json:"order_no"`
	ProductID  uint      `json:"product_id"`
	Quantity   int       `json:"quantity"`
	Amount     int64     `json:"amount"` // 分
	OccurredAt time.Time `json:"occurred_at"`
}

// NewOrderEvent 根据订单快照构造事件，EventID 随机生成。
func NewOrderEvent(kind string, o *model.Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventID:    uuid.NewString(),
		Kind:       kind,
		OrderNo:    o.OrderNo,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		Amount:     money.ToCents(o.TotalAmount),
		OccurredAt: at.UTC(),
	}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	switch e.Kind {
	case KindOrderCreated, KindOrderCompleted, KindOrderExpired:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	if e.ProductID == 0 {
		return fmt.Errorf("product_id is required")
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if e.Amount < 0 {
		return fmt.Errorf("amount must be >= 0")
	}
	return nil
}

// outbox Stream 中的字段：payload 为完整 JSON，kind/order_no 冗余一份便于 XRANGE 排查。
const streamPayloadField = "payload"

func (e OrderEvent) streamValues() (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"kind":             e.Kind,
		"order_no":         e.OrderNo,
		streamPayloadField: string(b),
	}, nil
}

// decodeStreamEvent 从 Stream 消息还原事件。
func decodeStreamEvent(values map[string]any) (OrderEvent, error) {
	var raw string
	switch v := values[streamPayloadField].(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return OrderEvent{}, fmt.Errorf("missing %s field", streamPayloadField)
	}

	var ev OrderEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return OrderEvent{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return OrderEvent{}, err
	}
	return ev, nil
}
