package queue

import (
	"context"
	"fmt"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 把订单事件追加到 Redis Stream，由 Relay 异步转发到 Kafka。
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: 100000}
}

// PublishOrderEvent XADD 一条事件，Stream 长度近似裁剪到 maxLen。
func (o *Outbox) PublishOrderEvent(ctx context.Context, ev OrderEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	values, err := ev.streamValues()
	if err != nil {
		return fmt.Errorf("outbox: encode %s: %w", ev.EventID, err)
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}
