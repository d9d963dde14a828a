package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka 消息头
const (
	headerEventID = "event_id"
	headerKind    = "kind"
)

// Producer 把订单事件写入 Kafka，实现 EventSink。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 以 order_no 为 key 做 Hash 分区，同一订单的事件保持先后顺序；
// RequireAll 等待全部 ISR 确认后才视为成功，Relay 据此决定是否 ACK outbox。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			MaxAttempts:            5,
			WriteTimeout:           5 * time.Second,
			BatchTimeout:           20 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

func (p *Producer) Publish(ctx context.Context, ev OrderEvent) error {
	msg, err := kafkaMessage(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", ev.EventID, err)
	}
	return nil
}

func kafkaMessage(ev OrderEvent) (kafka.Message, error) {
	if err := ev.Validate(); err != nil {
		return kafka.Message{}, err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode order event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.OrderNo),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(ev.EventID)},
			{Key: headerKind, Value: []byte(ev.Kind)},
		},
	}, nil
}
