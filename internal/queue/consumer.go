package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"card_shop/internal/model"
	"card_shop/internal/store"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Consumer 消费订单事件并维护商品销量。
// 事件处理成功（或确认无法处理）后才提交 offset，保证至少一次；重复投递由 Apply 去重。
type Consumer struct {
	r     messageReader
	store *store.Store

	minBackoff time.Duration
	maxBackoff time.Duration
}

// messageReader *kafka.Reader 中 Consumer 用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewConsumer(brokers []string, topic, groupID string, s *store.Store) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     time.Second,
			StartOffset: kafka.FirstOffset,
		}),
		store:      s,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 阻塞消费直到 ctx 结束；拉取失败按指数退避重试，不会退出。
func (c *Consumer) Run(ctx context.Context) {
	backoff := c.minBackoff
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("retry_in", backoff).Error("consumer: fetch message, will retry")
			sleepCtx(ctx, backoff)
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff
		if !c.handle(ctx, m) {
			return
		}
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("offset", m.Offset).Warn("consumer: commit offset")
		}
	}
}

// handle 返回 false 表示 ctx 已结束、消息未处理完，不应提交 offset。
// 脏消息记日志后跳过；Apply 出错按指数退避重试。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	ev, err := decodeKafkaMessage(m)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"partition": m.Partition, "offset": m.Offset}).Warn("consumer: skip malformed event")
		return true
	}

	backoff := c.minBackoff
	for {
		err := Apply(ctx, c.store, ev)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.WithError(err).WithFields(log.Fields{"order_no": ev.OrderNo, "event_id": ev.EventID}).Error("consumer: apply order event, retrying")
		sleepCtx(ctx, backoff)
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func decodeKafkaMessage(m kafka.Message) (OrderEvent, error) {
	var ev OrderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return OrderEvent{}, err
	}
	return ev, nil
}

// Apply 在一个事务里记录 event_id 并累加销量，只处理 order.completed。
// 重复事件触发 event_id 唯一约束，视为已处理。
func Apply(ctx context.Context, s *store.Store, ev OrderEvent) error {
	if ev.Kind != KindOrderCompleted {
		return nil
	}
	err := s.Transaction(ctx, func(tx *store.Store) error {
		rec := &model.ProcessedEvent{EventID: ev.EventID, OrderNo: ev.OrderNo, Kind: ev.Kind}
		if err := tx.DB().WithContext(ctx).Create(rec).Error; err != nil {
			return err
		}
		return tx.Products.IncrementSales(ctx, ev.ProductID, ev.Quantity)
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return nil
	case errors.Is(err, store.ErrNotFound):
		// 商品已删除，没有可累加的目标
		log.WithField("product_id", ev.ProductID).Warn("consumer: product gone, event dropped")
		return nil
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "duplicate key")
}
