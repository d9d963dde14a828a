package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// EventSink Relay 的下游，生产环境为 Kafka Producer。
type EventSink interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

// Relay 把 outbox Stream 中的订单事件转发到下游。
// 下游确认后才 XACK + XDEL；失败的消息留在 PEL，下一轮从 "0" 重新读取。
// 其它实例读走但长时间未确认的消息通过 XAUTOCLAIM 接管。
type Relay struct {
	rdb  *rd.Client
	sink EventSink

	stream   string
	group    string
	consumer string

	batch      int64
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	claimOff   bool
}

func NewRelay(rdb *rd.Client, sink EventSink, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:        rdb,
		sink:       sink,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		batch:      16,
		block:      2 * time.Second,
		claimIdle:  time.Minute,
		retryDelay: 300 * time.Millisecond,
	}
}

// Run 阻塞运行直到 ctx 结束。
func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		log.WithError(err).WithField("stream", r.stream).Error("relay: ensure consumer group")
		return
	}
	log.WithFields(log.Fields{"stream": r.stream, "group": r.group, "consumer": r.consumer}).Info("relay started")

	for ctx.Err() == nil {
		if _, err := r.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("relay: poll failed, will retry")
			sleepCtx(ctx, r.retryDelay)
		}
	}
}

// pollOnce 处理一批消息，优先级：本实例 PEL > 接管的超时消息 > 新消息。
// 返回成功转发的条数；遇到转发失败立即返回，剩余消息留给下一轮。
func (r *Relay) pollOnce(ctx context.Context) (int, error) {
	msgs, err := r.read(ctx, "0", -1)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		if msgs, err = r.claimStale(ctx); err != nil {
			return 0, fmt.Errorf("claim stale: %w", err)
		}
	}
	if len(msgs) == 0 {
		if msgs, err = r.read(ctx, ">", r.block); err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	forwarded := 0
	for _, xm := range msgs {
		if err := r.forward(ctx, xm); err != nil {
			return forwarded, fmt.Errorf("forward %s: %w", xm.ID, err)
		}
		forwarded++
	}
	return forwarded, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// read 读取消息；block < 0 时不阻塞（读取 PEL 时使用）。
func (r *Relay) read(ctx context.Context, id string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, id},
		Count:    r.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// claimStale 接管闲置超过 claimIdle 的消息。Redis < 6.2 不支持 XAUTOCLAIM，此时关闭接管。
func (r *Relay) claimStale(ctx context.Context) ([]rd.XMessage, error) {
	if r.claimOff {
		return nil, nil
	}
	msgs, _, err := r.rdb.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.claimIdle,
		Start:    "0-0",
		Count:    r.batch,
	}).Result()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			log.WithError(err).Warn("relay: XAUTOCLAIM unsupported, stale messages will not be claimed")
			r.claimOff = true
			return nil, nil
		}
		return nil, err
	}
	return msgs, nil
}

func (r *Relay) forward(ctx context.Context, xm rd.XMessage) error {
	ev, err := decodeStreamEvent(xm.Values)
	if err != nil {
		// 脏消息无法重试成功，确认后丢弃
		log.WithError(err).WithField("stream_id", xm.ID).Warn("relay: drop malformed event")
		return r.ack(ctx, xm.ID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.sink.Publish(pubCtx, ev); err != nil {
		return err
	}
	return r.ack(ctx, xm.ID)
}

func (r *Relay) ack(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
