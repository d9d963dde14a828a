// Package reaper 周期性回收超时未支付的订单并释放其卡密。
package reaper

import (
	"context"
	"sync/atomic"
	"time"

	"card_shop/internal/config"
	"card_shop/internal/model"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const sweepParallelism = 4

// OrderLister 列出已过期仍为 pending 的订单。
type OrderLister interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
}

// Expirer 单笔订单的过期迁移，只有 CAS 成功才会释放卡密。
type Expirer interface {
	ExpireOrder(ctx context.Context, orderNo string, now time.Time) (bool, error)
}

// Reaper 过期订单回收器。
type Reaper struct {
	orders    OrderLister
	expirer   Expirer
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func New(orders OrderLister, expirer Expirer, cfg config.OrderConfig) *Reaper {
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.ReapBatch
	if batch <= 0 {
		batch = 200
	}
	return &Reaper{
		orders:    orders,
		expirer:   expirer,
		interval:  interval,
		batchSize: batch,
		now:       time.Now,
	}
}

// Start 在后台 goroutine 中运行回收循环，ctx 取消后退出。
func (r *Reaper) Start(ctx context.Context) {
	if r == nil {
		return
	}
	go r.run(ctx)
	log.Infof("order reaper started (interval=%s batch=%d)", r.interval, r.batchSize)
}

func (r *Reaper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.SweepOnce(ctx, r.now()); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("order reaper: sweep failed")
		}
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// SweepOnce 处理一批过期订单，返回本轮实际过期的数量。
// 单笔失败只记录日志，不影响同批其它订单，下一轮会重新拾取。
func (r *Reaper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	orders, err := r.orders.ListExpiredPending(ctx, now, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, o := range orders {
		orderNo := o.OrderNo
		g.Go(func() error {
			ok, err := r.expirer.ExpireOrder(gctx, orderNo, now)
			if err != nil {
				log.WithError(err).WithField("order_no", orderNo).Warn("order reaper: expire failed")
				return nil
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(expired.Load())
	if n > 0 {
		log.Infof("order reaper: expired %d orders", n)
	}
	return n, nil
}
