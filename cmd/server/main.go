package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"card_shop/internal/config"
	"card_shop/internal/db"
	"card_shop/internal/fulfillment"
	"card_shop/internal/logging"
	"card_shop/internal/payment"
	"card_shop/internal/queue"
	"card_shop/internal/reaper"
	"card_shop/internal/router"
	"card_shop/internal/store"
	redispkg "card_shop/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	closer := logging.Setup(cfg.Log)
	defer closer.Close()

	// 1. 数据库：DSN 自动识别 PostgreSQL / SQLite，并自动建表
	conn, err := db.Open(cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	s := store.New(conn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis 只用于限流、库存展示缓存与事件 outbox，不可用时降级运行
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, running without rate limit, stock cache and order events")
		_ = rdb.Close()
		rdb = nil
	}
	cancel()

	opts := []fulfillment.Option{}
	var stockCache *redispkg.StockCache
	if rdb != nil {
		stockCache = redispkg.NewStockCache(rdb, cfg.StockCacheTTL)
		opts = append(opts,
			fulfillment.WithStockCache(stockCache),
			fulfillment.WithEventPublisher(queue.NewOutbox(rdb, cfg.OrderEventStream)),
		)

		// 3. Redis Stream -> Kafka 转发，Kafka -> 销量统计
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
		go relay.Run(ctx)

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, s)
		defer consumer.Close()
		go consumer.Run(ctx)
	}

	engine := fulfillment.New(s, payment.MD5Verifier{}, cfg.Payment, cfg.Order, opts...)

	// 4. 过期订单回收
	reaper.New(s.Orders, engine, cfg.Order).Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger())
	router.Setup(r, router.Deps{
		Engine: engine,
		Store:  s,
		Redis:  rdb,
		Stock:  stockCache,
		Config: cfg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("card shop listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
