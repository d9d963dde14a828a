package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaymentConfig 支付网关商户参数，进程启动时构造一次并注入到验签器与履约引擎。
type PaymentConfig struct {
	// 商户号（回调 pid 必须与之相等）与签名密钥
	MerchantPID string `yaml:"merchant_pid"`
	Secret      string `yaml:"secret"`

	GatewayURL string `yaml:"gateway_url"`
	NotifyURL  string `yaml:"notify_url"`
	ReturnURL  string `yaml:"return_url"`
}

// OrderConfig 订单超时与过期回收策略。
type OrderConfig struct {
	ExpireAfter  time.Duration `yaml:"expire_after"`
	ReapInterval time.Duration `yaml:"reap_interval"`
	ReapBatch    int           `yaml:"reap_batch"`
}

// LogConfig 日志级别与可选的滚动文件。
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	DBDSN    string `yaml:"db_dsn"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroupID string   `yaml:"kafka_group_id"`

	// Redis Stream outbox（引擎写入订单事件，Relay 异步转 Kafka）
	OrderEventStream   string `yaml:"order_event_stream"`
	OrderEventGroup    string `yaml:"order_event_group"`
	OrderEventConsumer string `yaml:"order_event_consumer"`

	// 下单接口限流
	OrderRateLimit  int           `yaml:"order_rate_limit"`
	OrderRateWindow time.Duration `yaml:"order_rate_window"`
	StockCacheTTL   time.Duration `yaml:"stock_cache_ttl"`

	// 管理接口令牌与用户 JWT 密钥
	AdminToken string `yaml:"admin_token"`
	JWTSecret  string `yaml:"jwt_secret"`

	Payment PaymentConfig `yaml:"payment"`
	Order   OrderConfig   `yaml:"order"`
	Log     LogConfig     `yaml:"log"`
}

// Defaults 返回未设置任何环境变量时的配置。
func Defaults() AppConfig {
	return AppConfig{
		HTTPAddr:           ":8080",
		DBDSN:              "card_shop.db",
		RedisAddr:          "localhost:6379",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaTopic:         "card-shop-order-events",
		KafkaGroupID:       "card-shop-sales-counter",
		OrderEventStream:   "card_shop:order_events",
		OrderEventGroup:    "card-shop-relay-group",
		OrderEventConsumer: "card-shop-relay-1",
		OrderRateLimit:     20,
		OrderRateWindow:    time.Minute,
		StockCacheTTL:      24 * time.Hour,
		AdminToken:         "dev-admin-token",
		Payment: PaymentConfig{
			GatewayURL: "https://credit.linux.do/epay/pay/submit.php",
		},
		Order: OrderConfig{
			ExpireAfter:  5 * time.Minute,
			ReapInterval: time.Minute,
			ReapBatch:    200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 读取并校验配置：默认值 <- CONFIG_FILE(yaml) <- 环境变量。
func Load() (AppConfig, error) {
	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitCSV(brokers)
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.OrderEventStream = getEnv("ORDER_EVENT_STREAM", cfg.OrderEventStream)
	cfg.OrderEventGroup = getEnv("ORDER_EVENT_GROUP", cfg.OrderEventGroup)
	cfg.OrderEventConsumer = getEnv("ORDER_EVENT_CONSUMER", cfg.OrderEventConsumer)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.Payment.MerchantPID = getEnv("LDC_CLIENT_ID", cfg.Payment.MerchantPID)
	cfg.Payment.Secret = getEnv("LDC_CLIENT_SECRET", cfg.Payment.Secret)
	cfg.Payment.GatewayURL = getEnv("LDC_GATEWAY", cfg.Payment.GatewayURL)
	cfg.Payment.NotifyURL = getEnv("LDC_NOTIFY_URL", cfg.Payment.NotifyURL)
	cfg.Payment.ReturnURL = getEnv("LDC_RETURN_URL", cfg.Payment.ReturnURL)

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("ORDER_RATE_LIMIT", cfg.OrderRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_RATE_LIMIT: %w", err)
	}
	cfg.OrderRateLimit = rateLimit

	if cfg.OrderRateWindow, err = getEnvDuration("ORDER_RATE_WINDOW", cfg.OrderRateWindow); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_RATE_WINDOW: %w", err)
	}
	if cfg.StockCacheTTL, err = getEnvDuration("STOCK_CACHE_TTL", cfg.StockCacheTTL); err != nil {
		return AppConfig{}, fmt.Errorf("invalid STOCK_CACHE_TTL: %w", err)
	}
	if cfg.Order.ExpireAfter, err = getEnvDuration("ORDER_EXPIRE_AFTER", cfg.Order.ExpireAfter); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_EXPIRE_AFTER: %w", err)
	}
	if cfg.Order.ReapInterval, err = getEnvDuration("ORDER_REAP_INTERVAL", cfg.Order.ReapInterval); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_REAP_INTERVAL: %w", err)
	}
	if cfg.Order.ReapBatch, err = getEnvInt("ORDER_REAP_BATCH", cfg.Order.ReapBatch); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_REAP_BATCH: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查必填项与取值范围。
func (c AppConfig) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.OrderRateLimit <= 0 {
		return fmt.Errorf("ORDER_RATE_LIMIT must be > 0")
	}
	if c.OrderRateWindow <= 0 {
		return fmt.Errorf("ORDER_RATE_WINDOW must be > 0")
	}
	if c.StockCacheTTL <= 0 {
		return fmt.Errorf("STOCK_CACHE_TTL must be > 0")
	}
	if c.Order.ExpireAfter <= 0 {
		return fmt.Errorf("ORDER_EXPIRE_AFTER must be > 0")
	}
	if c.Order.ReapInterval <= 0 {
		return fmt.Errorf("ORDER_REAP_INTERVAL must be > 0")
	}
	if c.Order.ReapBatch <= 0 {
		return fmt.Errorf("ORDER_REAP_BATCH must be > 0")
	}
	if c.Payment.MerchantPID == "" {
		return fmt.Errorf("LDC_CLIENT_ID must not be empty")
	}
	if c.Payment.Secret == "" {
		return fmt.Errorf("LDC_CLIENT_SECRET must not be empty")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if c.KafkaGroupID == "" {
		return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if c.OrderEventStream == "" {
		return fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if c.OrderEventGroup == "" {
		return fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if c.OrderEventConsumer == "" {
		return fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}
	return nil
}

// loadFile 以 yaml 文件覆盖默认值，文件中缺失的字段保持原值。
func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration 读取时长，支持 "90s"/"5m" 以及纯数字秒。
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
