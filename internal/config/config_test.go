package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LDC_CLIENT_ID", "1001")
	t.Setenv("LDC_CLIENT_SECRET", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Order.ExpireAfter != 5*time.Minute {
		t.Fatalf("expected expire_after 5m, got %s", cfg.Order.ExpireAfter)
	}
	if cfg.Order.ReapInterval != time.Minute {
		t.Fatalf("expected reap_interval 1m, got %s", cfg.Order.ReapInterval)
	}
	if cfg.Payment.MerchantPID != "1001" || cfg.Payment.Secret != "s3cret" {
		t.Fatalf("unexpected payment config: %+v", cfg.Payment)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadRequiresMerchantSecret(t *testing.T) {
	t.Setenv("LDC_CLIENT_ID", "1001")
	t.Setenv("LDC_CLIENT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when LDC_CLIENT_SECRET is missing")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
db_dsn: "file.db"
order:
  expire_after: 10m
  reap_batch: 50
payment:
  merchant_pid: "from-file"
  secret: "file-secret"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LDC_CLIENT_ID", "from-env")
	t.Setenv("ORDER_REAP_INTERVAL", "30")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDSN != "file.db" {
		t.Fatalf("expected db_dsn from file, got %q", cfg.DBDSN)
	}
	if cfg.Order.ExpireAfter != 10*time.Minute {
		t.Fatalf("expected expire_after 10m, got %s", cfg.Order.ExpireAfter)
	}
	if cfg.Order.ReapBatch != 50 {
		t.Fatalf("expected reap_batch 50, got %d", cfg.Order.ReapBatch)
	}
	if cfg.Order.ReapInterval != 30*time.Second {
		t.Fatalf("expected reap_interval 30s, got %s", cfg.Order.ReapInterval)
	}
	if cfg.Payment.MerchantPID != "from-env" {
		t.Fatalf("expected env to override merchant pid, got %q", cfg.Payment.MerchantPID)
	}
	if cfg.Payment.Secret != "file-secret" {
		t.Fatalf("expected secret from file, got %q", cfg.Payment.Secret)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ORDER_EXPIRE_AFTER", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid ORDER_EXPIRE_AFTER")
	}
}
