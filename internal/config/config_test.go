package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tables.Orders != "orders" || cfg.Tables.OrderNumbers != "order_numbers" {
		t.Fatalf("unexpected tables: %+v", cfg.Tables)
	}
	if cfg.Orders.MaxCreateAttempts != 3 {
		t.Fatalf("max_create_attempts = %d", cfg.Orders.MaxCreateAttempts)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Fatalf("ttl = %v", cfg.Idempotency.TTL)
	}
	if cfg.AWS.Region != "us-east-1" {
		t.Fatalf("region = %q", cfg.AWS.Region)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
app:
  http_addr: ":9090"
tables:
  orders: file-orders
  order_items: file-items
queues:
  order_events: https://sqs.local/000/events
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ORDERFLOW_TABLES__ORDERS", "env-orders")
	t.Setenv("ORDERFLOW_APP__RUN_LOCAL", "true")
	t.Setenv("ORDERFLOW_IDEMPOTENCY__TTL", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tables.Orders != "env-orders" {
		t.Fatalf("env should win over file, got %q", cfg.Tables.Orders)
	}
	if cfg.Tables.OrderItems != "file-items" {
		t.Fatalf("file should win over defaults, got %q", cfg.Tables.OrderItems)
	}
	if cfg.App.HTTPAddr != ":9090" || !cfg.App.RunLocal {
		t.Fatalf("unexpected app config: %+v", cfg.App)
	}
	if cfg.Queues.OrderEvents != "https://sqs.local/000/events" {
		t.Fatalf("queue = %q", cfg.Queues.OrderEvents)
	}
	if cfg.Idempotency.TTL != time.Hour {
		t.Fatalf("ttl = %v", cfg.Idempotency.TTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate_EmptyTable(t *testing.T) {
	t.Setenv("ORDERFLOW_TABLES__PAYMENT_INTENTS", " ")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "tables.payment_intents required") {
		t.Fatalf("expected table validation error, got %v", err)
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	t.Setenv("ORDERFLOW_ORDERS__MAX_CREATE_ATTEMPTS", "0")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}
