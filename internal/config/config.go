package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides, e.g. ORDERFLOW_TABLES__ORDERS.
const EnvPrefix = "ORDERFLOW_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		RunLocal bool   `koanf:"run_local"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	AWS struct {
		Region   string `koanf:"region"`
		Endpoint string `koanf:"endpoint"` // local stacks only
	} `koanf:"aws"`

	Tables struct {
		Orders         string `koanf:"orders"`
		OrderItems     string `koanf:"order_items"`
		PaymentIntents string `koanf:"payment_intents"`
		OrderNumbers   string `koanf:"order_numbers"`
		Idempotency    string `koanf:"idempotency"`
	} `koanf:"tables"`

	Queues struct {
		OrderEvents string `koanf:"order_events"`
	} `koanf:"queues"`

	Orders struct {
		MaxCreateAttempts int `koanf:"max_create_attempts"`
	} `koanf:"orders"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Metrics struct {
		Namespace string `koanf:"namespace"`
	} `koanf:"metrics"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"app.name":                   "orderflow-api",
		"app.http_addr":              ":8080",
		"app.run_local":              false,
		"app.log_file":               "",
		"aws.region":                 "us-east-1",
		"tables.orders":              "orders",
		"tables.order_items":         "order_items",
		"tables.payment_intents":     "payment_intents",
		"tables.order_numbers":       "order_numbers",
		"tables.idempotency":         "idempotency",
		"orders.max_create_attempts": 3,
		"idempotency.ttl":            "48h",
		"metrics.namespace":          "OrderFlow",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// ORDERFLOW_ environment variables, in increasing precedence. An empty
// path skips the file; a path that does not exist is an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// ORDERFLOW_TABLES__ORDERS -> tables.orders
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv calls Load with the file named by ORDERFLOW_CONFIG, if any.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv(EnvPrefix + "CONFIG"))
}

func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"tables.orders":          c.Tables.Orders,
		"tables.order_items":     c.Tables.OrderItems,
		"tables.payment_intents": c.Tables.PaymentIntents,
		"tables.order_numbers":   c.Tables.OrderNumbers,
		"tables.idempotency":     c.Tables.Idempotency,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s required", name))
		}
	}
	if c.App.RunLocal && c.App.HTTPAddr == "" {
		errs = append(errs, errors.New("app.http_addr required when app.run_local is set"))
	}
	if c.Orders.MaxCreateAttempts < 1 {
		errs = append(errs, errors.New("orders.max_create_attempts must be at least 1"))
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, errors.New("idempotency.ttl must be positive"))
	}
	return errors.Join(errs...)
}
