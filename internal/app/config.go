package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (COUPON_ prefix) or YAML config files.
type Config struct {
	DatabaseURL string `usage:"PostgreSQL connection URL (COUPON_DATABASE_URL or DATABASE_URL)"`
	Migrate     bool   `default:"true" usage:"Apply the embedded schema on start"`
	Redis       RedisConfig
	Kafka       KafkaConfig
	Ledger      LedgerConfig
}

// RedisConfig enables the coupon lookup cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address (host:port); empty disables caching"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"5m" usage:"Cached coupon lifetime"`
}

// KafkaConfig enables redemption events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers; empty disables events"`
	Topic   string   `default:"coupon.redemptions" usage:"Redemption events topic"`
}

// LedgerConfig bounds redemption commits.
type LedgerConfig struct {
	Timeout time.Duration `default:"2s" usage:"Maximum duration of a usage commit"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, and applies platform-specific defaults. Command-line flags are left
// to the binaries.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "COUPON",
		Files:     []string{"config.yaml", "/etc/coupon/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set COUPON_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL variable onto the
// COUPON_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
}
