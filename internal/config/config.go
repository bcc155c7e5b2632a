package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	Env               string        `mapstructure:"APP_ENV"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	GRPCAddr          string        `mapstructure:"GRPC_ADDR"`
	Store             string        `mapstructure:"STORE"`
	MySQLDSN          string        `mapstructure:"MYSQL_DSN"`
	MySQLMaxOpenConns int           `mapstructure:"MYSQL_MAX_OPEN_CONNS"`
	MySQLMaxIdleConns int           `mapstructure:"MYSQL_MAX_IDLE_CONNS"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	AuthServiceURL    string        `mapstructure:"AUTH_SERVICE_URL"`
	WalletServiceURL  string        `mapstructure:"WALLET_SERVICE_URL"`
	UpstreamTimeout   time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	AuthCacheTTL      time.Duration `mapstructure:"AUTH_CACHE_TTL"`
	PayLockTTL        time.Duration `mapstructure:"PAY_LOCK_TTL"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	Log     LogConfig     `mapstructure:",squash"`
	Tracing TracingConfig `mapstructure:",squash"`
}

type LogConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"TRACING_ENABLED"`
	Endpoint    string  `mapstructure:"TRACING_ENDPOINT"`
	ServiceName string  `mapstructure:"TRACING_SERVICE_NAME"`
	SampleRate  float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

var defaults = map[string]any{
	"APP_ENV":              "development",
	"HTTP_ADDR":            ":8080",
	"GRPC_ADDR":            ":9090",
	"STORE":                StoreMySQL,
	"MYSQL_DSN":            "root:root@tcp(localhost:3306)/pharmacy?parseTime=true",
	"MYSQL_MAX_OPEN_CONNS": 50,
	"MYSQL_MAX_IDLE_CONNS": 10,
	"REDIS_ADDR":           "localhost:6379",
	"AUTH_SERVICE_URL":     "http://localhost:8001",
	"WALLET_SERVICE_URL":   "http://localhost:8002",
	"UPSTREAM_TIMEOUT":     "5s",
	"AUTH_CACHE_TTL":       "1m",
	"PAY_LOCK_TTL":         "30s",
	"RATE_LIMIT_RPS":       5,
	"RATE_LIMIT_BURST":     10,
	"SHUTDOWN_TIMEOUT":     "15s",
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "json",
	"TRACING_ENABLED":      false,
	"TRACING_ENDPOINT":     "localhost:4318",
	"TRACING_SERVICE_NAME": "pharmacy",
	"TRACING_SAMPLE_RATE":  1.0,
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory underneath it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		v.BindEnv(key)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreMySQL, StoreMemory, c.Store)
	}

	if c.AuthServiceURL == "" {
		return fmt.Errorf("AUTH_SERVICE_URL is required")
	}
	if c.WalletServiceURL == "" {
		return fmt.Errorf("WALLET_SERVICE_URL is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	if c.PayLockTTL <= 0 {
		return fmt.Errorf("PAY_LOCK_TTL must be positive, got %s", c.PayLockTTL)
	}
	if c.AuthCacheTTL < 0 {
		return fmt.Errorf("AUTH_CACHE_TTL cannot be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be within [0, 1], got %v", c.Tracing.SampleRate)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}
