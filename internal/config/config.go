// Package config loads service configuration from an optional YAML file
// with CLOB_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	OracleTopic string   `mapstructure:"oracle_topic"`
	OracleGroup string   `mapstructure:"oracle_group"`
}

type TenantConfig struct {
	ID              string   `mapstructure:"id"`
	Treasury        string   `mapstructure:"treasury"`
	Assets          []string `mapstructure:"assets"`
	PlacementFeeBps int64    `mapstructure:"placement_fee_bps"`
	TradeFeeBps     int64    `mapstructure:"trade_fee_bps"`
}

type LimitsConfig struct {
	MaxOrderAmount       int64 `mapstructure:"max_order_amount"`
	MaxOpenOrdersPerBook int   `mapstructure:"max_open_orders_per_book"`
}

type Config struct {
	ServiceName string        `mapstructure:"service_name"`
	Env         string        `mapstructure:"env"`
	LogLevel    string        `mapstructure:"log_level"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	Kafka       KafkaConfig   `mapstructure:"kafka"`
	Tenant      TenantConfig  `mapstructure:"tenant"`
	Limits      LimitsConfig  `mapstructure:"limits"`
}

// Load reads path, if given, then applies environment overrides such as
// CLOB_HTTP_PORT or CLOB_TENANT_ASSETS=USDT,USDC.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 {
		return errors.New("config: http.port must be positive")
	}
	if c.Tenant.ID == "" || c.Tenant.Treasury == "" {
		return errors.New("config: tenant.id and tenant.treasury required")
	}
	if len(c.Tenant.Assets) == 0 {
		return errors.New("config: tenant.assets required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.EventsTopic == "" {
		return errors.New("config: kafka.events_topic required when brokers are set")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "clob-engine")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", "30s")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "clob.events")
	v.SetDefault("kafka.oracle_topic", "oracle.resolutions")
	v.SetDefault("kafka.oracle_group", "clob-settlement")
	v.SetDefault("tenant.id", "default")
	v.SetDefault("tenant.treasury", "treasury")
	v.SetDefault("tenant.assets", []string{"USDT"})
	v.SetDefault("tenant.placement_fee_bps", 0)
	v.SetDefault("tenant.trade_fee_bps", 0)
	v.SetDefault("limits.max_order_amount", 0)
	v.SetDefault("limits.max_open_orders_per_book", 0)
}
