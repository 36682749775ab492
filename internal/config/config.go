// Package config loads service settings with viper. Every key has a
// default; a YAML file and HIVE_* environment variables override them,
// e.g. HIVE_STORAGE_BACKEND=mysql.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rl1809/hive-market/internal/logger"
)

const envPrefix = "HIVE"

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Payment PaymentConfig `mapstructure:"payment"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     logger.Config `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AccountHeader   string        `mapstructure:"account_header"`
}

type GRPCConfig struct {
	Addr        string `mapstructure:"addr"`
	WatchBuffer int    `mapstructure:"watch_buffer"` // events queued per watch stream
}

type StorageConfig struct {
	Backend         string        `mapstructure:"backend"` // memory, mysql, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockRetry time.Duration `mapstructure:"lock_retry"`
}

type PaymentConfig struct {
	Mode             string        `mapstructure:"mode"` // simulator or http
	Currency         string        `mapstructure:"currency"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SimulatorLimit   string        `mapstructure:"simulator_limit"`
	SimulatorLatency time.Duration `mapstructure:"simulator_latency"`
}

type KafkaConfig struct {
	Brokers      string `mapstructure:"brokers"` // comma separated, empty disables the relay
	OrderTopic   string `mapstructure:"order_topic"`
	CatalogTopic string `mapstructure:"catalog_topic"`
	Buffer       int    `mapstructure:"buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.account_header", "X-Account-ID")

	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("grpc.watch_buffer", 64)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dsn", "root:root@tcp(localhost:3306)/hivemarket?parseTime=true")
	v.SetDefault("storage.max_open_conns", 50)
	v.SetDefault("storage.max_idle_conns", 25)
	v.SetDefault("storage.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("storage.migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.lock_retry", 10*time.Millisecond)

	v.SetDefault("payment.mode", "simulator")
	v.SetDefault("payment.currency", "EUR")
	v.SetDefault("payment.base_url", "http://localhost:9090")
	v.SetDefault("payment.api_key", "")
	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("payment.simulator_limit", "0")
	v.SetDefault("payment.simulator_latency", time.Duration(0))

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.order_topic", "hive.orders")
	v.SetDefault("kafka.catalog_topic", "hive.catalog")
	v.SetDefault("kafka.buffer", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/hive-market.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// Load reads path (optional) and the environment into a Config.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "memory", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	switch c.Payment.Mode {
	case "simulator":
	case "http":
		if c.Payment.BaseURL == "" {
			errs = append(errs, errors.New("payment.base_url is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("payment.mode: unknown mode %q", c.Payment.Mode))
	}
	if c.Payment.Currency == "" {
		errs = append(errs, errors.New("payment.currency is required"))
	}
	// the order lock is held across the charge
	if c.Redis.Enabled && c.Redis.LockTTL <= c.chargeBound() {
		errs = append(errs, fmt.Errorf("redis.lock_ttl (%s) must exceed the payment charge bound (%s)", c.Redis.LockTTL, c.chargeBound()))
	}
	if c.GRPC.WatchBuffer <= 0 {
		errs = append(errs, errors.New("grpc.watch_buffer must be positive"))
	}
	return errors.Join(errs...)
}

// chargeBound is the longest a single charge may take in the configured mode.
func (c Config) chargeBound() time.Duration {
	if c.Payment.Mode == "simulator" {
		return c.Payment.SimulatorLatency
	}
	return c.Payment.Timeout
}
