package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, ":50051", cfg.GRPC.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "simulator", cfg.Payment.Mode)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
storage:
  backend: sqlite
  dsn: "file:test.db"
payment:
  mode: http
  base_url: "http://pay.local"
  timeout: 3s
`), 0o644))

	t.Setenv("HIVE_HTTP_ADDR", ":9100")
	t.Setenv("HIVE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "http://pay.local", cfg.Payment.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "k1:9092,k2:9092", cfg.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HIVE_STORAGE_BACKEND", "postgres")
	t.Setenv("HIVE_PAYMENT_MODE", "cash")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "payment.mode")
}

func TestValidate_LockTTLMustOutliveCharge(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Redis.Enabled = true
	cfg.Payment.Mode = "http"
	cfg.Payment.Timeout = 30 * time.Second
	cfg.Redis.LockTTL = 30 * time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.lock_ttl")

	cfg.Redis.LockTTL = 31 * time.Second
	assert.NoError(t, cfg.Validate())

	// without Redis the in-process locker has no lease
	cfg.Redis.Enabled = false
	cfg.Redis.LockTTL = time.Second
	assert.NoError(t, cfg.Validate())
}

func TestLoad_LockTTLFromEnv(t *testing.T) {
	t.Setenv("HIVE_REDIS_ENABLED", "true")
	t.Setenv("HIVE_PAYMENT_MODE", "http")
	t.Setenv("HIVE_PAYMENT_TIMEOUT", "45s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.lock_ttl")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
