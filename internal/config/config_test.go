package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_MAX_OPEN_CONNS", "20")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("LIFECYCLE_BACKOFF_INITIAL_MS", "25")
	t.Setenv("LIFECYCLE_FANOUT_WIDTH", "4")

	cfg := Load()

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "doccontrol.audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, 25*time.Millisecond, cfg.Lifecycle.BackoffInitial)
	assert.Equal(t, time.Second, cfg.Lifecycle.BackoffMax)
	assert.Equal(t, 4, cfg.Lifecycle.FanoutWidth)
	assert.Equal(t, 3, cfg.Lifecycle.MaxAttempts)
}

func TestAppConfig_Location(t *testing.T) {
	cfg := &AppConfig{Timezone: "Asia/Jakarta"}
	if loc := cfg.Location(); loc != time.UTC {
		assert.Equal(t, "Asia/Jakarta", loc.String())
	}

	cfg.Timezone = "Nowhere/Special"
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestMinIOConfig_Enabled(t *testing.T) {
	assert.False(t, MinIOConfig{}.Enabled())
	assert.True(t, MinIOConfig{Endpoint: "localhost:9000"}.Enabled())
}

func TestGetEnv(t *testing.T) {
	key := "TEST_ENV_VAR"
	os.Setenv(key, "value")
	defer os.Unsetenv(key)

	assert.Equal(t, "value", getEnv(key, "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	os.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	os.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	os.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	os.Unsetenv(key)
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	os.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	os.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	os.Unsetenv(key)
	assert.Equal(t, 10, getEnvInt(key, 10))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST_VAR", " a ,b,")
	assert.Equal(t, []string{"a", "b"}, getEnvList("TEST_LIST_VAR"))
	assert.Nil(t, getEnvList("TEST_LIST_UNSET"))
}
