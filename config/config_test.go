package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Business.ViewFlushInterval)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)
	assert.True(t, cfg.Business.ServiceFeeFlat.IsZero())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SERVICE_FEE_PERCENT", "2.5")
	t.Setenv("SERVICE_FEE_FLAT", "0.30")
	t.Setenv("JWT_TTL_HOURS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "2.5", cfg.Business.ServiceFeePercent.String())
	assert.Equal(t, "0.3", cfg.Business.ServiceFeeFlat.String())
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")
	t.Setenv("SERVICE_FEE_FLAT", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_DB")
	assert.Contains(t, err.Error(), "SERVICE_FEE_FLAT")
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
