package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg := LoadConfig()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://localhost:9090", cfg.PublicBaseURL)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("IDLE_TIMEOUT", "15s")
	t.Setenv("ALLOWED_ORIGINS", "https://crm.example.com, ,https://admin.example.com")
	t.Setenv("PUBLIC_BASE_URL", "https://chat.example.com/")

	cfg := LoadConfig()

	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 15*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []string{"https://crm.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://chat.example.com", cfg.PublicBaseURL)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SEND_BUFFER", "lots")
	t.Setenv("EDIT_WINDOW", "-1m")
	t.Setenv("ALLOWED_ORIGINS", " , ")

	assert.Equal(t, 256, getEnvInt("SEND_BUFFER", 256))
	assert.Equal(t, 15*time.Minute, getEnvDuration("EDIT_WINDOW", 15*time.Minute))
	assert.Equal(t, []string{"x"}, getEnvList("ALLOWED_ORIGINS", []string{"x"}))
}
