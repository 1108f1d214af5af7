package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
app:
  port: 9090
  mode: test
jwt:
  secret_key: secret
database:
  host: db
  port: 5432
  user: u
  password: p
  name: parkshare
redis:
  host: cache
  port: 6379
nats:
  url: nats://bus:4222
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "web.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "secret", cfg.JWT.SecretKey)
	assert.Equal(t, "parkshare-identity", cfg.JWT.Issuer, "default issuer")
	assert.Equal(t, 2*time.Hour, cfg.JWT.AccessExpire, "default expiry")
	assert.Equal(t, "cache:6379", cfg.Redis.GetAddr())
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "postgres://u:p@db:5432/parkshare?sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, 16, cfg.Subscriber.WorkerCount)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WEB_PORT", "7000")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("POSTGRES_HOST", "pg.internal")
	t.Setenv("NATS_URL", "nats://env:4222")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.App.Port)
	assert.Equal(t, "from-env", cfg.JWT.SecretKey)
	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
