package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5000", cfg.Server.Addr())
	assert.Equal(t, "rvs_db", cfg.Database.Name)
	assert.Equal(t, "https://ws.everify.gov.ph/api", cfg.Everify.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Everify.Timeout)
	assert.Equal(t, uint(3), cfg.Audit.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Audit.RetryBase)
	assert.Equal(t, 2*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Session.LivenessTimeout)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Faces.UseS3())
}

func TestLoadConfig_LegacyEnv(t *testing.T) {
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("CLIENT_SECRET", "legacy-secret")
	t.Setenv("PGDATABASE", "records")
	t.Setenv("PGPORT", "6543")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "legacy-id", cfg.Everify.ClientID)
	assert.Equal(t, "legacy-secret", cfg.Everify.ClientSecret)
	assert.Equal(t, "records", cfg.Database.Name)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.NoError(t, cfg.ValidateRelay())
}

func TestLoadConfig_PrefixedEnvWins(t *testing.T) {
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("EVERIFY_CLIENT_ID", "new-id")
	t.Setenv("SESSION_LIVENESS_TIMEOUT", "45s")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "new-id", cfg.Everify.ClientID)
	assert.Equal(t, 45*time.Second, cfg.Session.LivenessTimeout)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 5100
redis:
  addr: "localhost:6379"
faces:
  s3_bucket: "faces"
`), 0o600))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 5100, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Faces.UseS3())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_Flags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("server.port", 5000, "")
	fs.String("logger.level", "info", "")
	require.NoError(t, fs.Parse([]string{"--server.port=6000"}))

	cfg, err := LoadConfig("", fs)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestConfig_ValidateRelay(t *testing.T) {
	cfg := &Config{Everify: EverifyConfig{BaseURL: "https://api.test"}}

	err := cfg.ValidateRelay()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
	assert.Contains(t, err.Error(), "client_secret")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "rvs", Password: "p@ss word", Name: "rvs_db", SSLMode: "disable"}
	assert.Equal(t, "postgres://rvs:p%40ss%20word@db:5432/rvs_db?sslmode=disable", d.DSN())

	d.URL = "postgres://other/db"
	assert.Equal(t, "postgres://other/db", d.DSN())
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
