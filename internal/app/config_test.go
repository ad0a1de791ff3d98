package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "file-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "orbit-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 5*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 48*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 2*time.Minute, cfg.Auth.Verification.CodeTTL)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.False(t, cfg.Email.SMTP.UseTLS)

	require.False(t, cfg.Retention.Enabled)
	require.Equal(t, "@daily", cfg.Retention.Schedule)
	require.Equal(t, 240*time.Hour, cfg.Retention.SoftDeleteAge)
	require.Equal(t, 24*time.Hour, cfg.Retention.HardDeleteGrace)
	require.Equal(t, 50, cfg.Retention.BatchSize)
	require.True(t, cfg.Retention.RunOnceAtStart)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/orbit.sqlite", cfg.Database.Path)

	require.Empty(t, cfg.Auth.JWT.Secret)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 720*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 10*time.Minute, cfg.Auth.Verification.CodeTTL)

	require.False(t, cfg.Email.SMTP.Enabled)
	require.True(t, cfg.Retention.Enabled)
	require.Equal(t, "@hourly", cfg.Retention.Schedule)
	require.Equal(t, 720*time.Hour, cfg.Retention.SoftDeleteAge)
	require.Equal(t, 168*time.Hour, cfg.Retention.HardDeleteGrace)
	require.Equal(t, 500, cfg.Retention.BatchSize)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestDatabaseSettings(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres = DBAuthConfig{
		Host:     "pg.internal",
		Port:     5432,
		Database: "orbit",
		Username: "svc",
		Password: "pw",
	}

	settings := cfg.DatabaseSettings()
	require.Equal(t, "postgres", settings.Driver)
	require.Equal(t, "pg.internal", settings.Host)
	require.Equal(t, "orbit", settings.Name)
	require.Equal(t, "svc", settings.User)

	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "./orbit.sqlite"
	settings = cfg.DatabaseSettings()
	require.Equal(t, "./orbit.sqlite", settings.Path)
	require.Empty(t, settings.Host)
}
