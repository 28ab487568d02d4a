package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{DSN: "postgres://localhost:5432/agent_server"}.withDefaults()

	require.Equal(t, defaultMaxIdleConns, cfg.MaxIdleConns)
	require.Equal(t, defaultMaxOpenConns, cfg.MaxOpenConns)
	require.Equal(t, defaultConnMaxLifetime, cfg.ConnMaxLifetime)
	require.Equal(t, gormlogger.Warn, cfg.LogLevel)
}

func TestConfigWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		MaxIdleConns:    2,
		MaxOpenConns:    9,
		ConnMaxLifetime: time.Hour,
		LogLevel:        gormlogger.Info,
	}.withDefaults()

	require.Equal(t, 2, cfg.MaxIdleConns)
	require.Equal(t, 9, cfg.MaxOpenConns)
	require.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	require.Equal(t, gormlogger.Info, cfg.LogLevel)
}

func TestSplitAdminDSN(t *testing.T) {
	target, adminDSN, ok := splitAdminDSN("postgres://user:pw@db:5432/agent_server?sslmode=disable")
	require.True(t, ok)
	require.Equal(t, "agent_server", target)
	require.Equal(t, "postgres://user:pw@db:5432/postgres?sslmode=disable", adminDSN)
}

func TestSplitAdminDSNSkipsMaintenanceDatabase(t *testing.T) {
	_, _, ok := splitAdminDSN("postgres://user:pw@db:5432/postgres")
	require.False(t, ok)

	_, _, ok = splitAdminDSN("postgres://user:pw@db:5432/")
	require.False(t, ok)
}

func TestQuoteIdent(t *testing.T) {
	require.Equal(t, `"agent_server"`, quoteIdent("agent_server"))
	require.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
