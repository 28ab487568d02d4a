// Package database owns the PostgreSQL handle the durable trigger queue,
// cursor, retry records, and send log live on.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Pool defaults sized for a single dispatcher instance.
const (
	defaultMaxIdleConns    = 5
	defaultMaxOpenConns    = 15
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config controls connectivity and pool sizing. Zero pool values fall back to
// the defaults above.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        gormlogger.LogLevel
}

func (c Config) withDefaults() Config {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.LogLevel == 0 {
		c.LogLevel = gormlogger.Warn
	}
	return c
}

// Connect opens the gorm handle, creating the target database on first boot
// so a fresh environment comes up without manual setup.
func Connect(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is empty")
	}
	cfg = cfg.withDefaults()

	if err := createDatabaseIfMissing(cfg.DSN); err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// createDatabaseIfMissing connects to the maintenance database and creates
// the target database when it does not exist yet. Non-URL DSNs are left to
// the operator.
func createDatabaseIfMissing(dsn string) error {
	target, adminDSN, ok := splitAdminDSN(dsn)
	if !ok {
		return nil
	}

	admin, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return err
	}
	defer admin.Close()

	var one int
	err = admin.QueryRow("SELECT 1 FROM pg_database WHERE datname = $1", target).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = admin.Exec("CREATE DATABASE " + quoteIdent(target))
	return err
}

// splitAdminDSN extracts the target database name and rewrites the DSN to
// point at the postgres maintenance database.
func splitAdminDSN(dsn string) (target, adminDSN string, ok bool) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", false
	}

	target = strings.TrimPrefix(u.Path, "/")
	if target == "" || target == "postgres" {
		return "", "", false
	}

	admin := *u
	admin.Path = "/postgres"
	return target, admin.String(), true
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
