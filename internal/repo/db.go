// Package repo is the persistence layer of the gateway: sessions, leads,
// idempotency records and rate windows, stored with GORM on SQLite (pure Go
// driver, no cgo).
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-callback-backend/internal/domain"
)

// slowQuery is the threshold above which gorm logs a statement.
const slowQuery = 200 * time.Millisecond

// filePragmas apply to on-disk databases; busy_timeout and foreign_keys
// also apply in memory.
var (
	filePragmas   = []string{"journal_mode=WAL", "synchronous=NORMAL"}
	commonPragmas = []string{"foreign_keys=ON", "busy_timeout=5000"}
)

// gormWriter sends gorm's log lines to zerolog.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newGormLogger logs slow statements and errors, except record-not-found,
// which is the normal outcome of a session or idempotency lookup miss.
func newGormLogger() logger.Interface {
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// isMemoryDSN reports whether dsn names an in-memory database.
func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// OpenSQLite opens (or creates) the database at path, applies the PRAGMAs
// and sizes the pool. A missing parent directory is an error rather than a
// confusing driver failure.
func OpenSQLite(path string) (*gorm.DB, error) {
	memory := isMemoryDSN(path)
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, err
	}

	pragmas := commonPragmas
	if !memory {
		pragmas = append(append([]string{}, filePragmas...), commonPragmas...)
	}
	for _, p := range pragmas {
		if err := db.Exec("PRAGMA " + p).Error; err != nil {
			return nil, fmt.Errorf("pragma %s: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// UseTracing installs the OpenTelemetry plugin so every query becomes a span
// under the request's trace.
func UseTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates every table the gateway owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Session{},
		&domain.Lead{},
		&domain.IdempotencyRecord{},
		&domain.RateWindow{},
	)
}
