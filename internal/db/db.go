// Package db opens the database that stores tool server configurations.
package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSQLiteDSN is used when no database URL is configured.
const DefaultSQLiteDSN = "toolgate.db"

// NewDBConnection creates a new gorm connection.
// DSNs starting with postgres:// or postgresql:// open Postgres, anything else is treated as a sqlite file path.
// An empty DSN opens DefaultSQLiteDSN.
func NewDBConnection(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		dialector gorm.Dialector
		kind      string
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
		kind = "postgres"
	case dsn == "":
		dialector = sqlite.Open(DefaultSQLiteDSN)
		kind = "sqlite"
	default:
		dialector = sqlite.Open(dsn)
		kind = "sqlite"
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", kind, err)
	}
	log.Info("connected to database", zap.String("driver", kind))
	return db, nil
}
