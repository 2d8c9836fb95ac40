// Package testutil provides fresh, migrated ledger databases for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"LegisGraph/backend/go/internal/database/mysql"
	"LegisGraph/backend/go/pkg/logger"

	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// DB returns an isolated in-memory sqlite database with every table migrated.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:kgtest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := mysql.OpenSQLite(dsn, nil)
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}
	if err := mysql.AutoMigrate(db); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Logger returns a logger tagged with the test name.
func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.New("kg-test", tb.Name(), "")
}
