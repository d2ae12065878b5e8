// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"testing"

	"campaign-dispatch/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Open returns a migrated in-memory sqlite database closed when the test ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
