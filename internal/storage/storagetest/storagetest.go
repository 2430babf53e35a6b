// Package storagetest opens throwaway databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"warden/internal/storage"
)

// NewSQLite opens a migrated SQLite gateway in a temp dir. The gateway is
// closed when the test ends.
func NewSQLite(t testing.TB) (*storage.SQLGateway, storage.Tables) {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "warden.db")
	gw, err := storage.NewSQL(ctx, storage.DriverSQLite, dsn, 1, 1)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })

	tables, err := storage.NewTables("")
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if _, err := storage.Migrate(ctx, gw, tables); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gw, tables
}
