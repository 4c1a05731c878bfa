package store

import (
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(WithDSN(filepath.Join(t.TempDir(), "steptimer_test.db")))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreConformance(t *testing.T) {
	testStoreConformance(t, newTestSQLiteStore(t))
}

func TestNewSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error when DSN is not set")
	}
}

func TestNewSQLiteStoreCreatesMissingDirectories(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "dir", "steptimer_test.db")
	st, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("failed to create SQLite store in nested directory: %v", err)
	}
	st.Close()
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "steptimer_test.db")
	st, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	st.Close()

	st, err = NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("second open against existing schema: %v", err)
	}
	st.Close()
}
