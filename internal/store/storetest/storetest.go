// Package storetest provides database fixtures for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"duochat/internal/database"
	"duochat/internal/store"
)

// Open creates a fresh SQLite database under t.TempDir.
func Open(t *testing.T) (*sql.DB, *store.Store) {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, store.New(db)
}

// SeedUser inserts a user row.
func SeedUser(t *testing.T, db *sql.DB, id, fullName string) {
	t.Helper()

	_, err := db.Exec("INSERT INTO users (id, full_name, email, profile_pic, created_at) VALUES (?, ?, ?, ?, ?)",
		id, fullName, id+"@example.com", "", time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", id, err)
	}
}
