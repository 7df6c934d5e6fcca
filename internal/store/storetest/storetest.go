// Package storetest opens throwaway SQLite-backed repositories for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/blackmichael/post-pipeline/internal/store"
)

// Open returns a migrated repository backed by a fresh SQLite file in a
// temporary directory. It is closed when the test ends.
func Open(t testing.TB) *store.Repository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "posts.db")
	repo, err := store.Open(context.Background(), store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}
