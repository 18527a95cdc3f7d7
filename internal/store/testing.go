package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
)

// NewTestStore opens a store on a fresh SQLite file in a temp directory and
// closes it when the test ends.
func NewTestStore(tb testing.TB, opts ...Option) *Store {
	tb.Helper()
	s, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    config.Secret(filepath.Join(tb.TempDir(), "feedback.db")),
	}, opts...)
	if err != nil {
		tb.Fatalf("open test store: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}
