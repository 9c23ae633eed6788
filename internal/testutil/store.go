// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/xiaot623/campusconnect/internal/repository"
)

// NewTestStore returns an opened in-memory session store closed at test cleanup.
func NewTestStore(t *testing.T, opts ...repository.Option) *repository.Store {
	t.Helper()
	return openStore(t, repository.NewMemoryPersister(), opts...)
}

// NewTestSQLiteStore returns an opened store backed by an in-memory SQLite database.
func NewTestSQLiteStore(t *testing.T, opts ...repository.Option) *repository.Store {
	t.Helper()

	p, err := repository.NewSQLitePersister(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite persister: %v", err)
	}
	return openStore(t, p, opts...)
}

func openStore(t *testing.T, p repository.Persister, opts ...repository.Option) *repository.Store {
	t.Helper()

	s := repository.NewStore(p, opts...)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
