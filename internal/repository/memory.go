package repository

import (
	"context"

	"github.com/xiaot623/campusconnect/internal/domain"
)

// MemoryPersister discards writes. Sessions live only as long as the process.
type MemoryPersister struct{}

// NewMemoryPersister creates a non-durable persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (*MemoryPersister) Load(context.Context) ([]*domain.Session, error) { return nil, nil }

func (*MemoryPersister) SaveSession(context.Context, *domain.Session) error { return nil }

func (*MemoryPersister) AppendMessage(context.Context, *domain.Session, domain.Message) error {
	return nil
}

func (*MemoryPersister) Close() error { return nil }
