package repository

import (
	"github.com/pkg/errors"

	"github.com/xiaot623/campusconnect/internal/config"
)

// NewPersister builds the persister selected by cfg.StoreBackend.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.StoreBackend {
	case "", "file":
		return NewFilePersister(cfg.StorePath), nil
	case "sqlite":
		return NewSQLitePersister(cfg.DatabaseURL)
	case "memory":
		return NewMemoryPersister(), nil
	default:
		return nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
