package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/storage/postgres"
)

// Stores bundles the project and file storage backends selected at
// construction time.
type Stores struct {
	Projects ProjectStorage
	Files    FileStorage

	db *sql.DB
}

// New creates the storage backends named by the configuration.
func New(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Stores, error) {
	switch cfg.Storage.Backend {
	case "memory":
		store := NewMemoryStore()
		return &Stores{Projects: store, Files: store}, nil
	case "postgres":
		db, err := postgres.Open(ctx, postgres.Config{
			URL:             cfg.Storage.PostgresURL,
			PingTimeout:     cfg.Storage.PingTimeout(),
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := postgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("connected to postgres storage")
		return &Stores{Projects: store, Files: store, db: db}, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

// Close releases the underlying database handle, if any.
func (s *Stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
