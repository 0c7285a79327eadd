package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/poudelalish/blockchain-inventory/internal/infra/persistence/memory"
	"github.com/poudelalish/blockchain-inventory/internal/infra/persistence/postgres"
	"github.com/poudelalish/blockchain-inventory/internal/infra/persistence/sqlite"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// ParseStorageDriver resolves a driver name; empty selects sqlite.
func ParseStorageDriver(raw string) (StorageDriver, error) {
	switch d := StorageDriver(strings.ToLower(strings.TrimSpace(raw))); d {
	case "":
		return StorageSQLite, nil
	case StorageMemory, StorageSQLite, StoragePostgres:
		return d, nil
	}
	return "", fmt.Errorf("unknown storage driver %q", raw)
}

// StorageConfig selects and configures the ledger backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// OpenPersistentStore opens the backend named by cfg.Driver. The returned
// closer releases database handles and is a no-op for the memory store.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, io.Closer, error) {
	driver, err := ParseStorageDriver(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nopCloser{}, nil
	case StoragePostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = postgres.DefaultDSN
		}
		store, err := postgres.NewStore(ctx, dsn, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
