// Package blob selects and re-exports the blob storage drivers. Packages
// outside the blob tree depend on blob.Store, never on a driver package.
package blob

import (
	"context"
	"fmt"

	"github.com/poudelalish/blockchain-inventory/internal/blob/core"
	"github.com/poudelalish/blockchain-inventory/internal/infra/blob/fs"
	memorystore "github.com/poudelalish/blockchain-inventory/internal/infra/blob/memory"
	infraS3 "github.com/poudelalish/blockchain-inventory/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Sentinel errors shared by all drivers.
var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// Config selects and configures a driver.
type Config struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// Open constructs the configured driver. An empty driver selects the
// filesystem driver rooted at FSRoot.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver, err := core.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverS3:
		store, err := infraS3.New(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 blob store: %w", err)
		}
		return store, nil
	case DriverMemory:
		return memorystore.New(), nil
	default:
		store, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, fmt.Errorf("open fs blob store: %w", err)
		}
		return store, nil
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewMockS3ForTests exposes the S3 driver over an in-memory HTTP fake for
// cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }

// ParseDriver resolves a configured driver name. Empty selects the
// filesystem driver.
func ParseDriver(raw string) (Driver, error) { return core.ParseDriver(raw) }
