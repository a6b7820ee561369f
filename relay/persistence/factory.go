package persistence

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskrelay/taskrelay/internal/cache"
)

// Options selects and tunes the storage backend.
type Options struct {
	// Type picks the backend implementation.
	Type StoreType

	// DB is the open GORM connection. Required for StoreTypeGorm.
	DB *gorm.DB

	// AutoMigrate creates the schema on startup. Development convenience;
	// production uses versioned migrations.
	AutoMigrate bool

	// Cache enables the Redis chain cache when non-nil.
	Cache    *cache.Manager
	CacheTTL time.Duration
}

// New builds a Backend from options. When a cache manager is supplied the
// backend is wrapped so chain reads go through Redis.
func New(opts Options, logger *zap.Logger) (Backend, error) {
	var backend Backend

	switch opts.Type {
	case StoreTypeMemory, "":
		backend = NewMemoryStore(logger)
	case StoreTypeGorm:
		if opts.DB == nil {
			return nil, fmt.Errorf("gorm backend requires an open database connection")
		}
		store := NewGormStore(opts.DB, logger)
		if opts.AutoMigrate {
			if err := store.AutoMigrate(); err != nil {
				return nil, err
			}
		}
		backend = store
	default:
		return nil, fmt.Errorf("unknown store type: %s", opts.Type)
	}

	if opts.Cache != nil {
		backend = NewCachedLedger(backend, opts.Cache, opts.CacheTTL, logger)
	}
	return backend, nil
}
