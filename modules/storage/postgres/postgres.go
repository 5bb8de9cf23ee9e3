// Package postgres implements the storage ports (destination health, audit
// log, archives, retention policies) on PostgreSQL via pgx. Per-destination
// atomicity uses row locks inside short transactions.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the postgres module settings.
type Config struct {
	// URL is the connection string. Empty falls back to POSTGRES_URL, then
	// DATABASE_URL.
	URL string `yaml:"url"`
}

// Module owns the connection pool and registers the storage services.
type Module struct {
	config Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.postgres",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if resolveURL(m.config.URL) == "" {
		return fmt.Errorf("storage.postgres: no connection URL (set url, POSTGRES_URL, or DATABASE_URL)")
	}
	return nil
}

// resolveURL applies the environment fallbacks.
func resolveURL(configured string) string {
	if configured != "" {
		return configured
	}
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// Provision implements core.Provisioner: connect, migrate, and register the
// storage services.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	stores, pool, err := Open(context.Background(), resolveURL(m.config.URL))
	if err != nil {
		return err
	}
	m.pool = pool

	ctx.RegisterService("storage.health", stores.Health)
	ctx.RegisterService("storage.destinations", stores.Destinations)
	ctx.RegisterService("storage.archive", stores.Archives)
	ctx.RegisterService("storage.records", stores.Records)
	ctx.RegisterService("storage.policies", stores.Policies)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.pool != nil {
		m.pool.Close()
	}
	return nil
}

// Stores bundles every port implementation backed by one pool.
type Stores struct {
	Health       *HealthStore
	Destinations *DestinationStore
	Archives     *ArchiveStore
	Records      *RecordStore
	Policies     *PolicyStore
}

// Open connects to url, applies the schema, and returns the port
// implementations. The caller owns the returned pool.
func Open(ctx context.Context, url string) (*Stores, *pgxpool.Pool, error) {
	if url == "" {
		return nil, nil, fmt.Errorf("postgres: empty connection URL")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return &Stores{
		Health:       &HealthStore{pool: pool},
		Destinations: &DestinationStore{pool: pool},
		Archives:     &ArchiveStore{pool: pool},
		Records:      &RecordStore{pool: pool},
		Policies:     &PolicyStore{pool: pool},
	}, pool, nil
}
