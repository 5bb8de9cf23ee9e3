// Package sqlite implements the storage ports on a single-file SQLite
// database using modernc.org/sqlite (pure Go, no CGO) with WAL mode. Meant
// for embedded and single-node deployments; multi-node setups use the
// postgres module.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the sqlite module settings.
type Config struct {
	// Path is the database file location. Empty places smart-logs.db in
	// the application data directory.
	Path string `yaml:"path"`
}

// Module owns the database handle and registers the storage services.
type Module struct {
	config Config
	logger *slog.Logger
	db     *sql.DB
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	path := m.config.Path
	if path == "" {
		path = filepath.Join(ctx.DataDir, "smart-logs.db")
	}

	stores, db, err := Open(path)
	if err != nil {
		return err
	}
	m.db = db

	ctx.RegisterService("storage.health", stores.Health)
	ctx.RegisterService("storage.destinations", stores.Destinations)
	ctx.RegisterService("storage.archive", stores.Archives)
	ctx.RegisterService("storage.records", stores.Records)
	ctx.RegisterService("storage.policies", stores.Policies)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Stores bundles every port implementation backed by one database.
type Stores struct {
	Health       *HealthStore
	Destinations *DestinationStore
	Archives     *ArchiveStore
	Records      *RecordStore
	Policies     *PolicyStore
}

// Open opens (creating if needed) a SQLite database at path and returns the
// port implementations. The caller owns the returned *sql.DB.
//
// The database runs in WAL mode with a 5 s busy timeout and a single
// connection (SQLite serialises writes, which also gives the health store
// its per-destination atomicity). The schema is migrated automatically.
func Open(path string) (*Stores, *sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return &Stores{
		Health:       &HealthStore{db: db},
		Destinations: &DestinationStore{db: db},
		Archives:     &ArchiveStore{db: db},
		Records:      &RecordStore{db: db},
		Policies:     &PolicyStore{db: db},
	}, db, nil
}

// fmtTime renders a timestamp for storage; SQLite has no native type.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fmtTimePtr renders an optional timestamp, NULL when nil.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime reads a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseTimePtr reads an optional stored timestamp.
func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
