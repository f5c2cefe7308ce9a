package persistence

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// Open opens a modernc.org/sqlite database at path and applies every
// pending golang-migrate migration embedded in this package, creating
// autonomy_events, autonomy_goals, autonomy_state, autonomy_approvals,
// canonical_entities, autonomy_identity, entity_memories,
// autonomy_memory_quarantine, and autonomy_audit on first run.
//
// Grounded on the reference repo's pkg/database/client.go runMigrations:
// an iofs source over an embedded migrations directory, applied with
// migrate.NewWithInstance against a database driver built from an
// already-open *sql.DB.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every pending migration to an already-open handle,
// leaving db open and usable regardless of outcome.
func Migrate(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("persistence: build migration source: %w", err)
	}
	defer sourceDriver.Close()

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("persistence: build sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("persistence: build migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("persistence: apply migrations: %w", err)
	}
	return nil
}
