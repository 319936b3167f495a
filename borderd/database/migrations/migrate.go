package migrations

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/xerrors"
)

//go:embed *.sql
var migrations embed.FS

const migrationsTableName = "schema_migrations"

func setup(db *sql.DB) (source.Driver, *migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, nil, xerrors.Errorf("create iofs: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{
		MigrationsTable: migrationsTableName,
	})
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, xerrors.Errorf("wrap sqlite connection: %w", err)
	}
	m, err := migrate.NewWithInstance("", sourceDriver, "", dbDriver)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, xerrors.Errorf("new migrate instance: %w", err)
	}
	return sourceDriver, m, nil
}

// Up runs SQL migrations to ensure the database schema is up-to-date. The
// migrate instance is not closed since that would close db.
func Up(db *sql.DB) error {
	sourceDriver, m, err := setup(db)
	if err != nil {
		return xerrors.Errorf("migrate setup: %w", err)
	}
	defer sourceDriver.Close()

	err = m.Up()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			// It's OK if no changes happened!
			return nil
		}
		return xerrors.Errorf("up: %w", err)
	}
	return nil
}

// Down runs all down SQL migrations.
func Down(db *sql.DB) error {
	sourceDriver, m, err := setup(db)
	if err != nil {
		return xerrors.Errorf("migrate setup: %w", err)
	}
	defer sourceDriver.Close()

	err = m.Down()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return xerrors.Errorf("down: %w", err)
	}
	return nil
}

// Current returns the applied schema version.
func Current(db *sql.DB) (uint, error) {
	sourceDriver, m, err := setup(db)
	if err != nil {
		return 0, xerrors.Errorf("migrate setup: %w", err)
	}
	defer sourceDriver.Close()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, xerrors.Errorf("version: %w", err)
	}
	if dirty {
		return 0, xerrors.Errorf("database is dirty at version %d", version)
	}
	return version, nil
}
