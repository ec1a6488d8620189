package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/token-indexer/internal/logging"
)

// Migrator applies the indexer schema from the migrations directory: job,
// token, and endpoint tables plus the transfer table with its composite
// dedup index.
type Migrator struct {
	databaseURL    string
	migrationsPath string
	logger         *logging.Logger
}

// NewMigrator creates a migrator for the given database and source directory
func NewMigrator(databaseURL, migrationsPath string, logger *logging.Logger) *Migrator {
	return &Migrator{
		databaseURL:    databaseURL,
		migrationsPath: migrationsPath,
		logger:         logger,
	}
}

// Up applies all pending migrations. An already current schema is not an error.
func (m *Migrator) Up() error {
	inst, err := m.open()
	if err != nil {
		return err
	}
	defer m.close(inst)

	if err := inst.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("schema already up to date")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	m.logger.Info("schema migrations applied")
	return nil
}

// Rollback reverts the most recently applied migration
func (m *Migrator) Rollback() error {
	inst, err := m.open()
	if err != nil {
		return err
	}
	defer m.close(inst)

	if err := inst.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("no migration to roll back")
			return nil
		}
		return fmt.Errorf("rolling back migration: %w", err)
	}

	m.logger.Info("last migration rolled back")
	return nil
}

// Version reports the current schema version and whether it is dirty.
// A database with no applied migrations reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	inst, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer m.close(inst)

	version, dirty, err := inst.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}

	return version, dirty, nil
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	inst, err := migrate.New(fmt.Sprintf("file://%s", m.migrationsPath), m.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening migration source %s: %w", m.migrationsPath, err)
	}
	return inst, nil
}

func (m *Migrator) close(inst *migrate.Migrate) {
	srcErr, dbErr := inst.Close()
	if srcErr != nil {
		m.logger.WithError(srcErr).Warn("failed to close migration source")
	}
	if dbErr != nil {
		m.logger.WithError(dbErr).Warn("failed to close migration database handle")
	}
}
