package warehouse

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/sirupsen/logrus"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the embedded schema migrations
func Migrations() (fs.FS, error) {
	return fs.Sub(embeddedMigrations, migrationsDir)
}

// Migrate applies every pending schema migration to the configured warehouse.
// The staging and production schemas, the dimension tables and the
// partitioned fact table are created here; monthly fact partitions are
// created on demand by the fact loader.
func Migrate(log logrus.FieldLogger, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}

	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close migration connection")
		}
	}()

	return RunMigrations(log, db)
}

// RunMigrations applies the embedded migrations over an existing handle
func RunMigrations(log logrus.FieldLogger, db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required") //nolint:err113 // programming error
	}

	sub, err := Migrations()
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w: %w", ErrUnavailable, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}

	log.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
		"changed": upErr == nil,
	}).Info("Warehouse schema up to date")

	// migrator.Close would close the shared *sql.DB

	return nil
}
