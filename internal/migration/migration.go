package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	directorydomain "github.com/smallbiznis/catalogue/internal/directory/domain"
	formationdomain "github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/history"
	matchingdomain "github.com/smallbiznis/catalogue/internal/matching/domain"
	"github.com/smallbiznis/catalogue/internal/report"
	pkgdb "github.com/smallbiznis/catalogue/pkg/db"
	"gorm.io/gorm"
)

// Models lists every table the catalogue owns, for databases migrated with
// gorm instead of the embedded SQL files.
func Models() []any {
	return []any{
		&formationdomain.Formation{},
		&formationdomain.ConvertedFormation{},
		&history.Entry{},
		&directorydomain.Establishment{},
		&matchingdomain.PsFormation{},
		&report.Record{},
	}
}

// Migrate brings the schema up to date. Postgres runs the versioned SQL
// migrations; sqlite and mysql are migrated from the models.
func Migrate(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != pkgdb.TypePostgres {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
