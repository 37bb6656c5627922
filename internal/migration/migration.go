package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	bizconfigdomain "github.com/atelierhq/atelier/internal/bizconfig/domain"
	customerdomain "github.com/atelierhq/atelier/internal/customer/domain"
	invoicingdomain "github.com/atelierhq/atelier/internal/invoicing/domain"
	"github.com/atelierhq/atelier/internal/numbering"
	stockdomain "github.com/atelierhq/atelier/internal/stock/domain"
)

// RunMigrations applies the embedded SQL migrations against a Postgres
// database so a fresh deployment is usable out of the box.
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema through gorm for engines the embedded
// Postgres migrations do not cover (mysql, sqlite).
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	return conn.AutoMigrate(
		&customerdomain.Customer{},
		&stockdomain.StockItem{},
		&stockdomain.StockMovement{},
		&numbering.Sequence{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.InvoiceLine{},
		&bizconfigdomain.Setting{},
	)
}
