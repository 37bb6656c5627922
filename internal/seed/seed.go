// Package seed bootstraps default business settings so a fresh database is
// immediately usable for invoicing.
package seed

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bizconfigdomain "github.com/atelierhq/atelier/internal/bizconfig/domain"
	"github.com/atelierhq/atelier/internal/config"
)

// EnsureDefaultSettings inserts the seed business settings if they are not
// present. Existing values are never overwritten.
func EnsureDefaultSettings(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	defaults := []bizconfigdomain.Setting{
		{Key: bizconfigdomain.KeyTaxRate, Value: cfg.DefaultTaxRate},
		{Key: bizconfigdomain.KeyCurrencySymbol, Value: cfg.DefaultCurrencySymbol},
		{Key: bizconfigdomain.KeyBusinessName, Value: cfg.DefaultBusinessName},
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, setting := range defaults {
			if setting.Value == "" {
				continue
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoNothing: true,
			}).Create(&setting).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
