// Package numbering allocates sequential invoice numbers from a durable
// per-month counter. The format YYYYMM + zero-padded sequence is a persisted
// external contract and must remain stable across restarts.
package numbering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sequence is the durable counter row, one per calendar month.
type Sequence struct {
	Period    string `gorm:"primaryKey;type:text"`
	LastValue int64  `gorm:"not null"`
}

// TableName sets the database table name.
func (Sequence) TableName() string { return "invoice_sequences" }

// Generator produces unique, time-partitioned invoice numbers.
type Generator interface {
	// WithTx binds the generator to the caller's transaction so the
	// allocated number is rolled back together with the invoice on failure.
	WithTx(tx *gorm.DB) Generator

	Next(ctx context.Context, at time.Time) (string, error)
}

type GeneratorParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type generator struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGenerator(p GeneratorParam) Generator {
	return &generator{
		db:  p.DB,
		log: p.Log.Named("numbering"),
	}
}

func (g *generator) WithTx(tx *gorm.DB) Generator {
	return &generator{db: tx, log: g.log}
}

// Next increments and returns the counter for the month of at. The upsert
// takes a row lock on the period, serializing concurrent callers; two calls
// can never observe the same value.
func (g *generator) Next(ctx context.Context, at time.Time) (string, error) {
	period := at.UTC().Format("200601")

	var seq int64
	err := g.db.WithContext(ctx).Raw(
		`INSERT INTO invoice_sequences (period, last_value)
		 VALUES (?, 1)
		 ON CONFLICT (period) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		 RETURNING last_value`,
		period,
	).Scan(&seq).Error
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%04d", period, seq), nil
}

// Module wires the invoice number generator.
var Module = fx.Module("numbering",
	fx.Provide(NewGenerator),
)
