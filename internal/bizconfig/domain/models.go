// Package domain contains the business settings model. The invoice core only
// reads these values; writes come from the surrounding back office.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Well-known setting keys.
const (
	KeyTaxRate        = "tax_rate"
	KeyCurrencySymbol = "currency_symbol"
	KeyBusinessName   = "business_name"
)

var (
	ErrSettingNotFound = errors.New("setting_not_found")
	ErrInvalidKey      = errors.New("invalid_key")
	ErrInvalidValue    = errors.New("invalid_value")
)

// Setting is one key/value pair of business configuration.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:text" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Setting) TableName() string { return "business_settings" }

// Service exposes the get(key) -> value contract plus typed accessors used
// by invoice pricing.
type Service interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]Setting, error)

	GetTaxRate(ctx context.Context) (decimal.Decimal, error)
	GetCurrencySymbol(ctx context.Context) (string, error)
	GetBusinessName(ctx context.Context) (string, error)
}
