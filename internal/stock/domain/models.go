// Package domain contains persistence models for the stock ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// StockItem is a sellable inventory item. Quantity is mutated only through
// the ledger's reserve/restore operations and never drops below zero.
type StockItem struct {
	ID        snowflake.ID     `gorm:"primaryKey" json:"id"`
	SKU       string           `gorm:"type:text;not null;uniqueIndex:ux_stock_items_sku" json:"sku"`
	Name      string           `gorm:"type:text;not null" json:"name"`
	Quantity  int64            `gorm:"not null;default:0" json:"quantity"`
	UnitPrice *decimal.Decimal `gorm:"type:numeric(14,2)" json:"unit_price,omitempty"`
	CostPrice *decimal.Decimal `gorm:"type:numeric(14,2)" json:"cost_price,omitempty"`
	Active    bool             `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (StockItem) TableName() string { return "stock_items" }

// MovementType classifies a ledger mutation.
type MovementType string

const (
	MovementReservation MovementType = "reservation"
	MovementRestoration MovementType = "restoration"
	MovementAdjustment  MovementType = "adjustment"
)

// StockMovement is an append-only record of a quantity delta.
type StockMovement struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	SKU       string            `gorm:"type:text;not null;index" json:"sku"`
	Type      MovementType      `gorm:"type:text;not null" json:"type"`
	QtyDelta  int64             `gorm:"not null" json:"qty_delta"`
	Reference *string           `gorm:"type:text;index" json:"reference,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (StockMovement) TableName() string { return "stock_movements" }
