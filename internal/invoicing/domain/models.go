// Package domain contains persistence models for the invoice lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
)

// Valid reports whether s is one of the known lifecycle states.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusOverdue:
		return true
	default:
		return false
	}
}

// Invoice is a generated invoice. total_amount == subtotal + tax_amount
// holds from creation on; status only moves along the lifecycle edges.
type Invoice struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	InvoiceNumber string            `gorm:"type:text;not null;uniqueIndex:ux_invoices_number" json:"invoice_number"`
	CustomerID    snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Status        InvoiceStatus     `gorm:"type:text;not null;default:'draft';index" json:"status"`
	IssueDate     time.Time         `gorm:"not null" json:"issue_date"`
	DueDate       time.Time         `gorm:"not null;index" json:"due_date"`
	Subtotal      decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	TaxRate       decimal.Decimal   `gorm:"type:numeric(6,3);not null" json:"tax_rate"`
	TaxAmount     decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"tax_amount"`
	TotalAmount   decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"total_amount"`
	Currency      string            `gorm:"type:text;not null" json:"currency"`
	PaymentMethod *string           `gorm:"type:text" json:"payment_method,omitempty"`
	PaymentAmount *decimal.Decimal  `gorm:"type:numeric(14,2)" json:"payment_amount,omitempty"`
	PaymentNotes  *string           `gorm:"type:text" json:"payment_notes,omitempty"`
	PaidAt        *time.Time        `gorm:"" json:"paid_at,omitempty"`
	CancelReason  *string           `gorm:"type:text" json:"cancel_reason,omitempty"`
	CancelledAt   *time.Time        `gorm:"" json:"cancelled_at,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Lines []InvoiceLine `gorm:"-" json:"lines,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one position on an invoice. UnitPrice is snapshotted at
// creation; later stock item price changes never reach an existing line.
type InvoiceLine struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null" json:"position"`
	SKU         *string         `gorm:"type:text;index" json:"sku,omitempty"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"line_total"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }
