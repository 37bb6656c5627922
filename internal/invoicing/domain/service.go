package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvalidInvoiceID = errors.New("invalid_invoice_id")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrNoLines          = errors.New("invoice_has_no_lines")
	ErrInvalidLine      = errors.New("invalid_invoice_line")
	ErrInvalidDueDate   = errors.New("invalid_due_date")
	ErrInvalidPayment   = errors.New("invalid_payment")
	ErrNotPastDue       = errors.New("invoice_not_past_due")

	// ErrInvalidStateTransition is returned whenever an operation is
	// requested from a status that forbids it. Never retried internally.
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
)

// LineRequest is one requested invoice position. SKU nil means a generic
// line with no inventory backing. UnitPrice nil means the price is resolved
// from the stock item at creation time.
type LineRequest struct {
	SKU         *string          `json:"sku"`
	Description string           `json:"description"`
	Quantity    int64            `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
}

type CreateInvoiceRequest struct {
	CustomerID string        `json:"customer_id"`
	Lines      []LineRequest `json:"lines"`
	IssueDate  *time.Time    `json:"issue_date"`
	DueDate    *time.Time    `json:"due_date"`
	// MarkSent persists the invoice as sent instead of draft.
	MarkSent bool `json:"mark_sent"`
}

type MarkPaidRequest struct {
	PaymentMethod string           `json:"payment_method"`
	Amount        *decimal.Decimal `json:"amount"`
	Notes         string           `json:"notes"`
}

type ListInvoiceRequest struct {
	Status     *InvoiceStatus `form:"status"`
	CustomerID *string        `form:"customer_id"`
}

// Service orchestrates the invoice state machine. Create and Cancel are each
// one atomic unit spanning the stock ledger and the invoice records.
type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	GetByID(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)

	// Send moves a draft invoice to sent.
	Send(ctx context.Context, id string) (*Invoice, error)
	// MarkAsPaid moves a sent or overdue invoice to paid. The ledger is not
	// touched; stock was committed at creation.
	MarkAsPaid(ctx context.Context, id string, req MarkPaidRequest) (*Invoice, error)
	// Cancel moves a draft, sent or overdue invoice to cancelled and
	// restores exactly the quantities reserved at creation.
	Cancel(ctx context.Context, id string, reason string) (*Invoice, error)
	// MarkOverdue moves a sent invoice past its due date to overdue.
	MarkOverdue(ctx context.Context, id string) (*Invoice, error)
	// Delete removes an invoice and its lines, restoring any outstanding
	// stock reservation first. Administrative use only.
	Delete(ctx context.Context, id string) error
}
