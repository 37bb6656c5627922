package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrItemNotFound    = errors.New("stock_item_not_found")
	ErrItemExists      = errors.New("stock_item_exists")
	ErrInvalidSKU      = errors.New("invalid_sku")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrItemReferenced  = errors.New("stock_item_referenced")
)

// InsufficientStockError reports a reservation that exceeds availability.
// The batch that produced it has not mutated any item.
type InsufficientStockError struct {
	SKU       string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient_stock: sku=%s requested=%d available=%d", e.SKU, e.Requested, e.Available)
}

// Reservation is one (item, quantity) pair in a batch.
type Reservation struct {
	SKU      string
	Quantity int64
}

// Ledger exposes the atomic check-and-adjust operations on item quantities.
// Reserve and ReserveBatch never leave a partially applied batch behind, and
// no interleaving of concurrent calls can drive a quantity negative.
type Ledger interface {
	// WithTx returns a ledger bound to the caller's transaction so that
	// reservation and invoice persistence commit or fail together.
	WithTx(tx *gorm.DB) Ledger

	Reserve(ctx context.Context, sku string, quantity int64, reference string) error
	Restore(ctx context.Context, sku string, quantity int64, reference string) error
	ReserveBatch(ctx context.Context, reservations []Reservation, reference string) error
	RestoreBatch(ctx context.Context, reservations []Reservation, reference string) error
}

type CreateItemRequest struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	CostPrice *decimal.Decimal `json:"cost_price"`
}

type ListItemRequest struct {
	Active *bool `form:"active"`
}

// Service manages stock items and embeds the ledger operations.
type Service interface {
	Ledger

	CreateItem(ctx context.Context, req CreateItemRequest) (*StockItem, error)
	GetBySKU(ctx context.Context, sku string) (*StockItem, error)
	List(ctx context.Context, req ListItemRequest) ([]StockItem, error)
	Adjust(ctx context.Context, sku string, delta int64, note string) (*StockItem, error)
	SetActive(ctx context.Context, sku string, active bool) (*StockItem, error)
	DeleteItem(ctx context.Context, sku string) error
}
