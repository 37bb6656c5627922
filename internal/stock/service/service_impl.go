package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/stock/domain"
	"github.com/atelierhq/atelier/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("stock.service"),
		genID: p.GenID,
	}
}

// WithTx binds the ledger to an existing transaction. Item management
// methods keep using the root connection; only ledger operations are
// expected on the returned value.
func (s *Service) WithTx(tx *gorm.DB) domain.Ledger {
	return &Service{db: tx, log: s.log, genID: s.genID}
}

func (s *Service) Reserve(ctx context.Context, sku string, quantity int64, reference string) error {
	return s.ReserveBatch(ctx, []domain.Reservation{{SKU: sku, Quantity: quantity}}, reference)
}

func (s *Service) Restore(ctx context.Context, sku string, quantity int64, reference string) error {
	return s.RestoreBatch(ctx, []domain.Reservation{{SKU: sku, Quantity: quantity}}, reference)
}

// ReserveBatch decrements every reservation or none of them. Items are
// processed in ascending SKU order so concurrent multi-item batches cannot
// deadlock on each other's row locks.
func (s *Service) ReserveBatch(ctx context.Context, reservations []domain.Reservation, reference string) error {
	batch, err := normalizeBatch(reservations)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, r := range batch {
			result := tx.Exec(
				`UPDATE stock_items
				 SET quantity = quantity - ?, updated_at = ?
				 WHERE sku = ? AND quantity >= ?`,
				r.Quantity, now, r.SKU, r.Quantity,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Rolling back undoes every decrement already applied.
				return s.shortfall(ctx, tx, r)
			}
			if err := s.appendMovement(ctx, tx, r.SKU, domain.MovementReservation, -r.Quantity, reference, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// RestoreBatch increments every reservation. Used on cancellation with the
// quantities recorded at creation time.
func (s *Service) RestoreBatch(ctx context.Context, reservations []domain.Reservation, reference string) error {
	batch, err := normalizeBatch(reservations)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, r := range batch {
			result := tx.Exec(
				`UPDATE stock_items
				 SET quantity = quantity + ?, updated_at = ?
				 WHERE sku = ?`,
				r.Quantity, now, r.SKU,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return domain.ErrItemNotFound
			}
			if err := s.appendMovement(ctx, tx, r.SKU, domain.MovementRestoration, r.Quantity, reference, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) CreateItem(ctx context.Context, req domain.CreateItemRequest) (*domain.StockItem, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.Quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		sku = name
	}
	sku = slug.Make(sku)
	if sku == "" {
		return nil, domain.ErrInvalidSKU
	}

	now := time.Now().UTC()
	item := &domain.StockItem{
		ID:        s.genID.Generate(),
		SKU:       sku,
		Name:      name,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		CostPrice: req.CostPrice,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrItemExists
		}
		return nil, err
	}

	s.log.Info("stock item created",
		zap.String("sku", item.SKU),
		zap.Int64("quantity", item.Quantity),
	)
	return item, nil
}

func (s *Service) GetBySKU(ctx context.Context, sku string) (*domain.StockItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, domain.ErrInvalidSKU
	}

	var item domain.StockItem
	err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListItemRequest) ([]domain.StockItem, error) {
	stmt := s.db.WithContext(ctx).Order("sku")
	if req.Active != nil {
		stmt = stmt.Where("active = ?", *req.Active)
	}

	var items []domain.StockItem
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Adjust applies a manual quantity delta outside of any invoice. Negative
// deltas are rejected when they would take the quantity below zero.
func (s *Service) Adjust(ctx context.Context, sku string, delta int64, note string) (*domain.StockItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, domain.ErrInvalidSKU
	}
	if delta == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Exec(
			`UPDATE stock_items
			 SET quantity = quantity + ?, updated_at = ?
			 WHERE sku = ? AND quantity + ? >= 0`,
			delta, now, sku, delta,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return s.shortfall(ctx, tx, domain.Reservation{SKU: sku, Quantity: -delta})
		}
		return s.appendMovement(ctx, tx, sku, domain.MovementAdjustment, delta, note, now)
	})
	if err != nil {
		return nil, err
	}

	return s.GetBySKU(ctx, sku)
}

func (s *Service) SetActive(ctx context.Context, sku string, active bool) (*domain.StockItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, domain.ErrInvalidSKU
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE stock_items SET active = ?, updated_at = ? WHERE sku = ?`,
		active, time.Now().UTC(), sku,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrItemNotFound
	}
	return s.GetBySKU(ctx, sku)
}

// DeleteItem removes an item that no non-cancelled invoice still references.
// Movement history stays behind as audit.
func (s *Service) DeleteItem(ctx context.Context, sku string) error {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.ErrInvalidSKU
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Raw(
			`SELECT COUNT(1) FROM stock_items WHERE sku = ?`, sku,
		).Scan(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrItemNotFound
		}

		var referenced int64
		err := tx.Raw(
			`SELECT COUNT(1) FROM invoice_lines l
			 JOIN invoices i ON i.id = l.invoice_id
			 WHERE l.sku = ? AND i.status <> 'cancelled'`,
			sku,
		).Scan(&referenced).Error
		if err != nil {
			return err
		}
		if referenced > 0 {
			return domain.ErrItemReferenced
		}

		if err := tx.Exec(`DELETE FROM stock_items WHERE sku = ?`, sku).Error; err != nil {
			return err
		}
		s.log.Info("stock item deleted", zap.String("sku", sku))
		return nil
	})
}

// shortfall resolves a failed conditional update into a typed error.
func (s *Service) shortfall(ctx context.Context, tx *gorm.DB, r domain.Reservation) error {
	var available int64
	err := tx.WithContext(ctx).Raw(
		`SELECT quantity FROM stock_items WHERE sku = ?`, r.SKU,
	).Scan(&available).Error
	if err != nil {
		return err
	}

	var count int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM stock_items WHERE sku = ?`, r.SKU,
	).Scan(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrItemNotFound
	}

	return &domain.InsufficientStockError{
		SKU:       r.SKU,
		Requested: r.Quantity,
		Available: available,
	}
}

func (s *Service) appendMovement(ctx context.Context, tx *gorm.DB, sku string, typ domain.MovementType, delta int64, reference string, now time.Time) error {
	movement := domain.StockMovement{
		ID:        s.genID.Generate(),
		SKU:       sku,
		Type:      typ,
		QtyDelta:  delta,
		CreatedAt: now,
	}
	reference = strings.TrimSpace(reference)
	if reference != "" {
		movement.Reference = &reference
	}
	return tx.WithContext(ctx).Create(&movement).Error
}

// normalizeBatch validates quantities, merges duplicate SKUs and returns the
// batch in ascending SKU order for a fixed lock-acquisition order.
func normalizeBatch(reservations []domain.Reservation) ([]domain.Reservation, error) {
	merged := make(map[string]int64, len(reservations))
	for _, r := range reservations {
		sku := strings.TrimSpace(r.SKU)
		if sku == "" {
			return nil, domain.ErrInvalidSKU
		}
		if r.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		merged[sku] += r.Quantity
	}

	batch := make([]domain.Reservation, 0, len(merged))
	for sku, qty := range merged {
		batch = append(batch, domain.Reservation{SKU: sku, Quantity: qty})
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].SKU < batch[j].SKU })
	return batch, nil
}
