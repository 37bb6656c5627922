package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bizconfigdomain "github.com/atelierhq/atelier/internal/bizconfig/domain"
	"github.com/atelierhq/atelier/internal/clock"
	customerdomain "github.com/atelierhq/atelier/internal/customer/domain"
	invoicingdomain "github.com/atelierhq/atelier/internal/invoicing/domain"
	"github.com/atelierhq/atelier/internal/numbering"
	obsmetrics "github.com/atelierhq/atelier/internal/observability/metrics"
	"github.com/atelierhq/atelier/internal/pricing"
	stockdomain "github.com/atelierhq/atelier/internal/stock/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Invoices fall due 30 days after issue unless the caller says otherwise.
const defaultDueDays = 30

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	StockSvc    stockdomain.Service
	CustomerSvc customerdomain.Service
	SettingsSvc bizconfigdomain.Service
	Numbers     numbering.Generator
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	stockSvc    stockdomain.Service
	customerSvc customerdomain.Service
	settingsSvc bizconfigdomain.Service
	numbers     numbering.Generator
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicingdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoicing.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		stockSvc:    p.StockSvc,
		customerSvc: p.CustomerSvc,
		settingsSvc: p.SettingsSvc,
		numbers:     p.Numbers,
		metrics:     p.Metrics,
	}
}

// Create validates the request, snapshots line prices, reserves stock,
// computes totals, allocates the invoice number and persists everything in
// one transaction. Any failure leaves no reservation and no invoice behind.
func (s *Service) Create(ctx context.Context, req invoicingdomain.CreateInvoiceRequest) (*invoicingdomain.Invoice, error) {
	customer, err := s.customerSvc.GetByID(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, customerdomain.ErrNotFound) || errors.Is(err, customerdomain.ErrInvalidID) {
			return nil, invoicingdomain.ErrInvalidCustomer
		}
		return nil, err
	}

	if len(req.Lines) == 0 {
		return nil, invoicingdomain.ErrNoLines
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, invoicingdomain.ErrInvalidLine
		}
		if line.SKU == nil && strings.TrimSpace(line.Description) == "" {
			return nil, invoicingdomain.ErrInvalidLine
		}
	}

	now := s.clock.Now()
	issueDate := now
	if req.IssueDate != nil {
		issueDate = req.IssueDate.UTC()
	}
	dueDate := issueDate.AddDate(0, 0, defaultDueDays)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
	}
	if dueDate.Before(issueDate) {
		return nil, invoicingdomain.ErrInvalidDueDate
	}

	// Configuration reads happen outside the atomic unit; the values are
	// snapshotted into the invoice either way.
	taxRate, err := s.settingsSvc.GetTaxRate(ctx)
	if err != nil {
		return nil, err
	}
	currency, err := s.settingsSvc.GetCurrencySymbol(ctx)
	if err != nil && !errors.Is(err, bizconfigdomain.ErrSettingNotFound) {
		return nil, err
	}

	status := invoicingdomain.InvoiceStatusDraft
	if req.MarkSent {
		status = invoicingdomain.InvoiceStatusSent
	}

	var invoice *invoicingdomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.numbers.WithTx(tx).Next(ctx, now)
		if err != nil {
			return err
		}

		lines, reservations, unpriced, err := s.buildLines(ctx, tx, req.Lines)
		if err != nil {
			return err
		}

		if len(reservations) > 0 {
			if err := s.stockSvc.WithTx(tx).ReserveBatch(ctx, reservations, number); err != nil {
				return err
			}
		}

		inputs := make([]pricing.LineInput, len(lines))
		for i, line := range lines {
			price := line.UnitPrice
			inputs[i] = pricing.LineInput{Quantity: line.Quantity, UnitPrice: &price}
			if unpriced[i] {
				inputs[i].UnitPrice = nil
			}
		}
		totals := pricing.Compute(inputs, taxRate)

		record := invoicingdomain.Invoice{
			ID:            s.genID.Generate(),
			InvoiceNumber: number,
			CustomerID:    customer.ID,
			Status:        status,
			IssueDate:     issueDate,
			DueDate:       dueDate,
			Subtotal:      totals.Subtotal,
			TaxRate:       taxRate,
			TaxAmount:     totals.TaxAmount,
			TotalAmount:   totals.TotalAmount,
			Currency:      currency,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if len(totals.UnpricedLines) > 0 {
			record.Metadata = map[string]any{"unpriced_lines": totals.UnpricedLines}
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		for i := range lines {
			lines[i].InvoiceID = record.ID
			lines[i].CreatedAt = now
		}
		if err := tx.Create(&lines).Error; err != nil {
			return err
		}

		record.Lines = lines
		invoice = &record
		return nil
	})
	if err != nil {
		var insufficient *stockdomain.InsufficientStockError
		if errors.As(err, &insufficient) {
			s.metrics.IncStockRejection(ctx, insufficient.SKU)
		}
		return nil, err
	}

	s.metrics.IncInvoiceCreated(ctx, string(invoice.Status))
	s.log.Info("invoice created",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("status", string(invoice.Status)),
		zap.String("total", invoice.TotalAmount.String()),
	)
	return invoice, nil
}

// buildLines resolves unit prices and assembles the persistable lines plus
// the ledger reservations for inventory-backed positions. Prices are copied
// out of the stock item, never referenced.
func (s *Service) buildLines(ctx context.Context, tx *gorm.DB, requests []invoicingdomain.LineRequest) ([]invoicingdomain.InvoiceLine, []stockdomain.Reservation, map[int]bool, error) {
	lines := make([]invoicingdomain.InvoiceLine, 0, len(requests))
	reservations := make([]stockdomain.Reservation, 0, len(requests))
	unpriced := make(map[int]bool, len(requests))

	for i, req := range requests {
		line := invoicingdomain.InvoiceLine{
			ID:          s.genID.Generate(),
			Position:    i + 1,
			Description: strings.TrimSpace(req.Description),
			Quantity:    req.Quantity,
			UnitPrice:   decimal.Zero,
		}

		var item *stockdomain.StockItem
		if req.SKU != nil {
			sku := strings.TrimSpace(*req.SKU)
			if sku == "" {
				return nil, nil, nil, invoicingdomain.ErrInvalidLine
			}
			loaded, err := s.loadItem(ctx, tx, sku)
			if err != nil {
				return nil, nil, nil, err
			}
			item = loaded
			line.SKU = &sku
			if line.Description == "" {
				line.Description = item.Name
			}
			reservations = append(reservations, stockdomain.Reservation{SKU: sku, Quantity: req.Quantity})
		}

		switch {
		case req.UnitPrice != nil:
			line.UnitPrice = *req.UnitPrice
		case item != nil && item.UnitPrice != nil:
			line.UnitPrice = *item.UnitPrice
		default:
			// Unpriced lines contribute zero; the caller is told, not
			// silently skipped.
			unpriced[i] = true
		}

		line.LineTotal = pricing.LineTotal(line.Quantity, line.UnitPrice)
		lines = append(lines, line)
	}

	return lines, reservations, unpriced, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*invoicingdomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidInvoiceID
	}

	var invoice invoicingdomain.Invoice
	err = s.db.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicingdomain.ErrInvoiceNotFound
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("position").
		Find(&invoice.Lines).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicingdomain.ListInvoiceRequest) ([]invoicingdomain.Invoice, error) {
	stmt := s.db.WithContext(ctx).Order("created_at DESC")
	if req.Status != nil {
		stmt = stmt.Where("status = ?", *req.Status)
	}
	if req.CustomerID != nil {
		customerID, err := snowflake.ParseString(strings.TrimSpace(*req.CustomerID))
		if err != nil {
			return nil, invoicingdomain.ErrInvalidCustomer
		}
		stmt = stmt.Where("customer_id = ?", customerID)
	}

	var invoices []invoicingdomain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// Send moves a draft invoice to sent.
func (s *Service) Send(ctx context.Context, id string) (*invoicingdomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidInvoiceID
	}

	now := s.clock.Now()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		invoicingdomain.InvoiceStatusSent, now, invoiceID, invoicingdomain.InvoiceStatusDraft,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionFailure(ctx, s.db, invoiceID, invoicingdomain.InvoiceStatusSent)
	}

	return s.GetByID(ctx, id)
}

// MarkAsPaid is legal only from sent or overdue. The ledger is untouched.
func (s *Service) MarkAsPaid(ctx context.Context, id string, req invoicingdomain.MarkPaidRequest) (*invoicingdomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidInvoiceID
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return nil, invoicingdomain.ErrInvalidPayment
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, invoicingdomain.ErrInvalidPayment
	}

	now := s.clock.Now()
	notes := strings.TrimSpace(req.Notes)
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, payment_method = ?, payment_amount = ?, payment_notes = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		invoicingdomain.InvoiceStatusPaid, method, req.Amount, notesPtr, now, now,
		invoiceID, invoicingdomain.InvoiceStatusSent, invoicingdomain.InvoiceStatusOverdue,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionFailure(ctx, s.db, invoiceID, invoicingdomain.InvoiceStatusPaid)
	}

	s.metrics.IncInvoicePaid(ctx, method)
	return s.GetByID(ctx, id)
}

// Cancel restores the quantities reserved at creation and flips the status
// in one transaction; a failure partway leaves neither side applied.
func (s *Service) Cancel(ctx context.Context, id string, reason string) (*invoicingdomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidInvoiceID
	}

	now := s.clock.Now()
	reason = strings.TrimSpace(reason)
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE invoices
			 SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
			 WHERE id = ? AND status IN (?, ?, ?)`,
			invoicingdomain.InvoiceStatusCancelled, reasonPtr, now, now,
			invoiceID,
			invoicingdomain.InvoiceStatusDraft,
			invoicingdomain.InvoiceStatusSent,
			invoicingdomain.InvoiceStatusOverdue,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return s.transitionFailure(ctx, tx, invoiceID, invoicingdomain.InvoiceStatusCancelled)
		}

		return s.restoreLines(ctx, tx, invoiceID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceCancelled(ctx)
	s.log.Info("invoice cancelled", zap.String("invoice_id", invoiceID.String()))
	return s.GetByID(ctx, id)
}

// MarkOverdue moves a sent invoice whose due date has passed to overdue.
// Pure status change; the ledger is not involved.
func (s *Service) MarkOverdue(ctx context.Context, id string) (*invoicingdomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidInvoiceID
	}

	now := s.clock.Now()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND due_date < ?`,
		invoicingdomain.InvoiceStatusOverdue, now,
		invoiceID, invoicingdomain.InvoiceStatusSent, now,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		invoice, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if invoice.Status == invoicingdomain.InvoiceStatusSent {
			return nil, invoicingdomain.ErrNotPastDue
		}
		return nil, fmt.Errorf("%w: %s -> %s", invoicingdomain.ErrInvalidStateTransition, invoice.Status, invoicingdomain.InvoiceStatusOverdue)
	}

	return s.GetByID(ctx, id)
}

// Delete removes the invoice and its lines. Outstanding reservations are
// restored first. A cancelled invoice already gave its stock back, and a
// paid invoice sold it, so neither touches the ledger here.
func (s *Service) Delete(ctx context.Context, id string) error {
	invoiceID, err := parseID(id)
	if err != nil {
		return invoicingdomain.ErrInvalidInvoiceID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice invoicingdomain.Invoice
		err := tx.Where("id = ?", invoiceID).First(&invoice).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicingdomain.ErrInvoiceNotFound
			}
			return err
		}

		if invoice.Status != invoicingdomain.InvoiceStatusCancelled &&
			invoice.Status != invoicingdomain.InvoiceStatusPaid {
			if err := s.restoreLines(ctx, tx, invoiceID); err != nil {
				return err
			}
		}

		if err := tx.Exec(`DELETE FROM invoice_lines WHERE invoice_id = ?`, invoiceID).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM invoices WHERE id = ?`, invoiceID).Error
	})
}

// restoreLines returns every reserved quantity recorded on the invoice lines
// to the ledger, using the creation-time quantities.
func (s *Service) restoreLines(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error {
	var lines []invoicingdomain.InvoiceLine
	if err := tx.Where("invoice_id = ?", invoiceID).Order("position").Find(&lines).Error; err != nil {
		return err
	}

	reservations := make([]stockdomain.Reservation, 0, len(lines))
	var number string
	for _, line := range lines {
		if line.SKU == nil {
			continue
		}
		reservations = append(reservations, stockdomain.Reservation{SKU: *line.SKU, Quantity: line.Quantity})
	}
	if len(reservations) == 0 {
		return nil
	}

	var invoice invoicingdomain.Invoice
	if err := tx.Select("invoice_number").Where("id = ?", invoiceID).First(&invoice).Error; err == nil {
		number = invoice.InvoiceNumber
	}

	return s.stockSvc.WithTx(tx).RestoreBatch(ctx, reservations, number)
}

// transitionFailure resolves a failed guarded update into the right error.
// Reads through the handle that ran the update so it works inside a
// transaction as well.
func (s *Service) transitionFailure(ctx context.Context, dbh *gorm.DB, invoiceID snowflake.ID, target invoicingdomain.InvoiceStatus) error {
	var invoice invoicingdomain.Invoice
	err := dbh.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invoicingdomain.ErrInvoiceNotFound
		}
		return err
	}
	return fmt.Errorf("%w: %s -> %s", invoicingdomain.ErrInvalidStateTransition, invoice.Status, target)
}

func (s *Service) loadItem(ctx context.Context, tx *gorm.DB, sku string) (*stockdomain.StockItem, error) {
	var item stockdomain.StockItem
	err := tx.WithContext(ctx).Where("sku = ?", sku).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stockdomain.ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
