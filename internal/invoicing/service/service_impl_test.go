package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bizconfigservice "github.com/atelierhq/atelier/internal/bizconfig/service"
	"github.com/atelierhq/atelier/internal/clock"
	"github.com/atelierhq/atelier/internal/config"
	customerdomain "github.com/atelierhq/atelier/internal/customer/domain"
	customerservice "github.com/atelierhq/atelier/internal/customer/service"
	invoicingdomain "github.com/atelierhq/atelier/internal/invoicing/domain"
	"github.com/atelierhq/atelier/internal/numbering"
	stockdomain "github.com/atelierhq/atelier/internal/stock/domain"
	stockservice "github.com/atelierhq/atelier/internal/stock/service"
)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	invoices invoicingdomain.Service
	stock    stockdomain.Service
	customer *customerdomain.Customer
}

func setupInvoicing(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	prepareInvoicingSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	customerSvc := customerservice.NewService(customerservice.ServiceParam{
		DB: db, Log: log, GenID: node,
	})
	stockSvc := stockservice.NewService(stockservice.ServiceParam{
		DB: db, Log: log, GenID: node,
	})
	settingsSvc := bizconfigservice.NewService(bizconfigservice.ServiceParam{
		DB: db, Log: log, Cfg: config.Config{SettingsCacheTTL: time.Minute},
	})
	numbers := numbering.NewGenerator(numbering.GeneratorParam{DB: db, Log: log})

	ctx := context.Background()
	if err := settingsSvc.Set(ctx, "tax_rate", "10"); err != nil {
		t.Fatalf("seed tax rate: %v", err)
	}
	if err := settingsSvc.Set(ctx, "currency_symbol", "$"); err != nil {
		t.Fatalf("seed currency: %v", err)
	}

	invoiceSvc := NewService(ServiceParam{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		StockSvc:    stockSvc,
		CustomerSvc: customerSvc,
		SettingsSvc: settingsSvc,
		Numbers:     numbers,
	})

	customer, err := customerSvc.Create(ctx, customerdomain.CreateCustomerRequest{
		Name:  "Amara Osei",
		Email: "amara@example.com",
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	return &fixture{
		db:       db,
		clock:    fakeClock,
		invoices: invoiceSvc,
		stock:    stockSvc,
		customer: customer,
	}
}

func prepareInvoicingSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT,
			metadata JSON,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE stock_items (
			id BIGINT PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			quantity BIGINT NOT NULL DEFAULT 0,
			unit_price NUMERIC,
			cost_price NUMERIC,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE stock_movements (
			id BIGINT PRIMARY KEY,
			sku TEXT NOT NULL,
			type TEXT NOT NULL,
			qty_delta BIGINT NOT NULL,
			reference TEXT,
			metadata JSON,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoice_sequences (
			period TEXT PRIMARY KEY,
			last_value BIGINT NOT NULL
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			invoice_number TEXT NOT NULL UNIQUE,
			customer_id BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			issue_date DATETIME NOT NULL,
			due_date DATETIME NOT NULL,
			subtotal NUMERIC NOT NULL,
			tax_rate NUMERIC NOT NULL,
			tax_amount NUMERIC NOT NULL,
			total_amount NUMERIC NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			payment_method TEXT,
			payment_amount NUMERIC,
			payment_notes TEXT,
			paid_at DATETIME,
			cancel_reason TEXT,
			cancelled_at DATETIME,
			metadata JSON,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoice_lines (
			id BIGINT PRIMARY KEY,
			invoice_id BIGINT NOT NULL,
			position INT NOT NULL,
			sku TEXT,
			description TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price NUMERIC NOT NULL,
			line_total NUMERIC NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE business_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func (f *fixture) seedStock(t *testing.T, sku string, quantity int64, price string) {
	t.Helper()
	unitPrice := decimal.RequireFromString(price)
	_, err := f.stock.CreateItem(context.Background(), stockdomain.CreateItemRequest{
		SKU:       sku,
		Name:      sku,
		Quantity:  quantity,
		UnitPrice: &unitPrice,
	})
	if err != nil {
		t.Fatalf("seed stock %s: %v", sku, err)
	}
}

func (f *fixture) stockQuantity(t *testing.T, sku string) int64 {
	t.Helper()
	item, err := f.stock.GetBySKU(context.Background(), sku)
	if err != nil {
		t.Fatalf("get stock %s: %v", sku, err)
	}
	return item.Quantity
}

func skuLine(sku string, quantity int64) invoicingdomain.LineRequest {
	return invoicingdomain.LineRequest{SKU: &sku, Quantity: quantity}
}

func TestCreateInvoiceLifecycle(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 2)},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	if invoice.InvoiceNumber != "2026010001" {
		t.Fatalf("expected number 2026010001, got %s", invoice.InvoiceNumber)
	}
	if invoice.Status != invoicingdomain.InvoiceStatusDraft {
		t.Fatalf("expected draft, got %s", invoice.Status)
	}
	if !invoice.Subtotal.Equal(decimal.RequireFromString("1000.00")) {
		t.Fatalf("expected subtotal 1000.00, got %s", invoice.Subtotal)
	}
	if !invoice.TaxAmount.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected tax 100.00, got %s", invoice.TaxAmount)
	}
	if !invoice.TotalAmount.Equal(decimal.RequireFromString("1100.00")) {
		t.Fatalf("expected total 1100.00, got %s", invoice.TotalAmount)
	}
	if len(invoice.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(invoice.Lines))
	}
	if got := f.stockQuantity(t, "gold-ring"); got != 8 {
		t.Fatalf("expected stock 8 after reservation, got %d", got)
	}

	// draft -> sent -> paid
	sent, err := f.invoices.Send(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != invoicingdomain.InvoiceStatusSent {
		t.Fatalf("expected sent, got %s", sent.Status)
	}

	paid, err := f.invoices.MarkAsPaid(ctx, invoice.ID.String(), invoicingdomain.MarkPaidRequest{
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != invoicingdomain.InvoiceStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	if paid.PaidAt == nil {
		t.Fatal("expected paid_at set")
	}

	// Payment never touches the ledger.
	if got := f.stockQuantity(t, "gold-ring"); got != 8 {
		t.Fatalf("expected stock still 8, got %d", got)
	}
}

func TestCreateInvoiceInsufficientStock(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	_, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 15)},
	})
	var insufficient *stockdomain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 15 || insufficient.Available != 10 {
		t.Fatalf("expected requested=15 available=10, got %+v", insufficient)
	}

	// Nothing persisted, nothing reserved.
	if got := f.stockQuantity(t, "gold-ring"); got != 10 {
		t.Fatalf("expected stock unchanged at 10, got %d", got)
	}
	var count int
	if err := f.db.Raw(`SELECT COUNT(1) FROM invoices`).Scan(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no invoice rows, got %d", count)
	}
}

func TestCancelRestoresStock(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 2)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.stockQuantity(t, "gold-ring"); got != 8 {
		t.Fatalf("expected stock 8, got %d", got)
	}

	cancelled, err := f.invoices.Cancel(ctx, invoice.ID.String(), "customer changed mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != invoicingdomain.InvoiceStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "customer changed mind" {
		t.Fatalf("expected cancel reason recorded, got %v", cancelled.CancelReason)
	}
	if got := f.stockQuantity(t, "gold-ring"); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
}

func TestInvalidStateTransitions(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := invoice.ID.String()

	t.Run("pay draft", func(t *testing.T) {
		_, err := f.invoices.MarkAsPaid(ctx, id, invoicingdomain.MarkPaidRequest{PaymentMethod: "card"})
		if !errors.Is(err, invoicingdomain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("overdue draft", func(t *testing.T) {
		_, err := f.invoices.MarkOverdue(ctx, id)
		if !errors.Is(err, invoicingdomain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	if _, err := f.invoices.Send(ctx, id); err != nil {
		t.Fatalf("send: %v", err)
	}

	t.Run("send twice", func(t *testing.T) {
		_, err := f.invoices.Send(ctx, id)
		if !errors.Is(err, invoicingdomain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("overdue before due date", func(t *testing.T) {
		_, err := f.invoices.MarkOverdue(ctx, id)
		if !errors.Is(err, invoicingdomain.ErrNotPastDue) {
			t.Fatalf("expected ErrNotPastDue, got %v", err)
		}
	})

	if _, err := f.invoices.MarkAsPaid(ctx, id, invoicingdomain.MarkPaidRequest{PaymentMethod: "cash"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	t.Run("cancel paid", func(t *testing.T) {
		_, err := f.invoices.Cancel(ctx, id, "too late")
		if !errors.Is(err, invoicingdomain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
		// The failed cancel must not have restored anything.
		if got := f.stockQuantity(t, "gold-ring"); got != 9 {
			t.Fatalf("expected stock 9, got %d", got)
		}
	})
}

func TestPaidFromOverdue(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	due := f.clock.Now().AddDate(0, 0, 1)
	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
		DueDate:    &due,
		MarkSent:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if invoice.Status != invoicingdomain.InvoiceStatusSent {
		t.Fatalf("expected sent, got %s", invoice.Status)
	}

	f.clock.Advance(48 * time.Hour)

	overdue, err := f.invoices.MarkOverdue(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if overdue.Status != invoicingdomain.InvoiceStatusOverdue {
		t.Fatalf("expected overdue, got %s", overdue.Status)
	}

	paid, err := f.invoices.MarkAsPaid(ctx, invoice.ID.String(), invoicingdomain.MarkPaidRequest{PaymentMethod: "transfer"})
	if err != nil {
		t.Fatalf("mark paid from overdue: %v", err)
	}
	if paid.Status != invoicingdomain.InvoiceStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
}

func TestPriceSnapshotSurvivesPriceChange(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 2)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.db.Exec(`UPDATE stock_items SET unit_price = 999.99 WHERE sku = ?`, "gold-ring").Error; err != nil {
		t.Fatalf("reprice item: %v", err)
	}

	reloaded, err := f.invoices.GetByID(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !reloaded.Lines[0].UnitPrice.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected snapshotted price 500.00, got %s", reloaded.Lines[0].UnitPrice)
	}
	if !reloaded.TotalAmount.Equal(decimal.RequireFromString("1100.00")) {
		t.Fatalf("expected total 1100.00, got %s", reloaded.TotalAmount)
	}
}

func TestCreateWithUnpricedLine(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines: []invoicingdomain.LineRequest{
			skuLine("gold-ring", 1),
			{Description: "engraving", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !invoice.Subtotal.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected unpriced line to contribute zero, got %s", invoice.Subtotal)
	}
	if invoice.Metadata == nil {
		t.Fatal("expected unpriced_lines metadata")
	}
	if _, ok := invoice.Metadata["unpriced_lines"]; !ok {
		t.Fatalf("expected unpriced_lines key, got %v", invoice.Metadata)
	}
}

func TestCreateWithExplicitPriceOverride(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	override := decimal.RequireFromString("450.00")
	sku := "gold-ring"
	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines: []invoicingdomain.LineRequest{
			{SKU: &sku, Quantity: 2, UnitPrice: &override},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !invoice.Subtotal.Equal(decimal.RequireFromString("900.00")) {
		t.Fatalf("expected subtotal 900.00, got %s", invoice.Subtotal)
	}
}

func TestCreateValidation(t *testing.T) {
	f := setupInvoicing(t)
	ctx := context.Background()

	t.Run("unknown customer", func(t *testing.T) {
		_, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
			CustomerID: "12345",
			Lines:      []invoicingdomain.LineRequest{{Description: "x", Quantity: 1}},
		})
		if !errors.Is(err, invoicingdomain.ErrInvalidCustomer) {
			t.Fatalf("expected ErrInvalidCustomer, got %v", err)
		}
	})

	t.Run("no lines", func(t *testing.T) {
		_, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
			CustomerID: f.customer.ID.String(),
		})
		if !errors.Is(err, invoicingdomain.ErrNoLines) {
			t.Fatalf("expected ErrNoLines, got %v", err)
		}
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
			CustomerID: f.customer.ID.String(),
			Lines:      []invoicingdomain.LineRequest{{Description: "x", Quantity: 0}},
		})
		if !errors.Is(err, invoicingdomain.ErrInvalidLine) {
			t.Fatalf("expected ErrInvalidLine, got %v", err)
		}
	})

	t.Run("due before issue", func(t *testing.T) {
		due := f.clock.Now().AddDate(0, 0, -1)
		_, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
			CustomerID: f.customer.ID.String(),
			Lines:      []invoicingdomain.LineRequest{{Description: "x", Quantity: 1}},
			DueDate:    &due,
		})
		if !errors.Is(err, invoicingdomain.ErrInvalidDueDate) {
			t.Fatalf("expected ErrInvalidDueDate, got %v", err)
		}
	})
}

func TestDeleteRestoresOutstandingReservation(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 3)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.invoices.Delete(ctx, invoice.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := f.stockQuantity(t, "gold-ring"); got != 10 {
		t.Fatalf("expected stock back at 10, got %d", got)
	}
	if _, err := f.invoices.GetByID(ctx, invoice.ID.String()); !errors.Is(err, invoicingdomain.ErrInvoiceNotFound) {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestDeleteCancelledDoesNotRestoreTwice(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 2)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.invoices.Cancel(ctx, invoice.ID.String(), ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.invoices.Delete(ctx, invoice.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := f.stockQuantity(t, "gold-ring"); got != 10 {
		t.Fatalf("expected stock at 10 after single restoration, got %d", got)
	}
}

func TestDeletePaidDoesNotRestoreStock(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	invoice, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 3)},
		MarkSent:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.invoices.MarkAsPaid(ctx, invoice.ID.String(), invoicingdomain.MarkPaidRequest{PaymentMethod: "card"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if err := f.invoices.Delete(ctx, invoice.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The goods were sold; deleting the paid record must not restock them.
	if got := f.stockQuantity(t, "gold-ring"); got != 7 {
		t.Fatalf("expected stock to stay at 7, got %d", got)
	}
}

func TestConcurrentCreatesNeverOversell(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 5, "500.00")
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
				CustomerID: f.customer.ID.String(),
				Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *stockdomain.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded > 5 {
		t.Fatalf("oversold: %d of 5 units reserved", succeeded)
	}
	if got := f.stockQuantity(t, "gold-ring"); got != int64(5-succeeded) {
		t.Fatalf("expected quantity %d, got %d", 5-succeeded, got)
	}
}

func TestSequentialNumbersAcrossInvoices(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	first, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if first.InvoiceNumber != "2026010001" || second.InvoiceNumber != "2026010002" {
		t.Fatalf("expected sequential numbers, got %s and %s", first.InvoiceNumber, second.InvoiceNumber)
	}
}

func TestFailedCreateDoesNotBurnSequence(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 2, "500.00")
	ctx := context.Background()

	// Exhausts availability so the second create fails after the number
	// allocation inside its transaction.
	if _, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 2)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
	}); err == nil {
		t.Fatal("expected insufficient stock error")
	}

	// The rolled back allocation is reusable; the next invoice continues
	// the visible sequence without a gap.
	if err := f.stock.Restore(ctx, "gold-ring", 2, "restock"); err != nil {
		t.Fatalf("restock: %v", err)
	}
	third, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
	})
	if err != nil {
		t.Fatalf("create after restock: %v", err)
	}
	if third.InvoiceNumber != "2026010002" {
		t.Fatalf("expected 2026010002, got %s", third.InvoiceNumber)
	}
}

func TestListFiltersByStatusAndCustomer(t *testing.T) {
	f := setupInvoicing(t)
	f.seedStock(t, "gold-ring", 10, "500.00")
	ctx := context.Background()

	draft, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := f.invoices.Create(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Lines:      []invoicingdomain.LineRequest{skuLine("gold-ring", 1)},
		MarkSent:   true,
	}); err != nil {
		t.Fatalf("create sent: %v", err)
	}

	status := invoicingdomain.InvoiceStatusDraft
	drafts, err := f.invoices.List(ctx, invoicingdomain.ListInvoiceRequest{Status: &status})
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 || drafts[0].ID != draft.ID {
		t.Fatalf("expected only the draft invoice, got %d", len(drafts))
	}

	customerID := f.customer.ID.String()
	all, err := f.invoices.List(ctx, invoicingdomain.ListInvoiceRequest{CustomerID: &customerID})
	if err != nil {
		t.Fatalf("list by customer: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 invoices for customer, got %d", len(all))
	}
}
