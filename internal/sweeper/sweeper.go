// Package sweeper drives sent invoices past their due date to overdue on a
// schedule. Transitions go through the lifecycle's status guards, so a sweep
// racing a concurrent cancellation or payment is benign.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/atelierhq/atelier/internal/clock"
	invoicingdomain "github.com/atelierhq/atelier/internal/invoicing/domain"
	obsmetrics "github.com/atelierhq/atelier/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	InvoiceSvc invoicingdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	invoiceSvc invoicingdomain.Service
	metrics    *obsmetrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.InvoiceSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("sweeper"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		metrics:    p.Metrics,
	}, nil
}

// Run performs one sweep and returns how many invoices were transitioned.
// Safe to call repeatedly and concurrently with invoice mutation.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	s.metrics.IncSweeperRun(ctx)
	now := s.clock.Now()

	// Page by id so invoices skipped over a guard miss cannot be
	// re-scanned within the same run.
	count := 0
	var after snowflake.ID
	for {
		var ids []snowflake.ID
		err := s.db.WithContext(ctx).Raw(
			`SELECT id FROM invoices
			 WHERE status = ? AND due_date < ? AND id > ?
			 ORDER BY id
			 LIMIT ?`,
			invoicingdomain.InvoiceStatusSent, now, after, s.cfg.BatchSize,
		).Scan(&ids).Error
		if err != nil {
			return count, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if _, err := s.invoiceSvc.MarkOverdue(ctx, id.String()); err != nil {
				// A guard miss means the invoice moved on between the scan
				// and the transition; skip it, it is no longer ours to sweep.
				if errors.Is(err, invoicingdomain.ErrInvalidStateTransition) ||
					errors.Is(err, invoicingdomain.ErrNotPastDue) ||
					errors.Is(err, invoicingdomain.ErrInvoiceNotFound) {
					continue
				}
				return count, err
			}
			count++
		}
		after = ids[len(ids)-1]
	}

	s.metrics.AddOverdueTransitions(ctx, int64(count))
	if count > 0 {
		s.log.Info("overdue sweep finished", zap.Int("transitioned", count))
	}
	return count, nil
}

// RunForever sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("overdue sweep failed", zap.Error(err))
			}
		}
	}
}
