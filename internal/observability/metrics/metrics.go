package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	invoicesCreated    metric.Int64Counter
	invoicesCancelled  metric.Int64Counter
	invoicesPaid       metric.Int64Counter
	stockRejections    metric.Int64Counter
	overdueTransitions metric.Int64Counter
	sweeperRuns        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "atelier"
	}
	meter := provider.Meter(name)

	invoicesCreated, err := meter.Int64Counter("atelier_invoices_created_total")
	if err != nil {
		return nil, err
	}
	invoicesCancelled, err := meter.Int64Counter("atelier_invoices_cancelled_total")
	if err != nil {
		return nil, err
	}
	invoicesPaid, err := meter.Int64Counter("atelier_invoices_paid_total")
	if err != nil {
		return nil, err
	}
	stockRejections, err := meter.Int64Counter("atelier_stock_reservations_rejected_total")
	if err != nil {
		return nil, err
	}
	overdueTransitions, err := meter.Int64Counter("atelier_invoices_overdue_total")
	if err != nil {
		return nil, err
	}
	sweeperRuns, err := meter.Int64Counter("atelier_sweeper_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesCreated:    invoicesCreated,
		invoicesCancelled:  invoicesCancelled,
		invoicesPaid:       invoicesPaid,
		stockRejections:    stockRejections,
		overdueTransitions: overdueTransitions,
		sweeperRuns:        sweeperRuns,
	}, nil
}

func (m *Metrics) IncInvoiceCreated(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) IncInvoiceCancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.invoicesCancelled.Add(ctx, 1)
}

func (m *Metrics) IncInvoicePaid(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.invoicesPaid.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) IncStockRejection(ctx context.Context, sku string) {
	if m == nil {
		return
	}
	m.stockRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("sku", sku)))
}

func (m *Metrics) AddOverdueTransitions(ctx context.Context, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.overdueTransitions.Add(ctx, count)
}

func (m *Metrics) IncSweeperRun(ctx context.Context) {
	if m == nil {
		return
	}
	m.sweeperRuns.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp metrics protocol %q", protocol)
	}
}
