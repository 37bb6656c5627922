package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier/internal/bizconfig"
	bizconfigdomain "github.com/atelierhq/atelier/internal/bizconfig/domain"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/customer"
	customerdomain "github.com/atelierhq/atelier/internal/customer/domain"
	"github.com/atelierhq/atelier/internal/invoicing"
	invoicingdomain "github.com/atelierhq/atelier/internal/invoicing/domain"
	"github.com/atelierhq/atelier/internal/numbering"
	obslogger "github.com/atelierhq/atelier/internal/observability/logger"
	obsmetrics "github.com/atelierhq/atelier/internal/observability/metrics"
	obstracing "github.com/atelierhq/atelier/internal/observability/tracing"
	"github.com/atelierhq/atelier/internal/stock"
	stockdomain "github.com/atelierhq/atelier/internal/stock/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	customer.Module,
	stock.Module,
	numbering.Module,
	bizconfig.Module,
	invoicing.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	invoiceSvc  invoicingdomain.Service
	stockSvc    stockdomain.Service
	customerSvc customerdomain.Service
	settingsSvc bizconfigdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	InvoiceSvc  invoicingdomain.Service
	StockSvc    stockdomain.Service
	CustomerSvc customerdomain.Service
	SettingsSvc bizconfigdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		invoiceSvc:  p.InvoiceSvc,
		stockSvc:    p.StockSvc,
		customerSvc: p.CustomerSvc,
		settingsSvc: p.SettingsSvc,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	invoices := api.Group("/invoices")
	invoices.POST("", s.CreateInvoice)
	invoices.GET("", s.ListInvoices)
	invoices.GET("/:id", s.GetInvoiceByID)
	invoices.POST("/:id/send", s.SendInvoice)
	invoices.POST("/:id/pay", s.PayInvoice)
	invoices.POST("/:id/cancel", s.CancelInvoice)
	invoices.DELETE("/:id", s.DeleteInvoice)

	items := api.Group("/stock/items")
	items.POST("", s.CreateStockItem)
	items.GET("", s.ListStockItems)
	items.GET("/:sku", s.GetStockItemBySKU)
	items.POST("/:sku/adjust", s.AdjustStockItem)
	items.PATCH("/:sku/active", s.SetStockItemActive)
	items.DELETE("/:sku", s.DeleteStockItem)

	customers := api.Group("/customers")
	customers.POST("", s.CreateCustomer)
	customers.GET("", s.ListCustomers)
	customers.GET("/:id", s.GetCustomerByID)

	settings := api.Group("/settings")
	settings.GET("", s.ListSettings)
	settings.GET("/:key", s.GetSetting)
	settings.PUT("/:key", s.PutSetting)
}
