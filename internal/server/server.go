package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/studiva/campusbill/internal/academic"
	academicdomain "github.com/studiva/campusbill/internal/academic/domain"
	"github.com/studiva/campusbill/internal/audit"
	auditdomain "github.com/studiva/campusbill/internal/audit/domain"
	"github.com/studiva/campusbill/internal/config"
	"github.com/studiva/campusbill/internal/debt"
	debtdomain "github.com/studiva/campusbill/internal/debt/domain"
	"github.com/studiva/campusbill/internal/invoice"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/studiva/campusbill/internal/negotiation"
	negotiationdomain "github.com/studiva/campusbill/internal/negotiation/domain"
	"github.com/studiva/campusbill/internal/observability"
	obsmiddleware "github.com/studiva/campusbill/internal/observability/logger"
	obsmetrics "github.com/studiva/campusbill/internal/observability/metrics"
	obstracing "github.com/studiva/campusbill/internal/observability/tracing"
	"github.com/studiva/campusbill/internal/payment"
	paymentdomain "github.com/studiva/campusbill/internal/payment/domain"
	"github.com/studiva/campusbill/internal/ratelimit"
	"github.com/studiva/campusbill/internal/scheduler"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	academic.Module,
	invoice.Module,
	debt.Module,
	negotiation.Module,
	payment.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	invoiceSvc     invoicedomain.Service
	debtSvc        debtdomain.Service
	negotiationSvc negotiationdomain.Service
	paymentSvc     paymentdomain.Service
	academicSvc    academicdomain.Service
	auditSvc       auditdomain.Service

	obsMetrics     *obsmetrics.Metrics
	paymentLimiter *ratelimit.PaymentLimiter
	sweeper        *scheduler.Sweeper
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node

	InvoiceSvc     invoicedomain.Service
	DebtSvc        debtdomain.Service
	NegotiationSvc negotiationdomain.Service
	PaymentSvc     paymentdomain.Service
	AcademicSvc    academicdomain.Service
	AuditSvc       auditdomain.Service

	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
	PaymentLimiter *ratelimit.PaymentLimiter `optional:"true"`
	Sweeper        *scheduler.Sweeper
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		invoiceSvc:     p.InvoiceSvc,
		debtSvc:        p.DebtSvc,
		negotiationSvc: p.NegotiationSvc,
		paymentSvc:     p.PaymentSvc,
		academicSvc:    p.AcademicSvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
		paymentLimiter: p.PaymentLimiter,
		sweeper:        p.Sweeper,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.PATCH("/invoices/:id", s.UpdateInvoice)
	api.POST("/invoices/:id/pay", s.PayInvoice)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	api.GET("/summary", s.GetSummary)

	// -------- Students --------
	api.GET("/students/:id", s.GetStudent)
	api.GET("/students/:id/debt", s.GetStudentDebt)

	// -------- Negotiations --------
	api.POST("/negotiations/preview", s.PreviewNegotiation)
	api.POST("/negotiations", s.ExecuteNegotiation)

	// -------- Payments --------
	api.POST("/payments", s.PaymentRateLimit(), s.CreatePayment)
	api.POST("/payments/:id/settle", s.SettlePayment)
	api.POST("/payments/:id/fail", s.FailPayment)
	api.POST("/payments/:id/refund", s.RefundPayment)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}
