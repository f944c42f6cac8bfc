package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"printshop/config"
	"printshop/internal/auth"
	"printshop/internal/service"
	"printshop/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services groups the business services the handlers delegate to
type Services struct {
	Orders   *service.OrderService
	Payments *service.PaymentService
	Catalog  *service.CatalogService
	Settings *service.SettingsService
}

// Options configures the HTTP surface
type Options struct {
	FrontendURL string
	Uploads     config.UploadConfig
	// Readiness probes keyed by dependency name, e.g. "postgres".
	Readiness map[string]func(context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	catalog  *service.CatalogService
	settings *service.SettingsService
	verifier *auth.Verifier
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, verifier *auth.Verifier, opts Options) *Handler {
	if opts.FrontendURL == "" {
		opts.FrontendURL = "http://localhost:3000"
	}
	if opts.Uploads.Dir == "" {
		opts.Uploads.Dir = "uploads"
	}
	if opts.Uploads.MaxFiles <= 0 {
		opts.Uploads.MaxFiles = 10
	}
	if opts.Uploads.MaxBytes <= 0 {
		opts.Uploads.MaxBytes = 10 << 20
	}
	return &Handler{
		orders:   svc.Orders,
		payments: svc.Payments,
		catalog:  svc.Catalog,
		settings: svc.Settings,
		verifier: verifier,
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{h.opts.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(auth.Middleware(h.verifier, false))
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", auth.RequireStaff(), h.updateOrderStatus)

		v1.POST("/payments/create", h.createPaymentIntent)
		v1.POST("/payments/verify", h.verifyPayment)
		v1.POST("/payments/webhook", h.paymentWebhook)
		v1.POST("/payments/cash", auth.RequireRole(auth.RoleAdmin, auth.RoleCashier), h.recordCashPayment)

		v1.GET("/services", h.listServices)
		v1.GET("/services/:id", h.getService)

		catalog := v1.Group("/services", auth.RequireRole(auth.RoleAdmin))
		catalog.POST("", h.createService)
		catalog.PUT("/:id", h.updateService)
		catalog.DELETE("/:id", h.deleteService)

		admin := v1.Group("/admin", auth.RequireRole(auth.RoleAdmin, auth.RoleCashier))
		admin.GET("/dashboard", h.dashboard)
		admin.GET("/settings", h.listSettings)
		admin.PUT("/settings/:key", h.updateSetting)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, probe := range h.opts.Readiness {
		if err := probe(ctx); err != nil {
			h.logger.Warn("Readiness probe failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
