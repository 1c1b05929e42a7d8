package app

import (
	"time"

	"subscription-checkout/internal/config"
	"subscription-checkout/internal/database"
	"subscription-checkout/internal/handler"
	"subscription-checkout/internal/middleware"
	"subscription-checkout/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRouter builds the HTTP surface on top of svc.
func NewRouter(logger *zap.Logger, cfg *config.Config, svc service.PaymentService, db database.Service) (*gin.Engine, error) {
	r := gin.New()
	// nil trusts no proxy, ClientIP is then the peer address
	var proxies []string
	if len(cfg.TrustedProxies) > 0 {
		proxies = cfg.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(middleware.TraceID())
	r.Use(middleware.Metrics())

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", handler.HeaderIdempotenceKey, middleware.HeaderTraceID},
			ExposeHeaders:    []string{middleware.HeaderTraceID},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	allowlist, err := middleware.SourceAllowlist(logger, cfg.WebhookAllowedCIDRs)
	if err != nil {
		return nil, err
	}

	var limit gin.HandlerFunc
	if cfg.PurchaseRateLimit > 0 {
		limit = middleware.RateLimit(logger, rate.NewLimiter(rate.Limit(cfg.PurchaseRateLimit), cfg.PurchaseRateBurst))
	}

	handler.NewPaymentHandler(logger, svc).RegisterRoutes(r, limit, allowlist)
	handler.NewBaseHandler(logger, db).RegisterRoutes(r)
	return r, nil
}
