package main

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/amgpay/portal/internal/config"
	"github.com/amgpay/portal/internal/domain/contract"
	"github.com/amgpay/portal/internal/domain/coverage"
	"github.com/amgpay/portal/internal/domain/payment"
	"github.com/amgpay/portal/internal/domain/verification"
	"github.com/amgpay/portal/internal/platform/auth"
	"github.com/amgpay/portal/internal/platform/db"
	"github.com/amgpay/portal/internal/platform/jsoncodec"
	"github.com/amgpay/portal/internal/platform/middleware"
	"github.com/amgpay/portal/internal/upstream"
)

const version = "1.0.0"

func upstreamConfig(cfg *config.Config) upstream.Config {
	return upstream.Config{
		BaseURL:  cfg.AMGBaseURL,
		Username: cfg.AMGUsername,
		Password: cfg.AMGPassword,
		Timeout:  cfg.AMGTimeout,
		RetryMax: cfg.AMGRetryMax,
	}
}

func holoConfig(cfg *config.Config) payment.HoloConfig {
	return payment.HoloConfig{
		Mode:            cfg.HoloMode,
		PaymentURL:      cfg.HoloPaymentURL,
		MerchantID:      cfg.HoloMerchantID,
		Currency:        cfg.HoloCurrency,
		FrontendBaseURL: cfg.FrontendBaseURL,
	}
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AdminTokenIssuer,
		SigningKey: []byte(cfg.AdminTokenSecret),
	}
}

func newSyncer(cfg *config.Config, client *upstream.Client, pool *pgxpool.Pool, logger zerolog.Logger) *contract.Syncer {
	return contract.NewSyncer(client,
		contract.NewRepoPG(pool),
		contract.NewSyncStatusRepoPG(pool),
		contract.SyncConfig{BatchSize: cfg.SyncBatchSize, PageSize: cfg.AMGContractPageSize},
		logger)
}

// buildServer wires every route. pool may be nil, in which case the
// contract cache, the sync routes and the notification log are left out.
// The returned syncer is nil without a pool.
func buildServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*echo.Echo, *contract.Syncer) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsoncodec.Serializer{}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	limiter := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	})

	client := upstream.NewClient(upstreamConfig(cfg), logger)

	var (
		contractSources []coverage.PolicySource
		notifications   payment.NotificationRepository
		syncer          *contract.Syncer
	)
	if pool != nil {
		contractSources = append(contractSources, contract.NewCachedSource(contract.NewRepoPG(pool)))
		notifications = payment.NewNotificationRepoPG(pool)
		syncer = newSyncer(cfg, client, pool, logger)
	}
	if cfg.AMGContractScanPages > 0 {
		contractSources = append(contractSources,
			contract.NewScanSource(client, cfg.AMGContractScanPages, cfg.AMGContractPageSize, logger))
	}

	api := e.Group("/api")

	verifySvc := verification.NewService(client, coverage.ParseGuardConfig(cfg.AMGTestPolicyMatch), logger, contractSources...)
	verification.NewHandler(verifySvc, logger).RegisterRoutes(api, limiter)

	history := payment.NewHistoryService(client, cfg.HoloCurrency, logger)
	payments := payment.NewHandler(holoConfig(cfg), history, notifications, logger)
	payments.RegisterRoutes(api, limiter)

	if pool != nil {
		admin := api.Group("/admin", auth.JWTMiddleware(jwtConfig(cfg)))
		contract.NewHandler(syncer, contract.NewSyncStatusRepoPG(pool)).RegisterRoutes(admin)
		payments.RegisterAdminRoutes(admin)
	}

	return e, syncer
}
