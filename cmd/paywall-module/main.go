// Точка входа Paywall Module — сервис платного доступа к медиа.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт файловое хранилище, клиентов водяных знаков и провайдера платежей,
// сервисный слой и API handlers, запускает фоновую сверку платежей,
// topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/paywall-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/config"
	"github.com/bigkaa/goartstore/paywall-module/internal/database"
	"github.com/bigkaa/goartstore/paywall-module/internal/payment"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
	"github.com/bigkaa/goartstore/paywall-module/internal/server"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
	"github.com/bigkaa/goartstore/paywall-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/paywall-module/internal/watermark"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Paywall Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("payment_provider", cfg.PaymentProvider),
		slog.String("price_policy", cfg.PricePolicy),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	mediaRepo := repository.NewMediaRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	entitlementRepo := repository.NewEntitlementRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Файловое хранилище оригиналов и превью
	blobs, err := blobstore.New(cfg.StorageDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("dir", cfg.StorageDir), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Клиент сервиса водяных знаков
	watermarkClient := watermark.New(watermark.Config{
		BaseURL:                 cfg.WatermarkURL,
		Timeout:                 cfg.WatermarkTimeout,
		MaxResultSize:           cfg.MaxUploadSize,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
	}, logger)
	if cfg.WatermarkURL == "" {
		logger.Warn("PW_WATERMARK_URL не задан, превью изображений создаются без водяного знака")
	}

	// 8. Провайдер платежей
	var gateway payment.Gateway
	switch cfg.PaymentProvider {
	case config.PaymentProviderHTTP:
		gateway, err = payment.NewHTTPGateway(payment.HTTPConfig{
			BaseURL:                 cfg.PaymentProviderURL,
			APIKey:                  cfg.PaymentAPIKey,
			Timeout:                 cfg.PaymentTimeout,
			CACertPath:              cfg.CACertPath,
			BreakerFailureThreshold: cfg.BreakerFailureThreshold,
			BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания клиента провайдера платежей", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		gateway = payment.NewDemoGateway()
		logger.Warn("Используется demo-провайдер: платежи подтверждаются без списания")
	}

	// 9. Services
	mediaStore := service.NewMediaStore(mediaRepo, cfg.CacheSize, cfg.CacheTTL)
	access := service.NewAccessResolver(mediaStore, entitlementRepo, paymentRepo)
	ledger := service.NewLedger(txRunner, cfg.DBTxTimeout, logger)

	catalogSvc := service.NewCatalogService(mediaStore, mediaRepo, access, blobs, watermarkClient, service.CatalogConfig{
		DefaultPrice:  cfg.DefaultPrice,
		WatermarkText: cfg.WatermarkText,
	}, logger)
	deliverySvc := service.NewDeliveryGate(mediaStore, access, blobs, logger)
	purchaseSvc := service.NewPurchaseService(mediaStore, access, paymentRepo, ledger, gateway, service.PurchaseConfig{
		Currency:      cfg.Currency,
		PricePolicy:   cfg.PricePolicy,
		ChargeTimeout: cfg.PaymentTimeout,
	}, logger)
	reconciler := service.NewReconciler(txRunner, ledger, cfg.DBTxTimeout, logger)
	reportingSvc := service.NewReportingService(paymentRepo)

	// 10. Фоновая сверка незавершённых платежей
	sweepSvc := service.NewSweepService(paymentRepo, ledger, gateway, service.SweepConfig{
		Interval:      cfg.SweepInterval,
		PendingAge:    cfg.SweepPendingAge,
		ExpireAfter:   cfg.SweepExpireAfter,
		BatchSize:     cfg.SweepBatchSize,
		StatusTimeout: cfg.PaymentTimeout,
	}, logger)
	sweepSvc.Start(ctx)
	defer sweepSvc.Stop()

	// 11. topologymetrics — мониторинг зависимостей
	var depHealth handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:          "paywall-module",
		Group:              cfg.DephealthGroup,
		PgConnURL:          cfg.DatabaseURL(),
		PaymentProviderURL: cfg.PaymentProviderURL,
		WatermarkURL:       cfg.WatermarkURL,
		CheckInterval:      cfg.DephealthCheckInterval,
		IsEntry:            cfg.DephealthIsEntry,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
		depHealth = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Readiness checkers (PostgreSQL, хранилище, JWKS)
	idpChecker, err := middleware.NewIdPReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), blobs, idpChecker, depHealth)

	// 13. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		CACertPath:      cfg.CACertPath,
		Issuer:          cfg.JWTIssuer,
		AdminGroups:     cfg.RoleAdminGroups,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 14. HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		Health:   healthHandler,
		Media:    handlers.NewMediaHandler(catalogSvc, access, deliverySvc, cfg.Currency, logger),
		Purchase: handlers.NewPurchaseHandler(purchaseSvc, logger),
		Admin:    handlers.NewAdminHandler(catalogSvc, reportingSvc, cfg.MaxUploadSize, cfg.Currency, logger),
		Webhook:  handlers.NewWebhookHandler(reconciler, cfg.WebhookSecret, cfg.WebhookTolerance, logger),
	}, jwtAuth.Middleware())

	// 15. Запуск (блокирует до сигнала завершения)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Paywall Module остановлен")
}
