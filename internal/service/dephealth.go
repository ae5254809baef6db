// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Paywall Module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (critical)
//   - провайдер платежей — HTTP checker (critical, только PW_PAYMENT_PROVIDER=http)
//   - сервис водяных знаков — HTTP checker (non-critical: без него превью
//     создаются в деградированном режиме)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (PW_DEPHEALTH_GROUP)
	Group string
	// PgConnURL — URL PostgreSQL без пароля (для лейблов, не для подключения)
	PgConnURL string
	// PaymentProviderURL — URL провайдера платежей (пусто — не мониторится)
	PaymentProviderURL string
	// WatermarkURL — URL сервиса водяных знаков (пусто — не мониторится)
	WatermarkURL string
	// CheckInterval — интервал проверки
	CheckInterval time.Duration
	// IsEntry — добавить лейбл isentry=yes (DEPHEALTH_ISENTRY)
	IsEntry bool
}

// httpDependency — внешняя HTTP-зависимость.
type httpDependency struct {
	name       string
	url        string
	healthPath string
	critical   bool
}

// httpDependencies возвращает настроенные HTTP-зависимости.
func (c DephealthConfig) httpDependencies() []httpDependency {
	var deps []httpDependency
	if c.PaymentProviderURL != "" {
		deps = append(deps, httpDependency{
			name: "payment-provider", url: c.PaymentProviderURL, healthPath: "/health", critical: true,
		})
	}
	if c.WatermarkURL != "" {
		deps = append(deps, httpDependency{
			name: "watermark-service", url: c.WatermarkURL, healthPath: "/health", critical: false,
		})
	}
	return deps
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
// db — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool().
func NewDephealthService(cfg DephealthConfig, db *sql.DB, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, db, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	db *sql.DB,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, db, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	cfg DephealthConfig,
	db *sql.DB,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	pgDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.PgConnURL),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if cfg.IsEntry {
		pgDepOpts = append(pgDepOpts, dephealth.WithLabel("isentry", "yes"))
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)), pgDepOpts...),
	}

	for _, dep := range cfg.httpDependencies() {
		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(dep.url),
			dephealth.WithHTTPHealthPath(dep.healthPath),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(dep.critical),
		}
		if cfg.IsEntry {
			depOpts = append(depOpts, dephealth.WithLabel("isentry", "yes"))
		}
		if parsed, err := url.Parse(dep.url); err == nil && parsed.Scheme == "https" {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP(dep.name, depOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
