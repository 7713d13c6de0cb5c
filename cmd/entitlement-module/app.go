package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/saaskit/entitlement-module/internal/api/handlers"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/middleware"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/openapi"
	"github.com/bigkaa/saaskit/entitlement-module/internal/config"
	"github.com/bigkaa/saaskit/entitlement-module/internal/database"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
	"github.com/bigkaa/saaskit/entitlement-module/internal/server"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
	"github.com/bigkaa/saaskit/entitlement-module/internal/stripeclient"
)

// app — общие зависимости команд: пул БД, репозитории и сервисы.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool

	repos  *repository.Repositories
	stripe *stripeclient.Client

	audit      *service.AuditRecorder
	users      *service.UserService
	modules    *service.ModuleService
	access     *service.ModuleAccessService
	reconciler *service.PlanReconciler
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

// newApp подключается к PostgreSQL и создаёт сервисный слой.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("подключение к PostgreSQL: %w", err)
	}

	repos := repository.NewRepositories(pool)
	uow := repository.NewTxRunner(pool)

	stripeClient := stripeclient.New(
		cfg.StripeAPIKey,
		cfg.StripeAPIURL,
		&http.Client{Timeout: cfg.StripeTimeout},
		logger,
	)

	audit := service.NewAuditRecorder(repos.Audit, logger)
	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		repos:      repos,
		stripe:     stripeClient,
		audit:      audit,
		users:      service.NewUserService(repos.Users, logger),
		modules:    service.NewModuleService(uow, repos.Modules, logger),
		access:     service.NewModuleAccessService(uow, repos, audit, logger),
		reconciler: service.NewPlanReconciler(uow, repos.Users, stripeClient, cfg.PlanCatalog, audit, cfg.StripeTimeout, logger),
	}, nil
}

// Close освобождает пул соединений.
func (a *app) Close() {
	a.pool.Close()
}

// runServe запускает HTTP-сервер, webhook Stripe и фоновые задачи.
func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Entitlement Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int("catalog_prices", cfg.PlanCatalog.Len()),
	)

	if os.Getenv("EM_DEPHEALTH_GROUP") == "" {
		logger.Warn("EM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("миграции БД: %w", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := database.StdDB(a.pool)
	defer pgDB.Close()

	// Дедупликация webhook: LRU в памяти перед таблицей processed_webhook_events
	deduper := service.NewWebhookDeduper(a.repos.WebhookEvents, cfg.WebhookDedupCacheSize, cfg.WebhookDedupTTL, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(cfg.StripeWebhookSecret, deduper, a.reconciler, a.users, logger)

	// Readiness: PostgreSQL + Stripe
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(a.pool), a.stripe)
	apiHandler := handlers.NewAPIHandler(healthHandler, a.access, a.reconciler, a.modules, a.users, a.audit, logger)

	validator, err := openapi.NewValidator(logger)
	if err != nil {
		return fmt.Errorf("OpenAPI валидатор: %w", err)
	}

	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		cfg.JWTJWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return fmt.Errorf("JWT middleware: %w", err)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// Фоновые задачи
	purgeSvc := service.NewUserPurgeService(a.repos, cfg.UserRetention, cfg.PurgeInterval, logger)
	purgeSvc.Start(ctx)

	var resyncSvc *service.PlanResyncService
	if cfg.PlanResyncInterval > 0 {
		resyncSvc = service.NewPlanResyncService(a.reconciler, a.repos.Users, a.repos.SyncState, cfg.PlanResyncInterval, logger)
		resyncSvc.Start(ctx)
	} else {
		logger.Info("Периодическая сверка тарифов отключена (EM_PLAN_RESYNC_INTERVAL=0)")
	}

	dephealthSvc := startDephealth(ctx, cfg, pgDB, logger)

	srv := server.New(cfg, logger, server.Deps{
		API:       apiHandler,
		Webhook:   webhookHandler,
		Validator: validator,
		JWTAuth:   jwtAuth,
		Roles:     a.users,
	})
	runErr := srv.Run()

	// Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if resyncSvc != nil {
		resyncSvc.Stop()
	}
	purgeSvc.Stop()

	if runErr != nil {
		return runErr
	}
	logger.Info("Entitlement Module остановлен")
	return nil
}

// startDephealth запускает topologymetrics. Ошибка не останавливает сервис.
func startDephealth(ctx context.Context, cfg *config.Config, pgDB *sql.DB, logger *slog.Logger) *service.DephealthService {
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "entitlement-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		StripeAPIURL:  cfg.StripeAPIURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc
}

// runMigrate применяет (up) или откатывает (down N) миграции.
func runMigrate(args []string) error {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		if len(args) > 1 {
			return fmt.Errorf("migrate up не принимает аргументов")
		}
		return database.Migrate(cfg, logger)
	case "down":
		if len(args) != 2 {
			return fmt.Errorf("migrate down: укажите количество шагов")
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps < 1 {
			return fmt.Errorf("migrate down: некорректное количество шагов %q", args[1])
		}
		return database.MigrateDown(cfg, steps, logger)
	default:
		return fmt.Errorf("неизвестное направление миграции %q: ожидается up или down", direction)
	}
}

// runSyncPlan сверяет тариф одного пользователя и печатает итог.
func runSyncPlan(ctx context.Context, out io.Writer, userID string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.reconciler.ReconcileFromQuery(ctx, userID, nil)
	if err != nil {
		return fmt.Errorf("сверка тарифа %s: %w", userID, err)
	}

	_, err = fmt.Fprintf(out, "user=%s plan=%s subscription_status=%s changed=%t unmapped_price=%t\n",
		userID, res.Plan, res.SubscriptionStatus, res.Changed, res.UnmappedPrice)
	return err
}
