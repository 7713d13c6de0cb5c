// Пакет server — HTTP-сервер Entitlement Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/saaskit/entitlement-module/internal/api/handlers"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/middleware"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/openapi"
	"github.com/bigkaa/saaskit/entitlement-module/internal/config"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// Server — HTTP-сервер Entitlement Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Deps — обработчики и middleware, из которых собирается router.
type Deps struct {
	// API — обработчики REST API.
	API *handlers.APIHandler
	// Webhook — обработчик webhook Stripe.
	Webhook http.Handler
	// Validator — OpenAPI-валидация запросов (nil — без валидации).
	Validator *openapi.Validator
	// JWTAuth — JWT middleware (nil — без аутентификации, для тестов).
	JWTAuth *middleware.JWTAuth
	// Roles — источник ролей для административных маршрутов.
	Roles middleware.RoleProvider
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi router.
// Порядок middleware: метрики → логирование → OpenAPI-валидация → JWT.
func NewRouter(logger *slog.Logger, deps Deps) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger, "/health/live", "/health/ready", "/metrics"))
	if deps.Validator != nil {
		router.Use(deps.Validator.Middleware())
	}

	// JWT middleware с исключениями для публичных endpoints.
	// Health и metrics проверяются Kubernetes напрямую, webhook подписан Stripe.
	if deps.JWTAuth != nil {
		router.Use(jwtAuthWithExclusions(deps.JWTAuth, "/health/", "/metrics", handlers.StripeWebhookPath))
	}

	api := deps.API
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	requireAdmin := middleware.RequireRole(deps.Roles, logger, model.RoleAdmin, model.RoleFounder)

	router.Route("/api/v1", func(r chi.Router) {
		if deps.Webhook != nil {
			r.Method(http.MethodPost, strings.TrimPrefix(handlers.StripeWebhookPath, "/api/v1"), deps.Webhook)
		}

		// Текущий пользователь
		r.Get("/me", api.GetMe)
		r.Post("/me/plan/sync", api.SyncMyPlan)
		r.Get("/me/modules", api.ListMyModules)
		r.Get("/me/modules/{ref}/access", api.CheckMyModuleAccess)

		// Администрирование: роль читается из БД
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Post("/users", api.CreateUser)
			r.Get("/users/{id}", api.GetUser)
			r.Delete("/users/{id}", api.DeleteUser)
			r.Post("/users/{id}/plan/sync", api.SyncUserPlan)
			r.Put("/users/{id}/modules/{moduleId}/grant", api.GrantModuleAccess)
			r.Delete("/users/{id}/modules/{moduleId}/grant", api.RevokeModuleAccess)

			r.Get("/modules", api.ListModules)
			r.Post("/modules", api.CreateModule)
			r.Get("/modules/{id}", api.GetModule)
			r.Patch("/modules/{id}", api.UpdateModule)
			r.Post("/modules/{id}/enable", api.EnableModule)
			r.Post("/modules/{id}/disable", api.DisableModule)
			r.Post("/modules/{id}/archive", api.ArchiveModule)

			r.Get("/audit", api.ListAudit)
		})
	})

	return router
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Проверяем, начинается ли путь с исключённого префикса
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Применяем JWT middleware
			jwtMiddleware(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
