// Пакет server — HTTP-сервер реестра с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/sregistry/internal/api/handlers"
	"github.com/bigkaa/sregistry/internal/api/middleware"
	"github.com/bigkaa/sregistry/internal/config"
)

// Server — HTTP-сервер реестра.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler) *Server {
	router := NewRouter(h, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
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

// NewRouter собирает chi-роутер со всеми маршрутами API.
// Вынесен отдельно, чтобы тесты могли поднимать httptest.Server
// поверх полного набора маршрутов.
func NewRouter(h *handlers.APIHandler, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Служебные endpoints. Health проверяется Kubernetes напрямую,
	// без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Проверка коллекции перед push: создаёт коллекцию при необходимости
		r.Post("/push/check", h.PushCheck)

		r.Get("/collections/{name}", h.GetCollection)

		r.Route("/containers", func(r chi.Router) {
			// Анонимные ссылки: секрет контейнера и временная ссылка share
			r.Get("/{id}/download/{secret}", h.DownloadBySecret)
			r.Get("/{id}/share/{secret}", h.DownloadShare)

			r.Route("/{collection}/{name}/{tag}", func(r chi.Router) {
				r.Get("/", h.GetContainer)
				r.Put("/", h.PushImage)
				r.Delete("/", h.DeleteContainer)
				r.Get("/image", h.PullImage)
				r.Post("/freeze", h.FreezeContainer)
				r.Post("/unfreeze", h.UnfreezeContainer)
				r.Post("/tag", h.TagContainer)
				r.Post("/share", h.CreateShare)
			})
		})
	})

	return router
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
