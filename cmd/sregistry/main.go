// Точка входа реестра контейнеров.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует файловое хранилище, сервисный слой и API handlers,
// запускает фоновые задачи (очистка истёкших ссылок, topologymetrics),
// HTTP-сервер и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/sregistry/internal/api/handlers"
	"github.com/bigkaa/sregistry/internal/config"
	"github.com/bigkaa/sregistry/internal/database"
	"github.com/bigkaa/sregistry/internal/domain/hmacauth"
	"github.com/bigkaa/sregistry/internal/domain/policy"
	"github.com/bigkaa/sregistry/internal/repository"
	"github.com/bigkaa/sregistry/internal/server"
	"github.com/bigkaa/sregistry/internal/service"
	"github.com/bigkaa/sregistry/internal/storage/filestore"
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
	logger.Info("Реестр запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("SR_DEPHEALTH_GROUP") == "" {
		logger.Warn("SR_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

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

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Файловое хранилище образов
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища образов",
			slog.String("data_dir", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Хранилище образов готово", slog.String("data_dir", cfg.DataDir))

	// 6. Repositories
	userRepo := repository.NewUserRepository(pool)
	collectionRepo := repository.NewCollectionRepository(pool)
	containerRepo := repository.NewContainerRepository(pool)
	imageRepo := repository.NewImageFileRepository(pool)
	shareRepo := repository.NewShareRepository(pool)

	// 7. Политика доступа
	pol := policy.New(cfg.UserCollections)

	// 8. Services
	usersSvc := service.NewUserService(userRepo, logger)
	collectionsSvc := service.NewCollectionService(
		collectionRepo, containerRepo, pol,
		cfg.DefaultPrivate, cfg.PrivateOnly,
		logger,
	)
	containersSvc := service.NewContainerService(
		containerRepo, imageRepo, store, pol,
		logger,
	)
	pushSvc := service.NewPushService(
		collectionsSvc, containerRepo, imageRepo, store,
		logger,
	)
	sharesSvc := service.NewShareService(
		shareRepo, containersSvc,
		cfg.ShareSweepInterval,
		logger,
	)

	// 9. Bootstrap администратора (пропускается при пустом SR_ADMIN_USERNAME)
	if err := usersSvc.Bootstrap(ctx, cfg.AdminUsername, cfg.AdminToken); err != nil {
		logger.Error("Ошибка создания администратора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. HMAC-аутентификатор запросов
	auth := hmacauth.NewAuthenticator(usersSvc, logger)

	// 11. API handler
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		auth,
		pushSvc,
		containersSvc,
		collectionsSvc,
		sharesSvc,
		logger,
	)

	// 12. Фоновая очистка истёкших ссылок share
	sharesSvc.Start(ctx)

	// 12.1 topologymetrics — мониторинг зависимостей (PostgreSQL)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"sregistry",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthErr == nil {
		dephealthSvc.Stop()
	}
	sharesSvc.Stop()

	logger.Info("Реестр остановлен")
}
