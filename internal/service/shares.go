// shares.go — сервис временных ссылок обмена.
//
// Ссылка обмена даёт анонимный доступ к скачиванию образа на ограниченный
// срок. Истечение проверяется лениво при обращении (просроченная ссылка
// удаляется на месте) и фоново периодической очисткой (SR_SHARE_SWEEP_INTERVAL).
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/repository"
)

// Prometheus метрики очистки ссылок
var (
	// shareSweepRunsTotal — количество запусков очистки.
	shareSweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sr_share_sweep_runs_total",
		Help: "Общее количество запусков очистки ссылок обмена",
	})

	// shareSweepDeletedTotal — количество удалённых просроченных ссылок.
	shareSweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sr_share_sweep_deleted_total",
		Help: "Общее количество удалённых просроченных ссылок обмена",
	})
)

// DefaultShareDays — срок действия ссылки по умолчанию.
const DefaultShareDays = 7

// ShareService — сервис временных ссылок обмена.
type ShareService struct {
	shareRepo repository.ShareRepository
	// containers — доступ к контейнеру и файлу образа по ссылке
	containers *ContainerService
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска SweepOnce
	cancel context.CancelFunc
}

// NewShareService создаёт сервис ссылок обмена.
func NewShareService(
	shareRepo repository.ShareRepository,
	containers *ContainerService,
	interval time.Duration,
	logger *slog.Logger,
) *ShareService {
	return &ShareService{
		shareRepo:  shareRepo,
		containers: containers,
		interval:   interval,
		logger:     logger.With(slog.String("component", "share_service")),
	}
}

// Create создаёт ссылку обмена на контейнер сроком days дней.
// Доступно владельцу коллекции. Повторный запрос с тем же сроком
// возвращает существующую ссылку.
func (s *ShareService) Create(ctx context.Context, actor *model.User, collection, name, tag string, days int) (*model.Share, *model.Container, error) {
	if days <= 0 {
		days = DefaultShareDays
	}

	c, err := s.containers.getForEdit(ctx, actor, collection, name, tag)
	if err != nil {
		return nil, nil, err
	}

	// Срок округляется до суток: одинаковый запрос в течение дня
	// попадает в ту же ссылку.
	expire := time.Now().UTC().Truncate(24 * time.Hour).Add(time.Duration(days) * 24 * time.Hour)
	share := &model.Share{
		ID:          uuid.New().String(),
		ContainerID: c.ID,
		ExpireDate:  expire,
		Secret:      uuid.NewString(),
	}
	if err := s.shareRepo.GetOrCreate(ctx, share); err != nil {
		return nil, nil, fmt.Errorf("создание ссылки обмена: %w", err)
	}

	s.logger.Info("Ссылка обмена создана",
		slog.String("share_id", share.ID),
		slog.String("container_id", c.ID),
		slog.Time("expire_date", share.ExpireDate),
	)
	return share, c, nil
}

// Download открывает файл образа по ссылке обмена. Анонимный доступ.
// Просроченная ссылка удаляется на месте и отвечает ErrShareExpired.
func (s *ShareService) Download(ctx context.Context, containerID, secret string) (*model.Container, io.ReadCloser, error) {
	share, err := s.shareRepo.GetBySecret(ctx, containerID, secret)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("получение ссылки обмена: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(share.Secret), []byte(secret)) != 1 {
		return nil, nil, ErrNotFound
	}

	if share.Expired(time.Now().UTC()) {
		// Ленивое удаление: ссылка уничтожается при первом обращении
		// после истечения срока.
		if err := s.shareRepo.Delete(ctx, share.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Не удалось удалить просроченную ссылку",
				slog.String("share_id", share.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil, ErrShareExpired
	}

	c, err := s.containers.containerRepo.GetByID(ctx, containerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("получение контейнера: %w", err)
	}
	rc, err := s.containers.openImage(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return c, rc, nil
}

// Start запускает фоновую горутину очистки просроченных ссылок.
// Вызывается один раз при старте приложения.
func (s *ShareService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Очистка ссылок обмена запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую очистку.
func (s *ShareService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Очистка ссылок обмена остановлена")
}

// run — основной цикл фоновой горутины.
func (s *ShareService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce выполняет один цикл очистки просроченных ссылок.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *ShareService) SweepOnce(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.shareRepo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Ошибка очистки просроченных ссылок",
			slog.String("error", err.Error()),
		)
		return 0
	}

	shareSweepRunsTotal.Inc()
	shareSweepDeletedTotal.Add(float64(deleted))

	if deleted > 0 {
		s.logger.Info("Просроченные ссылки удалены",
			slog.Int64("deleted", deleted),
		)
	}
	return deleted
}
