// containers.go — сервис жизненного цикла контейнеров:
// pull, заморозка, разморозка, теги, удаление, скачивание по секрету.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/domain/policy"
	"github.com/bigkaa/sregistry/internal/repository"
	"github.com/bigkaa/sregistry/internal/storage/filestore"
)

// ContainerService — сервис контейнеров.
type ContainerService struct {
	containerRepo repository.ContainerRepository
	imageRepo     repository.ImageFileRepository
	store         *filestore.FileStore
	policy        *policy.Policy
	logger        *slog.Logger
}

// NewContainerService создаёт сервис контейнеров.
func NewContainerService(
	containerRepo repository.ContainerRepository,
	imageRepo repository.ImageFileRepository,
	store *filestore.FileStore,
	pol *policy.Policy,
	logger *slog.Logger,
) *ContainerService {
	return &ContainerService{
		containerRepo: containerRepo,
		imageRepo:     imageRepo,
		store:         store,
		policy:        pol,
		logger:        logger.With(slog.String("component", "container_service")),
	}
}

// Get возвращает контейнер по тройке с проверкой прав просмотра.
// Скрытый от пользователя контейнер неотличим от несуществующего.
func (s *ContainerService) Get(ctx context.Context, actor *model.User, collection, name, tag string) (*model.Container, error) {
	c, err := s.containerRepo.GetByPath(ctx, collection, name, tag)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение контейнера: %w", err)
	}
	if !s.policy.CanView(actor, c) {
		return nil, ErrNotFound
	}
	return c, nil
}

// Pull открывает файл образа для чтения с проверкой прав просмотра.
// Вызывающий код обязан закрыть ReadCloser.
func (s *ContainerService) Pull(ctx context.Context, actor *model.User, collection, name, tag string) (*model.Container, io.ReadCloser, error) {
	c, err := s.Get(ctx, actor, collection, name, tag)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.openImage(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return c, rc, nil
}

// Freeze замораживает контейнер. Доступно владельцу коллекции.
// При первой заморозке контейнеру присваивается штамп версии,
// повторные заморозки его не меняют.
func (s *ContainerService) Freeze(ctx context.Context, actor *model.User, collection, name, tag string) (*model.Container, error) {
	c, err := s.getForEdit(ctx, actor, collection, name, tag)
	if err != nil {
		return nil, err
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := s.containerRepo.Freeze(ctx, c, stamp); err != nil {
		return nil, fmt.Errorf("заморозка контейнера: %w", err)
	}

	s.logger.Info("Контейнер заморожен",
		slog.String("container_id", c.ID),
		slog.String("uri", c.URI()),
	)
	return c, nil
}

// Unfreeze размораживает контейнер. Штамп версии сохраняется:
// исторический идентификатор name:tag@version остаётся разрешимым.
func (s *ContainerService) Unfreeze(ctx context.Context, actor *model.User, collection, name, tag string) (*model.Container, error) {
	c, err := s.getForEdit(ctx, actor, collection, name, tag)
	if err != nil {
		return nil, err
	}

	if err := s.containerRepo.Unfreeze(ctx, c); err != nil {
		return nil, fmt.Errorf("разморозка контейнера: %w", err)
	}

	s.logger.Info("Контейнер разморожен",
		slog.String("container_id", c.ID),
		slog.String("uri", c.ShortURI()),
	)
	return c, nil
}

// Tag создаёт новый тег поверх образа существующего контейнера.
// Новый контейнер ссылается на тот же файл образа.
func (s *ContainerService) Tag(ctx context.Context, actor *model.User, collection, name, tag, newTag string) (*model.Container, error) {
	if newTag == "" || newTag == tag {
		return nil, fmt.Errorf("%w: некорректный новый тег", ErrValidation)
	}

	src, err := s.getForEdit(ctx, actor, collection, name, tag)
	if err != nil {
		return nil, err
	}
	if src.ImageFileID == nil {
		return nil, fmt.Errorf("%w: у контейнера нет файла образа", ErrValidation)
	}

	c := &model.Container{
		ID:           uuid.New().String(),
		CollectionID: src.CollectionID,
		Name:         src.Name,
		Tag:          newTag,
		ImageFileID:  src.ImageFileID,
		Metadata:     src.Metadata,
	}
	if err := s.containerRepo.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: тег %q уже существует", ErrConflict, newTag)
		}
		return nil, fmt.Errorf("создание тега: %w", err)
	}
	c.Collection = src.Collection

	s.logger.Info("Тег создан",
		slog.String("container_id", c.ID),
		slog.String("uri", c.ShortURI()),
	)
	return c, nil
}

// Delete удаляет контейнер. Замороженный контейнер удалить нельзя —
// сначала разморозка. Файл образа удаляется с диска, только если
// на него не ссылаются другие теги.
func (s *ContainerService) Delete(ctx context.Context, actor *model.User, collection, name, tag string) error {
	c, err := s.getForEdit(ctx, actor, collection, name, tag)
	if err != nil {
		return err
	}
	if c.Frozen {
		return fmt.Errorf("%w: %s", ErrFrozen, c.URI())
	}

	orphanKey, err := s.containerRepo.Delete(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("удаление контейнера: %w", err)
	}
	if orphanKey != nil {
		if err := s.store.Delete(*orphanKey); err != nil {
			s.logger.Warn("Не удалось удалить файл образа с диска",
				slog.String("storage_key", *orphanKey),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Контейнер удалён",
		slog.String("container_id", c.ID),
		slog.String("uri", c.ShortURI()),
	)
	return nil
}

// DownloadBySecret открывает файл образа по секрету контейнера.
// Секрет ротируется при каждой мутации контейнера, поэтому
// проверка секрета сама по себе является авторизацией.
func (s *ContainerService) DownloadBySecret(ctx context.Context, containerID, secret string) (*model.Container, io.ReadCloser, error) {
	c, err := s.containerRepo.GetByID(ctx, containerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("получение контейнера: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) != 1 {
		return nil, nil, ErrNotFound
	}

	rc, err := s.openImage(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return c, rc, nil
}

// getForEdit возвращает контейнер с проверкой прав редактирования.
func (s *ContainerService) getForEdit(ctx context.Context, actor *model.User, collection, name, tag string) (*model.Container, error) {
	c, err := s.containerRepo.GetByPath(ctx, collection, name, tag)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение контейнера: %w", err)
	}
	if !s.policy.CanView(actor, c) {
		return nil, ErrNotFound
	}
	if !s.policy.CanEdit(actor, c) {
		return nil, ErrForbidden
	}
	return c, nil
}

// openImage открывает файл образа контейнера.
func (s *ContainerService) openImage(ctx context.Context, c *model.Container) (io.ReadCloser, error) {
	if c.ImageFileID == nil {
		return nil, ErrNotFound
	}
	img, err := s.imageRepo.GetByID(ctx, *c.ImageFileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение файла образа: %w", err)
	}
	f, err := s.store.Open(img.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("открытие файла образа: %w", err)
	}
	return f, nil
}
