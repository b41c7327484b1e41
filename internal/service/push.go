// push.go — сервис загрузки образов.
// Двухфазный push: сначала проверка коллекции (check), затем загрузка
// бинарного файла. Замороженная тройка (collection, name, tag)
// отклоняется до записи данных на диск.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/repository"
	"github.com/bigkaa/sregistry/internal/storage/filestore"
)

// PushService — сервис загрузки образов контейнеров.
type PushService struct {
	collections   *CollectionService
	containerRepo repository.ContainerRepository
	imageRepo     repository.ImageFileRepository
	store         *filestore.FileStore
	logger        *slog.Logger
}

// NewPushService создаёт сервис загрузки.
func NewPushService(
	collections *CollectionService,
	containerRepo repository.ContainerRepository,
	imageRepo repository.ImageFileRepository,
	store *filestore.FileStore,
	logger *slog.Logger,
) *PushService {
	return &PushService{
		collections:   collections,
		containerRepo: containerRepo,
		imageRepo:     imageRepo,
		store:         store,
		logger:        logger.With(slog.String("component", "push_service")),
	}
}

// CheckCollection — первая фаза push: проверяет права и возвращает
// коллекцию, создавая её при необходимости.
func (s *PushService) CheckCollection(ctx context.Context, actor *model.User, name string) (*model.Collection, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	if name == "" {
		return nil, fmt.Errorf("%w: имя коллекции обязательно", ErrValidation)
	}
	return s.collections.EnsureForPush(ctx, actor, name)
}

// Push — вторая фаза: записывает файл образа и создаёт либо
// перезаписывает контейнер. Перезапись тройки ротирует секрет
// контейнера и освобождает прежний файл образа, если на него
// больше никто не ссылается.
func (s *PushService) Push(ctx context.Context, actor *model.User, collection, name, tag string, r io.Reader) (*model.Container, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	if name == "" {
		return nil, fmt.Errorf("%w: имя контейнера обязательно", ErrValidation)
	}
	if tag == "" {
		tag = model.DefaultTag
	}

	col, err := s.collections.EnsureForPush(ctx, actor, collection)
	if err != nil {
		return nil, err
	}

	existing, err := s.containerRepo.GetByPath(ctx, col.Name, name, tag)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("получение контейнера: %w", err)
	}
	if existing != nil && existing.Frozen {
		return nil, fmt.Errorf("%w: %s", ErrFrozen, existing.URI())
	}

	key := filestore.NewKey(col.Name, name, tag)
	saved, err := s.store.Save(key, r)
	if err != nil {
		return nil, fmt.Errorf("запись файла образа: %w", err)
	}

	img := &model.ImageFile{
		ID:             uuid.New().String(),
		CollectionName: col.Name,
		Name:           name,
		Tag:            tag,
		StorageKey:     key,
		SizeBytes:      saved.Size,
	}
	if err := s.imageRepo.Create(ctx, img); err != nil {
		s.store.Delete(key) //nolint:errcheck // очистка после ошибки регистрации
		return nil, fmt.Errorf("регистрация файла образа: %w", err)
	}

	var container *model.Container
	if existing == nil {
		container = &model.Container{
			ID:           uuid.New().String(),
			CollectionID: col.ID,
			Name:         name,
			Tag:          tag,
			ImageFileID:  &img.ID,
			Metadata: map[string]any{
				"size_bytes": saved.Size,
				"checksum":   saved.Checksum,
			},
		}
		if err := s.containerRepo.Create(ctx, container); err != nil {
			s.store.Delete(key) //nolint:errcheck
			return nil, fmt.Errorf("создание контейнера: %w", err)
		}
		container.Collection = col
	} else {
		oldImageID := existing.ImageFileID
		existing.ImageFileID = &img.ID
		if existing.Metadata == nil {
			existing.Metadata = map[string]any{}
		}
		existing.Metadata["size_bytes"] = saved.Size
		existing.Metadata["checksum"] = saved.Checksum
		if err := s.containerRepo.Update(ctx, existing); err != nil {
			s.store.Delete(key) //nolint:errcheck
			return nil, fmt.Errorf("обновление контейнера: %w", err)
		}
		container = existing

		if oldImageID != nil {
			s.releaseImage(ctx, *oldImageID)
		}
	}

	s.logger.Info("Образ загружен",
		slog.String("container_id", container.ID),
		slog.String("uri", container.ShortURI()),
		slog.Int64("size_bytes", saved.Size),
		slog.String("user", actor.Username),
	)
	return container, nil
}

// releaseImage удаляет файл образа, если на него не осталось ссылок.
// Ошибки не прерывают push — файл подберёт следующая очистка.
func (s *PushService) releaseImage(ctx context.Context, imageID string) {
	orphanKey, err := s.imageRepo.DeleteIfOrphan(ctx, imageID)
	if err != nil {
		s.logger.Warn("Не удалось освободить файл образа",
			slog.String("image_file_id", imageID),
			slog.String("error", err.Error()),
		)
		return
	}
	if orphanKey == nil {
		return
	}
	if err := s.store.Delete(*orphanKey); err != nil {
		s.logger.Warn("Не удалось удалить файл образа с диска",
			slog.String("storage_key", *orphanKey),
			slog.String("error", err.Error()),
		)
	}
}
