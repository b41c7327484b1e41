// collections.go — сервис коллекций контейнеров.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/domain/policy"
	"github.com/bigkaa/sregistry/internal/repository"
)

// CollectionService — сервис коллекций.
type CollectionService struct {
	collectionRepo repository.CollectionRepository
	containerRepo  repository.ContainerRepository
	policy         *policy.Policy
	// defaultPrivate — приватность вновь создаваемых коллекций
	defaultPrivate bool
	// privateOnly — запрет публичных коллекций в инсталляции
	privateOnly bool
	logger      *slog.Logger
}

// NewCollectionService создаёт сервис коллекций.
func NewCollectionService(
	collectionRepo repository.CollectionRepository,
	containerRepo repository.ContainerRepository,
	pol *policy.Policy,
	defaultPrivate, privateOnly bool,
	logger *slog.Logger,
) *CollectionService {
	return &CollectionService{
		collectionRepo: collectionRepo,
		containerRepo:  containerRepo,
		policy:         pol,
		defaultPrivate: defaultPrivate,
		privateOnly:    privateOnly,
		logger:         logger.With(slog.String("component", "collection_service")),
	}
}

// Get возвращает коллекцию по имени с проверкой прав просмотра.
// Приватная коллекция не видна посторонним — возвращается ErrNotFound,
// а не ErrForbidden, чтобы не раскрывать факт её существования.
func (s *CollectionService) Get(ctx context.Context, actor *model.User, name string) (*model.Collection, error) {
	col, err := s.collectionRepo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение коллекции: %w", err)
	}
	if !s.policy.CanView(actor, col) {
		return nil, ErrNotFound
	}
	return col, nil
}

// Containers возвращает контейнеры коллекции с проверкой прав просмотра.
func (s *CollectionService) Containers(ctx context.Context, actor *model.User, name string) ([]*model.Container, error) {
	col, err := s.Get(ctx, actor, name)
	if err != nil {
		return nil, err
	}
	containers, err := s.containerRepo.ListByCollection(ctx, col.ID)
	if err != nil {
		return nil, fmt.Errorf("получение контейнеров коллекции: %w", err)
	}
	for _, c := range containers {
		c.Collection = col
	}
	return containers, nil
}

// EnsureForPush возвращает коллекцию для push, создавая её при
// необходимости. Создание новой коллекции разрешено администратору
// всегда, обычному пользователю — только если разрешены
// пользовательские коллекции.
func (s *CollectionService) EnsureForPush(ctx context.Context, actor *model.User, name string) (*model.Collection, error) {
	col, err := s.collectionRepo.GetByName(ctx, name)
	if err == nil {
		if !s.policy.CanPush(actor, col) {
			return nil, ErrForbidden
		}
		return col, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("получение коллекции: %w", err)
	}

	if !s.policy.CanPush(actor, nil) {
		return nil, ErrForbidden
	}

	col = &model.Collection{
		ID:      uuid.New().String(),
		Name:    name,
		Private: s.defaultPrivate || s.privateOnly,
		Secret:  uuid.NewString(),
	}
	if err := s.collectionRepo.Create(ctx, col, actor.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Гонка параллельных push — коллекцию создал кто-то другой
			return s.EnsureForPush(ctx, actor, name)
		}
		return nil, fmt.Errorf("создание коллекции: %w", err)
	}

	s.logger.Info("Коллекция создана",
		slog.String("collection_id", col.ID),
		slog.String("name", col.Name),
		slog.String("owner", actor.Username),
		slog.Bool("private", col.Private),
	)
	return col, nil
}

// SetPrivate меняет приватность коллекции. Доступно владельцу.
// В инсталляции privateOnly коллекцию нельзя сделать публичной.
func (s *CollectionService) SetPrivate(ctx context.Context, actor *model.User, name string, private bool) (*model.Collection, error) {
	col, err := s.collectionRepo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение коллекции: %w", err)
	}
	if !s.policy.CanEdit(actor, col) {
		return nil, ErrForbidden
	}
	if !private && s.privateOnly {
		return nil, fmt.Errorf("%w: публичные коллекции запрещены", ErrValidation)
	}

	col.Private = private
	if err := s.collectionRepo.Update(ctx, col); err != nil {
		return nil, fmt.Errorf("обновление коллекции: %w", err)
	}

	s.logger.Info("Приватность коллекции изменена",
		slog.String("collection_id", col.ID),
		slog.Bool("private", private),
	)
	return col, nil
}
