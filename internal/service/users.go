// users.go — сервис учётных записей.
// Учётки заводятся администратором; token пользователя — ключ
// HMAC-подписи его запросов, ротируется по требованию.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/repository"
)

// UserService — сервис учётных записей пользователей.
type UserService struct {
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(userRepo repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		logger:   logger.With(slog.String("component", "user_service")),
	}
}

// GetByUsername возвращает пользователя по имени.
// Реализует hmacauth.TokenSource.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return u, nil
}

// Bootstrap создаёт административную учётку при первом старте.
// Если пользователь уже существует — ничего не делает (token не трогается).
func (s *UserService) Bootstrap(ctx context.Context, username, token string) error {
	if username == "" || token == "" {
		return nil
	}

	_, err := s.userRepo.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("проверка административной учётки: %w", err)
	}

	admin := &model.User{
		ID:       uuid.New().String(),
		Username: username,
		Token:    token,
		IsActive: true,
		IsStaff:  true,
	}
	if err := s.userRepo.Create(ctx, admin); err != nil {
		// Гонка при параллельном старте нескольких реплик
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("создание административной учётки: %w", err)
	}

	s.logger.Info("Создана административная учётка",
		slog.String("username", admin.Username),
	)
	return nil
}

// Create создаёт нового пользователя. Доступно только администратору.
func (s *UserService) Create(ctx context.Context, actor *model.User, username, email string) (*model.User, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username обязателен", ErrValidation)
	}

	u := &model.User{
		ID:       uuid.New().String(),
		Username: username,
		Email:    email,
		Token:    uuid.NewString(),
		IsActive: true,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: пользователь %q уже существует", ErrConflict, username)
		}
		return nil, fmt.Errorf("создание пользователя: %w", err)
	}

	s.logger.Info("Пользователь создан",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return u, nil
}

// RotateToken заменяет token пользователя новым значением.
// Доступно самому пользователю и администратору.
func (s *UserService) RotateToken(ctx context.Context, actor *model.User, userID string) (string, error) {
	if actor == nil {
		return "", ErrForbidden
	}
	if actor.ID != userID && !actor.IsAdmin() {
		return "", ErrForbidden
	}

	token := uuid.NewString()
	if err := s.userRepo.RotateToken(ctx, userID, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ротация token: %w", err)
	}

	s.logger.Info("Token пользователя ротирован",
		slog.String("user_id", userID),
	)
	return token, nil
}
