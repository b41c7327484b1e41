package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sregistry/internal/domain/model"
)

// ShareRepository — интерфейс работы с таблицей shares.
// Пара (container_id, expire_date) уникальна: повторный запрос ссылки
// с тем же сроком возвращает существующую запись.
type ShareRepository interface {
	// GetOrCreate возвращает существующую ссылку с таким сроком действия
	// либо создаёт новую.
	GetOrCreate(ctx context.Context, s *model.Share) error
	// GetBySecret возвращает ссылку по секрету и контейнеру.
	GetBySecret(ctx context.Context, containerID, secret string) (*model.Share, error)
	// ListByContainer возвращает все ссылки контейнера.
	ListByContainer(ctx context.Context, containerID string) ([]*model.Share, error)
	// Delete удаляет ссылку.
	Delete(ctx context.Context, id string) error
	// DeleteExpired удаляет все ссылки с истёкшим сроком
	// и возвращает их количество.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// shareRepo — реализация ShareRepository.
type shareRepo struct {
	db DBTX
}

// NewShareRepository создаёт репозиторий ссылок обмена.
func NewShareRepository(db DBTX) ShareRepository {
	return &shareRepo{db: db}
}

func (r *shareRepo) GetOrCreate(ctx context.Context, s *model.Share) error {
	query := `
		INSERT INTO shares (id, container_id, expire_date, secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (container_id, expire_date) DO NOTHING
		RETURNING id, secret, created_at`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.ContainerID, s.ExpireDate, s.Secret,
	).Scan(&s.ID, &s.Secret, &s.CreatedAt)
	if err == nil {
		return nil
	}
	if err != pgx.ErrNoRows {
		return fmt.Errorf("ошибка создания ссылки обмена: %w", err)
	}

	// Конфликт — ссылка с таким сроком уже существует, возвращаем её.
	query = `
		SELECT id, container_id, expire_date, secret, created_at
		FROM shares
		WHERE container_id = $1 AND expire_date = $2`
	err = r.db.QueryRow(ctx, query, s.ContainerID, s.ExpireDate).Scan(
		&s.ID, &s.ContainerID, &s.ExpireDate, &s.Secret, &s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка получения ссылки обмена: %w", err)
	}
	return nil
}

func (r *shareRepo) GetBySecret(ctx context.Context, containerID, secret string) (*model.Share, error) {
	query := `
		SELECT id, container_id, expire_date, secret, created_at
		FROM shares
		WHERE container_id = $1 AND secret = $2`

	s := &model.Share{}
	err := r.db.QueryRow(ctx, query, containerID, secret).Scan(
		&s.ID, &s.ContainerID, &s.ExpireDate, &s.Secret, &s.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ссылки обмена: %w", err)
	}
	return s, nil
}

func (r *shareRepo) ListByContainer(ctx context.Context, containerID string) ([]*model.Share, error) {
	query := `
		SELECT id, container_id, expire_date, secret, created_at
		FROM shares
		WHERE container_id = $1
		ORDER BY expire_date`

	rows, err := r.db.Query(ctx, query, containerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ссылок: %w", err)
	}
	defer rows.Close()

	var result []*model.Share
	for rows.Next() {
		s := &model.Share{}
		if err := rows.Scan(
			&s.ID, &s.ContainerID, &s.ExpireDate, &s.Secret, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования ссылки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *shareRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM shares WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления ссылки обмена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *shareRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM shares WHERE expire_date < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления просроченных ссылок: %w", err)
	}
	return tag.RowsAffected(), nil
}
