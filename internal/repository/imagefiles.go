package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/sregistry/internal/domain/model"
)

// ImageFileRepository — интерфейс работы с таблицей image_files.
type ImageFileRepository interface {
	// Create регистрирует загруженный файл образа.
	Create(ctx context.Context, f *model.ImageFile) error
	// GetByID возвращает запись файла образа.
	GetByID(ctx context.Context, id string) (*model.ImageFile, error)
	// DeleteIfOrphan удаляет запись, если на неё не ссылается ни один
	// контейнер, и возвращает ключ файла в хранилище. Если ссылки ещё
	// есть — возвращает nil без ошибки.
	DeleteIfOrphan(ctx context.Context, id string) (*string, error)
}

// imageFileRepo — реализация ImageFileRepository.
type imageFileRepo struct {
	db DBTX
	tx *TxRunner
}

// NewImageFileRepository создаёт репозиторий файлов образов.
func NewImageFileRepository(pool *pgxpool.Pool) ImageFileRepository {
	return &imageFileRepo{db: pool, tx: NewTxRunner(pool)}
}

func (r *imageFileRepo) Create(ctx context.Context, f *model.ImageFile) error {
	query := `
		INSERT INTO image_files (id, collection_name, name, tag, storage_key, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.CollectionName, f.Name, f.Tag, f.StorageKey, f.SizeBytes,
	).Scan(&f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл образа уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка регистрации файла образа: %w", err)
	}
	return nil
}

func (r *imageFileRepo) GetByID(ctx context.Context, id string) (*model.ImageFile, error) {
	query := `
		SELECT id, collection_name, name, tag, storage_key, size_bytes, created_at
		FROM image_files
		WHERE id = $1`

	f := &model.ImageFile{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.CollectionName, &f.Name, &f.Tag,
		&f.StorageKey, &f.SizeBytes, &f.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла образа: %w", err)
	}
	return f, nil
}

func (r *imageFileRepo) DeleteIfOrphan(ctx context.Context, id string) (*string, error) {
	var orphanKey *string
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var refs int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM containers WHERE image_file_id = $1`, id).
			Scan(&refs)
		if err != nil {
			return fmt.Errorf("ошибка подсчёта ссылок на файл образа: %w", err)
		}
		if refs > 0 {
			return nil
		}

		var key string
		err = tx.QueryRow(ctx,
			`DELETE FROM image_files WHERE id = $1 RETURNING storage_key`, id).
			Scan(&key)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return fmt.Errorf("ошибка удаления файла образа: %w", err)
		}
		orphanKey = &key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphanKey, nil
}
