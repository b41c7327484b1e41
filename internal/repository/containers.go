package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/sregistry/internal/domain/model"
)

// ContainerRepository — интерфейс работы с таблицей containers.
//
// Секрет контейнера ротируется при любой мутации прямо в SQL-операторе:
// Update, Freeze и Unfreeze всегда записывают новый секрет. Штамп версии
// выставляется условным выражением COALESCE — повторная заморозка
// не перезаписывает уже присвоенную версию.
type ContainerRepository interface {
	// Create создаёт контейнер. Тройка (collection, name, tag) уникальна.
	Create(ctx context.Context, c *model.Container) error
	// GetByID возвращает контейнер вместе с коллекцией и её участниками.
	GetByID(ctx context.Context, id string) (*model.Container, error)
	// GetByPath возвращает контейнер по тройке (collection, name, tag).
	GetByPath(ctx context.Context, collection, name, tag string) (*model.Container, error)
	// ListByCollection возвращает контейнеры коллекции без состава участников.
	ListByCollection(ctx context.Context, collectionID string) ([]*model.Container, error)
	// Update обновляет файл образа и метаданные, ротируя секрет.
	Update(ctx context.Context, c *model.Container) error
	// Freeze замораживает контейнер, присваивая version, если он ещё
	// не присвоен. Возвращает итоговые version и secret.
	Freeze(ctx context.Context, c *model.Container, version string) error
	// Unfreeze размораживает контейнер. Version сохраняется.
	Unfreeze(ctx context.Context, c *model.Container) error
	// Delete удаляет контейнер и, если на его файл образа больше никто
	// не ссылается, запись image_files. Возвращает ключ осиротевшего
	// файла в хранилище либо nil, если файл ещё используется.
	Delete(ctx context.Context, id string) (*string, error)
	// CountByImageFile возвращает число контейнеров, ссылающихся на файл.
	CountByImageFile(ctx context.Context, imageFileID string) (int, error)
}

// containerRepo — реализация ContainerRepository.
type containerRepo struct {
	db          DBTX
	tx          *TxRunner
	collections CollectionRepository
}

// NewContainerRepository создаёт репозиторий контейнеров.
func NewContainerRepository(pool *pgxpool.Pool) ContainerRepository {
	return &containerRepo{
		db:          pool,
		tx:          NewTxRunner(pool),
		collections: NewCollectionRepository(pool),
	}
}

const containerColumns = `id, collection_id, image_file_id, name, tag, secret,
		version, frozen, metadata, created_at, updated_at`

func scanContainer(row pgx.Row) (*model.Container, error) {
	c := &model.Container{}
	err := row.Scan(
		&c.ID, &c.CollectionID, &c.ImageFileID, &c.Name, &c.Tag, &c.Secret,
		&c.Version, &c.Frozen, &c.Metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *containerRepo) Create(ctx context.Context, c *model.Container) error {
	query := `
		INSERT INTO containers (id, collection_id, image_file_id, name, tag,
			secret, version, frozen, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	c.Name = strings.ToLower(c.Name)
	if c.Tag == "" {
		c.Tag = model.DefaultTag
	}
	c.Secret = uuid.NewString()
	err := r.db.QueryRow(ctx, query,
		c.ID, c.CollectionID, c.ImageFileID, c.Name, c.Tag,
		c.Secret, c.Version, c.Frozen, c.Metadata,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: контейнер %s/%s:%s уже существует",
				ErrConflict, c.CollectionID, c.Name, c.Tag)
		}
		return fmt.Errorf("ошибка создания контейнера: %w", err)
	}
	return nil
}

func (r *containerRepo) GetByID(ctx context.Context, id string) (*model.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE id = $1`

	c, err := scanContainer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения контейнера: %w", err)
	}
	return c, r.attachCollection(ctx, c)
}

func (r *containerRepo) GetByPath(ctx context.Context, collection, name, tag string) (*model.Container, error) {
	query := `
		SELECT c.id, c.collection_id, c.image_file_id, c.name, c.tag, c.secret,
			c.version, c.frozen, c.metadata, c.created_at, c.updated_at
		FROM containers c
		JOIN collections col ON col.id = c.collection_id
		WHERE col.name = $1 AND c.name = $2 AND c.tag = $3`

	c, err := scanContainer(r.db.QueryRow(ctx, query,
		strings.ToLower(collection), strings.ToLower(name), tag))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения контейнера: %w", err)
	}
	return c, r.attachCollection(ctx, c)
}

// attachCollection загружает родительскую коллекцию со всеми участниками.
func (r *containerRepo) attachCollection(ctx context.Context, c *model.Container) error {
	col, err := r.collections.GetByID(ctx, c.CollectionID)
	if err != nil {
		return fmt.Errorf("ошибка получения коллекции контейнера: %w", err)
	}
	c.Collection = col
	return nil
}

func (r *containerRepo) ListByCollection(ctx context.Context, collectionID string) ([]*model.Container, error) {
	query := `SELECT ` + containerColumns + `
		FROM containers
		WHERE collection_id = $1
		ORDER BY name, tag`

	rows, err := r.db.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка контейнеров: %w", err)
	}
	defer rows.Close()

	var result []*model.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования контейнера: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *containerRepo) Update(ctx context.Context, c *model.Container) error {
	query := `
		UPDATE containers
		SET image_file_id = $2, metadata = $3, secret = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	c.Secret = uuid.NewString()
	err := r.db.QueryRow(ctx, query,
		c.ID, c.ImageFileID, c.Metadata, c.Secret,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления контейнера: %w", err)
	}
	return nil
}

func (r *containerRepo) Freeze(ctx context.Context, c *model.Container, version string) error {
	// COALESCE сохраняет ранее присвоенную версию: штамп ставится
	// ровно один раз за всю жизнь контейнера.
	query := `
		UPDATE containers
		SET frozen = TRUE, version = COALESCE(version, $2), secret = $3,
			updated_at = now()
		WHERE id = $1
		RETURNING version, secret, updated_at`

	err := r.db.QueryRow(ctx, query, c.ID, version, uuid.NewString()).
		Scan(&c.Version, &c.Secret, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка заморозки контейнера: %w", err)
	}
	c.Frozen = true
	return nil
}

func (r *containerRepo) Unfreeze(ctx context.Context, c *model.Container) error {
	query := `
		UPDATE containers
		SET frozen = FALSE, secret = $2, updated_at = now()
		WHERE id = $1
		RETURNING version, secret, updated_at`

	err := r.db.QueryRow(ctx, query, c.ID, uuid.NewString()).
		Scan(&c.Version, &c.Secret, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка разморозки контейнера: %w", err)
	}
	c.Frozen = false
	return nil
}

func (r *containerRepo) Delete(ctx context.Context, id string) (*string, error) {
	var orphanKey *string
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var imageFileID *string
		err := tx.QueryRow(ctx,
			`DELETE FROM containers WHERE id = $1 RETURNING image_file_id`, id).
			Scan(&imageFileID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка удаления контейнера: %w", err)
		}
		if imageFileID == nil {
			return nil
		}

		// Файл образа удаляется только когда на него не осталось ссылок.
		var refs int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM containers WHERE image_file_id = $1`, *imageFileID).
			Scan(&refs)
		if err != nil {
			return fmt.Errorf("ошибка подсчёта ссылок на файл образа: %w", err)
		}
		if refs > 0 {
			return nil
		}

		var key string
		err = tx.QueryRow(ctx,
			`DELETE FROM image_files WHERE id = $1 RETURNING storage_key`, *imageFileID).
			Scan(&key)
		if err != nil {
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

func (r *containerRepo) CountByImageFile(ctx context.Context, imageFileID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM containers WHERE image_file_id = $1`, imageFileID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта ссылок на файл образа: %w", err)
	}
	return count, nil
}
