package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/sregistry/internal/domain/model"
)

// CollectionRepository — интерфейс работы с таблицей collections.
// Get-методы всегда загружают владельцев и участников коллекции:
// без них невозможно ни одно решение о правах доступа.
type CollectionRepository interface {
	// Create создаёт коллекцию и регистрирует её первого владельца
	// в одной транзакции.
	Create(ctx context.Context, c *model.Collection, ownerID string) error
	// GetByID возвращает коллекцию по UUID вместе с составом участников.
	GetByID(ctx context.Context, id string) (*model.Collection, error)
	// GetByName возвращает коллекцию по имени вместе с составом участников.
	GetByName(ctx context.Context, name string) (*model.Collection, error)
	// List возвращает коллекции постранично, без состава участников.
	List(ctx context.Context, limit, offset int) ([]*model.Collection, error)
	// Update обновляет флаг приватности и метаданные.
	Update(ctx context.Context, c *model.Collection) error
	// AddOwner добавляет пользователя во владельцы коллекции.
	AddOwner(ctx context.Context, collectionID, userID string) error
	// AddContributor добавляет пользователя в участники коллекции.
	AddContributor(ctx context.Context, collectionID, userID string) error
	// RemoveMember удаляет пользователя из владельцев и участников.
	RemoveMember(ctx context.Context, collectionID, userID string) error
	// Delete удаляет пустую коллекцию.
	Delete(ctx context.Context, id string) error
}

// collectionRepo — реализация CollectionRepository.
type collectionRepo struct {
	db DBTX
	tx *TxRunner
}

// NewCollectionRepository создаёт репозиторий коллекций.
func NewCollectionRepository(pool *pgxpool.Pool) CollectionRepository {
	return &collectionRepo{db: pool, tx: NewTxRunner(pool)}
}

func (r *collectionRepo) Create(ctx context.Context, c *model.Collection, ownerID string) error {
	c.Name = strings.ToLower(c.Name)
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO collections (id, name, private, secret, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			c.ID, c.Name, c.Private, c.Secret, c.Metadata,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: коллекция %q уже существует", ErrConflict, c.Name)
			}
			return fmt.Errorf("ошибка создания коллекции: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO collection_owners (collection_id, user_id) VALUES ($1, $2)`,
			c.ID, ownerID)
		if err != nil {
			return fmt.Errorf("ошибка назначения владельца коллекции: %w", err)
		}
		return nil
	})
}

func (r *collectionRepo) GetByID(ctx context.Context, id string) (*model.Collection, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *collectionRepo) GetByName(ctx context.Context, name string) (*model.Collection, error) {
	return r.getBy(ctx, `name = $1`, strings.ToLower(name))
}

func (r *collectionRepo) getBy(ctx context.Context, cond string, arg any) (*model.Collection, error) {
	query := `
		SELECT id, name, private, secret, metadata, created_at, updated_at
		FROM collections
		WHERE ` + cond

	c := &model.Collection{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Name, &c.Private, &c.Secret, &c.Metadata,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения коллекции: %w", err)
	}

	if c.Owners, err = r.members(ctx, "collection_owners", c.ID); err != nil {
		return nil, err
	}
	if c.Contributors, err = r.members(ctx, "collection_contributors", c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// members загружает пользователей из таблицы связи link (owners/contributors).
func (r *collectionRepo) members(ctx context.Context, link, collectionID string) ([]*model.User, error) {
	query := fmt.Sprintf(`
		SELECT u.id, u.username, u.email, u.token,
			u.is_active, u.is_staff, u.is_superuser, u.created_at, u.updated_at
		FROM users u
		JOIN %s l ON l.user_id = u.id
		WHERE l.collection_id = $1
		ORDER BY u.username`, link)

	rows, err := r.db.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения участников коллекции: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.Token,
			&u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования участника: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *collectionRepo) List(ctx context.Context, limit, offset int) ([]*model.Collection, error) {
	query := `
		SELECT id, name, private, secret, metadata, created_at, updated_at
		FROM collections
		ORDER BY name
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка коллекций: %w", err)
	}
	defer rows.Close()

	var result []*model.Collection
	for rows.Next() {
		c := &model.Collection{}
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Private, &c.Secret, &c.Metadata,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования коллекции: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *collectionRepo) Update(ctx context.Context, c *model.Collection) error {
	query := `
		UPDATE collections
		SET private = $2, metadata = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, c.ID, c.Private, c.Metadata).Scan(&c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления коллекции: %w", err)
	}
	return nil
}

func (r *collectionRepo) AddOwner(ctx context.Context, collectionID, userID string) error {
	return r.addMember(ctx, "collection_owners", collectionID, userID)
}

func (r *collectionRepo) AddContributor(ctx context.Context, collectionID, userID string) error {
	return r.addMember(ctx, "collection_contributors", collectionID, userID)
}

func (r *collectionRepo) addMember(ctx context.Context, link, collectionID, userID string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (collection_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, link)
	if _, err := r.db.Exec(ctx, query, collectionID, userID); err != nil {
		return fmt.Errorf("ошибка добавления участника коллекции: %w", err)
	}
	return nil
}

func (r *collectionRepo) RemoveMember(ctx context.Context, collectionID, userID string) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		for _, link := range []string{"collection_owners", "collection_contributors"} {
			query := fmt.Sprintf(
				`DELETE FROM %s WHERE collection_id = $1 AND user_id = $2`, link)
			if _, err := tx.Exec(ctx, query, collectionID, userID); err != nil {
				return fmt.Errorf("ошибка удаления участника коллекции: %w", err)
			}
		}
		return nil
	})
}

func (r *collectionRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления коллекции: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
