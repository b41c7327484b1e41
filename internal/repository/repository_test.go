package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/sregistry/internal/config"
	"github.com/bigkaa/sregistry/internal/database"
	"github.com/bigkaa/sregistry/internal/domain/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool и функцию очистки.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("sregistry_test"),
		postgres.WithUsername("sregistry"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("SR_DB_HOST", host)
	os.Setenv("SR_DB_PORT", port.Port())
	os.Setenv("SR_DB_NAME", "sregistry_test")
	os.Setenv("SR_DB_USER", "sregistry")
	os.Setenv("SR_DB_PASSWORD", "test-password")
	os.Setenv("SR_DB_SSL_MODE", "disable")
	os.Setenv("SR_DATA_DIR", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// createUser — вспомогательное создание пользователя.
func createUser(t *testing.T, pool *pgxpool.Pool, username string) *model.User {
	t.Helper()
	u := &model.User{
		ID:       uuid.New().String(),
		Username: username,
		Email:    username + "@example.com",
		Token:    uuid.New().String(),
		IsActive: true,
	}
	if err := NewUserRepository(pool).Create(context.Background(), u); err != nil {
		t.Fatalf("Создание пользователя %q: %v", username, err)
	}
	return u
}

// createCollection — вспомогательное создание коллекции с владельцем.
func createCollection(t *testing.T, pool *pgxpool.Pool, name, ownerID string, private bool) *model.Collection {
	t.Helper()
	c := &model.Collection{
		ID:      uuid.New().String(),
		Name:    name,
		Private: private,
		Secret:  uuid.New().String(),
	}
	if err := NewCollectionRepository(pool).Create(context.Background(), c, ownerID); err != nil {
		t.Fatalf("Создание коллекции %q: %v", name, err)
	}
	return c
}

// --- Тесты UserRepository ---

func TestUserCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	u := &model.User{
		ID:       uuid.New().String(),
		Username: "Alice",
		Email:    "alice@example.com",
		Token:    "token-1",
		IsActive: true,
	}

	// Create — username приводится к нижнему регистру
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q, хотели %q", u.Username, "alice")
	}

	// GetByUsername — регистр не важен
	got, err := repo.GetByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("GetByUsername() ошибка: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %q, хотели %q", got.ID, u.ID)
	}

	// Дубликат username — ErrConflict
	dup := &model.User{
		ID: uuid.New().String(), Username: "alice",
		Email: "a2@example.com", Token: "token-2", IsActive: true,
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("Дубликат username: ожидали ErrConflict, получили: %v", err)
	}

	// RotateToken
	if err := repo.RotateToken(ctx, u.ID, "token-new"); err != nil {
		t.Fatalf("RotateToken() ошибка: %v", err)
	}
	got2, _ := repo.GetByID(ctx, u.ID)
	if got2.Token != "token-new" {
		t.Errorf("Token = %q, хотели %q", got2.Token, "token-new")
	}

	// Update
	u.IsStaff = true
	if err := repo.Update(ctx, u); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	got3, _ := repo.GetByID(ctx, u.ID)
	if !got3.IsStaff {
		t.Error("После Update: IsStaff = false, хотели true")
	}
}

// --- Тесты CollectionRepository ---

func TestCollectionLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewCollectionRepository(pool)

	owner := createUser(t, pool, "owner")
	contributor := createUser(t, pool, "contributor")

	col := createCollection(t, pool, "MyCol", owner.ID, true)
	if col.Name != "mycol" {
		t.Errorf("Name = %q, хотели %q", col.Name, "mycol")
	}

	// GetByName загружает владельцев
	got, err := repo.GetByName(ctx, "mycol")
	if err != nil {
		t.Fatalf("GetByName() ошибка: %v", err)
	}
	if len(got.Owners) != 1 || got.Owners[0].ID != owner.ID {
		t.Errorf("Owners = %v, хотели владельца %q", got.Owners, owner.ID)
	}
	if !got.IsOwner(owner.ID) {
		t.Error("IsOwner(owner) = false, хотели true")
	}

	// AddContributor
	if err := repo.AddContributor(ctx, col.ID, contributor.ID); err != nil {
		t.Fatalf("AddContributor() ошибка: %v", err)
	}
	got2, _ := repo.GetByID(ctx, col.ID)
	if !got2.IsMember(contributor.ID) {
		t.Error("IsMember(contributor) = false после AddContributor")
	}
	if got2.IsOwner(contributor.ID) {
		t.Error("IsOwner(contributor) = true, участник не владелец")
	}

	// Дубликат имени — ErrConflict
	dup := &model.Collection{
		ID: uuid.New().String(), Name: "mycol", Secret: uuid.New().String(),
	}
	if err := repo.Create(ctx, dup, owner.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("Дубликат имени коллекции: ожидали ErrConflict, получили: %v", err)
	}

	// RemoveMember
	if err := repo.RemoveMember(ctx, col.ID, contributor.ID); err != nil {
		t.Fatalf("RemoveMember() ошибка: %v", err)
	}
	got3, _ := repo.GetByID(ctx, col.ID)
	if got3.IsMember(contributor.ID) {
		t.Error("IsMember(contributor) = true после RemoveMember")
	}
}

// --- Тесты ContainerRepository ---

func TestContainerLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewContainerRepository(pool)

	owner := createUser(t, pool, "owner")
	col := createCollection(t, pool, "lifecycle", owner.ID, false)

	c := &model.Container{
		ID:           uuid.New().String(),
		CollectionID: col.ID,
		Name:         "app",
	}

	// Create — тег по умолчанию, секрет сгенерирован
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if c.Tag != model.DefaultTag {
		t.Errorf("Tag = %q, хотели %q", c.Tag, model.DefaultTag)
	}
	if c.Secret == "" {
		t.Error("Secret не сгенерирован при Create")
	}

	// GetByPath загружает коллекцию с участниками
	got, err := repo.GetByPath(ctx, "lifecycle", "app", "latest")
	if err != nil {
		t.Fatalf("GetByPath() ошибка: %v", err)
	}
	if got.Collection == nil || !got.Collection.IsOwner(owner.ID) {
		t.Error("Коллекция контейнера не загружена или без владельцев")
	}

	// Дубликат тройки — ErrConflict
	dup := &model.Container{
		ID: uuid.New().String(), CollectionID: col.ID, Name: "app", Tag: "latest",
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("Дубликат тройки: ожидали ErrConflict, получили: %v", err)
	}

	// Update ротирует секрет
	before := got.Secret
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if got.Secret == before {
		t.Error("Secret не ротирован при Update")
	}

	// Freeze присваивает version ровно один раз
	if err := repo.Freeze(ctx, got, "2024-01-15T10:00:00Z"); err != nil {
		t.Fatalf("Freeze() ошибка: %v", err)
	}
	if got.Version == nil || *got.Version != "2024-01-15T10:00:00Z" {
		t.Errorf("Version = %v, хотели %q", got.Version, "2024-01-15T10:00:00Z")
	}
	if !got.Frozen {
		t.Error("Frozen = false после Freeze")
	}

	// Unfreeze сохраняет version
	if err := repo.Unfreeze(ctx, got); err != nil {
		t.Fatalf("Unfreeze() ошибка: %v", err)
	}
	if got.Frozen {
		t.Error("Frozen = true после Unfreeze")
	}
	if got.Version == nil || *got.Version != "2024-01-15T10:00:00Z" {
		t.Errorf("Version после Unfreeze = %v, версия не должна сбрасываться", got.Version)
	}

	// Повторная заморозка не перезаписывает version
	if err := repo.Freeze(ctx, got, "2025-06-01T00:00:00Z"); err != nil {
		t.Fatalf("Повторный Freeze() ошибка: %v", err)
	}
	if got.Version == nil || *got.Version != "2024-01-15T10:00:00Z" {
		t.Errorf("Version после повторной заморозки = %v, хотели первоначальный штамп", got.Version)
	}
}

// TestContainerFreeze_Concurrent: параллельные заморозки одной строки
// ставят ровно один штамп версии — UPDATE с COALESCE атомарен,
// проигравшие получают версию победителя.
func TestContainerFreeze_Concurrent(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewContainerRepository(pool)

	owner := createUser(t, pool, "owner")
	col := createCollection(t, pool, "frzrace", owner.ID, false)

	c := &model.Container{
		ID:           uuid.New().String(),
		CollectionID: col.ID,
		Name:         "app",
	}
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	const workers = 8
	versions := make([]string, workers)
	results := make([]*model.Container, workers)
	errs := make([]error, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := range workers {
		versions[i] = fmt.Sprintf("2024-01-15T10:00:%02dZ", i)
		go func() {
			defer done.Done()
			cp := &model.Container{ID: c.ID}
			start.Wait()
			errs[i] = repo.Freeze(ctx, cp, versions[i])
			results[i] = cp
		}()
	}
	start.Done()
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Freeze() #%d ошибка: %v", i, err)
		}
	}

	// Все вызовы видят один и тот же итоговый штамп
	stamped := map[string]bool{}
	for i, r := range results {
		if r.Version == nil {
			t.Fatalf("Freeze() #%d вернул контейнер без версии", i)
		}
		stamped[*r.Version] = true
	}
	if len(stamped) != 1 {
		t.Fatalf("Параллельные заморозки вернули %d разных версий: %v",
			len(stamped), stamped)
	}

	// И в базе лежит ровно одна из попыток
	got, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Version == nil || !slices.Contains(versions, *got.Version) {
		t.Errorf("Version = %v, хотели один из штампов %v", got.Version, versions)
	}
	if !got.Frozen {
		t.Error("Frozen = false после параллельных заморозок")
	}
}

func TestContainerDeleteRefcount(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	containers := NewContainerRepository(pool)
	images := NewImageFileRepository(pool)

	owner := createUser(t, pool, "owner")
	col := createCollection(t, pool, "refcount", owner.ID, false)

	img := &model.ImageFile{
		ID:             uuid.New().String(),
		CollectionName: "refcount",
		Name:           "app",
		Tag:            "latest",
		StorageKey:     "refcount/app-latest.sif",
		SizeBytes:      2048,
	}
	if err := images.Create(ctx, img); err != nil {
		t.Fatalf("Создание файла образа: %v", err)
	}

	// Два контейнера ссылаются на один файл (тег поверх общего образа)
	c1 := &model.Container{
		ID: uuid.New().String(), CollectionID: col.ID,
		Name: "app", Tag: "latest", ImageFileID: &img.ID,
	}
	c2 := &model.Container{
		ID: uuid.New().String(), CollectionID: col.ID,
		Name: "app", Tag: "v1", ImageFileID: &img.ID,
	}
	if err := containers.Create(ctx, c1); err != nil {
		t.Fatalf("Создание c1: %v", err)
	}
	if err := containers.Create(ctx, c2); err != nil {
		t.Fatalf("Создание c2: %v", err)
	}

	// Удаление первого — файл ещё используется
	orphan, err := containers.Delete(ctx, c1.ID)
	if err != nil {
		t.Fatalf("Delete(c1) ошибка: %v", err)
	}
	if orphan != nil {
		t.Errorf("Delete(c1) вернул ключ %q, файл ещё используется", *orphan)
	}
	if _, err := images.GetByID(ctx, img.ID); err != nil {
		t.Errorf("Файл образа удалён преждевременно: %v", err)
	}

	// Удаление последнего — файл осиротел
	orphan2, err := containers.Delete(ctx, c2.ID)
	if err != nil {
		t.Fatalf("Delete(c2) ошибка: %v", err)
	}
	if orphan2 == nil || *orphan2 != "refcount/app-latest.sif" {
		t.Errorf("Delete(c2) = %v, хотели ключ осиротевшего файла", orphan2)
	}
	if _, err := images.GetByID(ctx, img.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Запись файла образа не удалена: %v", err)
	}
}

// --- Тесты ShareRepository ---

func TestShareGetOrCreate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	containers := NewContainerRepository(pool)
	shares := NewShareRepository(pool)

	owner := createUser(t, pool, "owner")
	col := createCollection(t, pool, "shared", owner.ID, true)
	c := &model.Container{
		ID: uuid.New().String(), CollectionID: col.ID, Name: "app",
	}
	if err := containers.Create(ctx, c); err != nil {
		t.Fatalf("Создание контейнера: %v", err)
	}

	expire := time.Now().UTC().Truncate(24 * time.Hour).Add(7 * 24 * time.Hour)
	s1 := &model.Share{
		ID: uuid.New().String(), ContainerID: c.ID,
		ExpireDate: expire, Secret: uuid.New().String(),
	}
	if err := shares.GetOrCreate(ctx, s1); err != nil {
		t.Fatalf("GetOrCreate() ошибка: %v", err)
	}

	// Повторный запрос с тем же сроком возвращает ту же ссылку
	s2 := &model.Share{
		ID: uuid.New().String(), ContainerID: c.ID,
		ExpireDate: expire, Secret: uuid.New().String(),
	}
	if err := shares.GetOrCreate(ctx, s2); err != nil {
		t.Fatalf("GetOrCreate() повторный ошибка: %v", err)
	}
	if s2.ID != s1.ID || s2.Secret != s1.Secret {
		t.Errorf("Повторный GetOrCreate создал новую ссылку: %q != %q", s2.ID, s1.ID)
	}

	// GetBySecret
	got, err := shares.GetBySecret(ctx, c.ID, s1.Secret)
	if err != nil {
		t.Fatalf("GetBySecret() ошибка: %v", err)
	}
	if got.ID != s1.ID {
		t.Errorf("ID = %q, хотели %q", got.ID, s1.ID)
	}
}

func TestShareDeleteExpired(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	containers := NewContainerRepository(pool)
	shares := NewShareRepository(pool)

	owner := createUser(t, pool, "owner")
	col := createCollection(t, pool, "expiry", owner.ID, true)
	c := &model.Container{
		ID: uuid.New().String(), CollectionID: col.ID, Name: "app",
	}
	if err := containers.Create(ctx, c); err != nil {
		t.Fatalf("Создание контейнера: %v", err)
	}

	now := time.Now().UTC()
	expired := &model.Share{
		ID: uuid.New().String(), ContainerID: c.ID,
		ExpireDate: now.Add(-24 * time.Hour), Secret: uuid.New().String(),
	}
	active := &model.Share{
		ID: uuid.New().String(), ContainerID: c.ID,
		ExpireDate: now.Add(24 * time.Hour), Secret: uuid.New().String(),
	}
	for _, s := range []*model.Share{expired, active} {
		if err := shares.GetOrCreate(ctx, s); err != nil {
			t.Fatalf("GetOrCreate() ошибка: %v", err)
		}
	}

	deleted, err := shares.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() ошибка: %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteExpired() = %d, хотели 1", deleted)
	}

	if _, err := shares.GetBySecret(ctx, c.ID, active.Secret); err != nil {
		t.Errorf("Действующая ссылка удалена: %v", err)
	}
	if _, err := shares.GetBySecret(ctx, c.ID, expired.Secret); !errors.Is(err, ErrNotFound) {
		t.Errorf("Просроченная ссылка не удалена: %v", err)
	}
}
