// Пакет memory — реализации репозиториев в памяти.
// Используются в модульных тестах сервисов и обработчиков, где поднимать
// PostgreSQL избыточно. Соблюдают те же инварианты, что и SQL-реализации:
// ротация секрета при каждой мутации, однократный штамп версии,
// уникальность тройки и подсчёт ссылок на файл образа.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/repository"
)

// Store — общее хранилище в памяти для всех репозиториев.
// Репозитории, полученные из одного Store, видят общие данные.
type Store struct {
	mu          sync.Mutex
	users       map[string]*model.User
	collections map[string]*model.Collection
	containers  map[string]*model.Container
	imageFiles  map[string]*model.ImageFile
	shares      map[string]*model.Share
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*model.User),
		collections: make(map[string]*model.Collection),
		containers:  make(map[string]*model.Container),
		imageFiles:  make(map[string]*model.ImageFile),
		shares:      make(map[string]*model.Share),
	}
}

// Users возвращает репозиторий пользователей.
func (s *Store) Users() repository.UserRepository { return &userRepo{s: s} }

// Collections возвращает репозиторий коллекций.
func (s *Store) Collections() repository.CollectionRepository { return &collectionRepo{s: s} }

// Containers возвращает репозиторий контейнеров.
func (s *Store) Containers() repository.ContainerRepository { return &containerRepo{s: s} }

// ImageFiles возвращает репозиторий файлов образов.
func (s *Store) ImageFiles() repository.ImageFileRepository { return &imageFileRepo{s: s} }

// Shares возвращает репозиторий ссылок обмена.
func (s *Store) Shares() repository.ShareRepository { return &shareRepo{s: s} }

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyCollection(c *model.Collection) *model.Collection {
	cp := *c
	cp.Owners = append([]*model.User(nil), c.Owners...)
	cp.Contributors = append([]*model.User(nil), c.Contributors...)
	return &cp
}

func copyContainer(c *model.Container) *model.Container {
	cp := *c
	if c.ImageFileID != nil {
		id := *c.ImageFileID
		cp.ImageFileID = &id
	}
	if c.Version != nil {
		v := *c.Version
		cp.Version = &v
	}
	return &cp
}

// --- пользователи ---

type userRepo struct {
	s *Store
}

func (r *userRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u.Username = strings.ToLower(u.Username)
	for _, existing := range r.s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("%w: username уже занят", repository.ErrConflict)
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.users[u.ID] = copyUser(u)
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyUser(u), nil
}

func (r *userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	username = strings.ToLower(username)
	for _, u := range r.s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) RotateToken(_ context.Context, id, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Token = token
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) Update(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Email = u.Email
	existing.IsActive = u.IsActive
	existing.IsStaff = u.IsStaff
	existing.IsSuperuser = u.IsSuperuser
	existing.UpdatedAt = time.Now().UTC()
	u.UpdatedAt = existing.UpdatedAt
	return nil
}

// --- коллекции ---

type collectionRepo struct {
	s *Store
}

func (r *collectionRepo) Create(_ context.Context, c *model.Collection, ownerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c.Name = strings.ToLower(c.Name)
	for _, existing := range r.s.collections {
		if existing.Name == c.Name {
			return fmt.Errorf("%w: коллекция %q уже существует", repository.ErrConflict, c.Name)
		}
	}
	owner, ok := r.s.users[ownerID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Owners = []*model.User{copyUser(owner)}
	r.s.collections[c.ID] = copyCollection(c)
	return nil
}

func (r *collectionRepo) GetByID(_ context.Context, id string) (*model.Collection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.collections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCollection(c), nil
}

func (r *collectionRepo) GetByName(_ context.Context, name string) (*model.Collection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	name = strings.ToLower(name)
	for _, c := range r.s.collections {
		if c.Name == name {
			return copyCollection(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *collectionRepo) List(_ context.Context, limit, offset int) ([]*model.Collection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []*model.Collection
	for _, c := range r.s.collections {
		all = append(all, copyCollection(c))
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *collectionRepo) Update(_ context.Context, c *model.Collection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.collections[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Private = c.Private
	existing.Metadata = c.Metadata
	existing.UpdatedAt = time.Now().UTC()
	c.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *collectionRepo) AddOwner(_ context.Context, collectionID, userID string) error {
	return r.addMember(collectionID, userID, true)
}

func (r *collectionRepo) AddContributor(_ context.Context, collectionID, userID string) error {
	return r.addMember(collectionID, userID, false)
}

func (r *collectionRepo) addMember(collectionID, userID string, owner bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.collections[collectionID]
	if !ok {
		return repository.ErrNotFound
	}
	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	list := &c.Contributors
	if owner {
		list = &c.Owners
	}
	for _, m := range *list {
		if m.ID == userID {
			return nil
		}
	}
	*list = append(*list, copyUser(u))
	return nil
}

func (r *collectionRepo) RemoveMember(_ context.Context, collectionID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.collections[collectionID]
	if !ok {
		return repository.ErrNotFound
	}
	filter := func(in []*model.User) []*model.User {
		out := in[:0]
		for _, u := range in {
			if u.ID != userID {
				out = append(out, u)
			}
		}
		return out
	}
	c.Owners = filter(c.Owners)
	c.Contributors = filter(c.Contributors)
	return nil
}

func (r *collectionRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.collections[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.collections, id)
	return nil
}

// --- контейнеры ---

type containerRepo struct {
	s *Store
}

func (r *containerRepo) Create(_ context.Context, c *model.Container) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c.Name = strings.ToLower(c.Name)
	if c.Tag == "" {
		c.Tag = model.DefaultTag
	}
	for _, existing := range r.s.containers {
		if existing.CollectionID == c.CollectionID &&
			existing.Name == c.Name && existing.Tag == c.Tag {
			return fmt.Errorf("%w: контейнер %s/%s:%s уже существует",
				repository.ErrConflict, c.CollectionID, c.Name, c.Tag)
		}
	}
	c.Secret = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	stored := copyContainer(c)
	stored.Collection = nil
	r.s.containers[c.ID] = stored
	return nil
}

func (r *containerRepo) GetByID(ctx context.Context, id string) (*model.Container, error) {
	r.s.mu.Lock()
	c, ok := r.s.containers[id]
	if !ok {
		r.s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	result := copyContainer(c)
	r.s.mu.Unlock()

	return result, r.attachCollection(ctx, result)
}

func (r *containerRepo) GetByPath(ctx context.Context, collection, name, tag string) (*model.Container, error) {
	collection = strings.ToLower(collection)
	name = strings.ToLower(name)

	r.s.mu.Lock()
	var col *model.Collection
	for _, c := range r.s.collections {
		if c.Name == collection {
			col = c
			break
		}
	}
	if col == nil {
		r.s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	var found *model.Container
	for _, c := range r.s.containers {
		if c.CollectionID == col.ID && c.Name == name && c.Tag == tag {
			found = copyContainer(c)
			break
		}
	}
	r.s.mu.Unlock()

	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, r.attachCollection(ctx, found)
}

func (r *containerRepo) attachCollection(_ context.Context, c *model.Container) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	col, ok := r.s.collections[c.CollectionID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Collection = copyCollection(col)
	return nil
}

func (r *containerRepo) ListByCollection(_ context.Context, collectionID string) ([]*model.Container, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*model.Container
	for _, c := range r.s.containers {
		if c.CollectionID == collectionID {
			result = append(result, copyContainer(c))
		}
	}
	return result, nil
}

func (r *containerRepo) Update(_ context.Context, c *model.Container) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.containers[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.ImageFileID = c.ImageFileID
	existing.Metadata = c.Metadata
	existing.Secret = uuid.NewString()
	existing.UpdatedAt = time.Now().UTC()
	c.Secret = existing.Secret
	c.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *containerRepo) Freeze(_ context.Context, c *model.Container, version string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.containers[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Frozen = true
	if existing.Version == nil {
		v := version
		existing.Version = &v
	}
	existing.Secret = uuid.NewString()
	existing.UpdatedAt = time.Now().UTC()

	c.Frozen = true
	c.Version = existing.Version
	c.Secret = existing.Secret
	c.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *containerRepo) Unfreeze(_ context.Context, c *model.Container) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.containers[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Frozen = false
	existing.Secret = uuid.NewString()
	existing.UpdatedAt = time.Now().UTC()

	c.Frozen = false
	c.Version = existing.Version
	c.Secret = existing.Secret
	c.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *containerRepo) Delete(_ context.Context, id string) (*string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.containers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.s.containers, id)
	if c.ImageFileID == nil {
		return nil, nil
	}

	for _, other := range r.s.containers {
		if other.ImageFileID != nil && *other.ImageFileID == *c.ImageFileID {
			return nil, nil
		}
	}
	img, ok := r.s.imageFiles[*c.ImageFileID]
	if !ok {
		return nil, nil
	}
	delete(r.s.imageFiles, img.ID)
	key := img.StorageKey
	return &key, nil
}

func (r *containerRepo) CountByImageFile(_ context.Context, imageFileID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, c := range r.s.containers {
		if c.ImageFileID != nil && *c.ImageFileID == imageFileID {
			count++
		}
	}
	return count, nil
}

// --- файлы образов ---

type imageFileRepo struct {
	s *Store
}

func (r *imageFileRepo) Create(_ context.Context, f *model.ImageFile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.imageFiles[f.ID]; ok {
		return fmt.Errorf("%w: файл образа уже зарегистрирован", repository.ErrConflict)
	}
	f.CreatedAt = time.Now().UTC()
	cp := *f
	r.s.imageFiles[f.ID] = &cp
	return nil
}

func (r *imageFileRepo) GetByID(_ context.Context, id string) (*model.ImageFile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.imageFiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *imageFileRepo) DeleteIfOrphan(_ context.Context, id string) (*string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.imageFiles[id]
	if !ok {
		return nil, nil
	}
	for _, c := range r.s.containers {
		if c.ImageFileID != nil && *c.ImageFileID == id {
			return nil, nil
		}
	}
	delete(r.s.imageFiles, id)
	key := f.StorageKey
	return &key, nil
}

// --- ссылки обмена ---

type shareRepo struct {
	s *Store
}

func (r *shareRepo) GetOrCreate(_ context.Context, s *model.Share) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.shares {
		if existing.ContainerID == s.ContainerID && existing.ExpireDate.Equal(s.ExpireDate) {
			*s = *existing
			return nil
		}
	}
	s.CreatedAt = time.Now().UTC()
	cp := *s
	r.s.shares[s.ID] = &cp
	return nil
}

func (r *shareRepo) GetBySecret(_ context.Context, containerID, secret string) (*model.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, s := range r.s.shares {
		if s.ContainerID == containerID && s.Secret == secret {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *shareRepo) ListByContainer(_ context.Context, containerID string) ([]*model.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*model.Share
	for _, s := range r.s.shares {
		if s.ContainerID == containerID {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *shareRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.shares[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.shares, id)
	return nil
}

func (r *shareRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var deleted int64
	for id, s := range r.s.shares {
		if s.ExpireDate.Before(now) {
			delete(r.s.shares, id)
			deleted++
		}
	}
	return deleted, nil
}
