// Пакет policy — правила доступа к коллекциям и контейнерам.
//
// Ресурс — замкнутое множество {Collection, Container}: оба предоставляют
// Scope(), возвращающий коллекцию, в рамках которой проверяются права
// (для контейнера — родительскую). Правила вычисляются в строгом порядке,
// первая сработавшая побеждает.
package policy

import "github.com/bigkaa/sregistry/internal/domain/model"

// Resource — объект, права на который определяются коллекцией.
// Реализуется model.Collection и model.Container.
type Resource interface {
	// Scope возвращает коллекцию, определяющую права на ресурс.
	Scope() *model.Collection
}

// Policy — правила доступа с учётом глобальной конфигурации.
type Policy struct {
	// UserCollections — разрешено ли обычным пользователям создавать
	// коллекции и пушить в новые. При false push непривилегированного
	// пользователя отклоняется даже при прочих правах.
	UserCollections bool
}

// New создаёт Policy.
func New(userCollections bool) *Policy {
	return &Policy{UserCollections: userCollections}
}

// CanView — может ли actor просматривать ресурс (и pull его образы).
// Анонимный доступ разрешён только к публичным коллекциям.
// actor == nil означает неаутентифицированный запрос.
func (p *Policy) CanView(actor *model.User, r Resource) bool {
	scope := r.Scope()

	// Публичные коллекции видны всем
	if !scope.Private {
		return true
	}

	if actor == nil {
		return false
	}

	// Глобальные администраторы
	if actor.IsAdmin() {
		return true
	}

	// Владельцы и участники
	return scope.IsMember(actor.ID)
}

// CanEdit — может ли actor редактировать ресурс
// (заморозка, удаление, видимость, share-ссылки).
// Участники (contributors) прав редактирования не получают.
func (p *Policy) CanEdit(actor *model.User, r Resource) bool {
	if actor == nil {
		return false
	}

	if actor.IsAdmin() {
		return true
	}

	return r.Scope().IsOwner(actor.ID)
}

// CanPush — может ли actor пушить в коллекцию.
// collection == nil означает push в ещё не существующую коллекцию:
// разрешён администраторам всегда, обычным пользователям — только
// при включённом UserCollections. В существующую коллекцию пушат
// только владельцы (и администраторы).
func (p *Policy) CanPush(actor *model.User, collection *model.Collection) bool {
	if actor == nil {
		return false
	}

	if collection == nil {
		return p.CanCreateCollection(actor)
	}

	if actor.IsAdmin() {
		return true
	}

	return collection.IsOwner(actor.ID)
}

// CanCreateCollection — глобальное право создавать коллекции.
func (p *Policy) CanCreateCollection(actor *model.User) bool {
	if actor == nil {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	return p.UserCollections
}
