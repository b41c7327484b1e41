package model

import "time"

// Collection — именованная коллекция контейнеров.
// Имя глобально уникально (case-folded). Secret генерируется один раз
// при создании (валидация вебхуков) и, в отличие от секрета контейнера,
// не ротируется.
type Collection struct {
	// ID — UUID коллекции
	ID string
	// Name — уникальное имя коллекции (нижний регистр)
	Name string
	// Private — приватная ли коллекция
	Private bool
	// Secret — секрет коллекции для вебхуков (генерируется однократно)
	Secret string
	// Metadata — произвольные метаданные коллекции
	Metadata map[string]any
	// Owners — владельцы (полные права редактирования)
	Owners []*User
	// Contributors — участники (просмотр/pull приватной коллекции)
	Contributors []*User
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Members возвращает владельцев и участников коллекции без дубликатов.
func (c *Collection) Members() []*User {
	seen := make(map[string]bool, len(c.Owners)+len(c.Contributors))
	members := make([]*User, 0, len(c.Owners)+len(c.Contributors))
	for _, u := range c.Owners {
		if !seen[u.ID] {
			seen[u.ID] = true
			members = append(members, u)
		}
	}
	for _, u := range c.Contributors {
		if !seen[u.ID] {
			seen[u.ID] = true
			members = append(members, u)
		}
	}
	return members
}

// IsOwner — является ли пользователь владельцем коллекции.
func (c *Collection) IsOwner(userID string) bool {
	for _, u := range c.Owners {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// IsMember — является ли пользователь владельцем или участником.
func (c *Collection) IsMember(userID string) bool {
	for _, u := range c.Members() {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Scope возвращает коллекцию, в рамках которой проверяются права.
// Для самой коллекции — это она же (см. policy.Resource).
func (c *Collection) Scope() *Collection {
	return c
}
