// Пакет model — доменные модели реестра контейнеров.
package model

import "time"

// User — учётная запись пользователя реестра.
// Аутентификация внешняя (OAuth/LDAP на фронте) — здесь хранится только
// учётка и её ротируемый token, используемый как ключ HMAC-подписи запросов.
type User struct {
	// ID — UUID пользователя
	ID string
	// Username — уникальное имя (хранится в нижнем регистре)
	Username string
	// Email — адрес электронной почты
	Email string
	// Token — непрозрачный секрет пользователя, ключ HMAC-SHA256 подписи.
	// Ротируется по запросу владельца.
	Token string
	// IsActive — активна ли учётная запись
	IsActive bool
	// IsStaff — глобальный администратор
	IsStaff bool
	// IsSuperuser — суперпользователь
	IsSuperuser bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsAdmin — есть ли у пользователя глобальные права администратора.
// is_staff и is_superuser равнозначны для проверок доступа.
func (u *User) IsAdmin() bool {
	return u.IsStaff || u.IsSuperuser
}
