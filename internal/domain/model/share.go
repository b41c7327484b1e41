package model

import "time"

// Share — временная анонимная ссылка скачивания контейнера.
// Пара (expire_date, container) уникальна: на один момент истечения —
// не более одной ссылки (защита от гонки дублирующихся share).
// Ссылка действительна, пока now <= expire_date; просроченная удаляется
// при первом обращении (ленивое истечение), фоновая зачистка — дополнение.
type Share struct {
	// ID — UUID ссылки
	ID string
	// ContainerID — UUID контейнера
	ContainerID string
	// ExpireDate — момент истечения ссылки
	ExpireDate time.Time
	// Secret — секрет ссылки (генерируется при создании)
	Secret string
	// CreatedAt — время создания
	CreatedAt time.Time
}

// Expired — истекла ли ссылка на момент now.
func (s *Share) Expired(now time.Time) bool {
	return now.After(s.ExpireDate)
}
