// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrUnauthorized — запрос не прошёл аутентификацию.
	ErrUnauthorized = errors.New("запрос не аутентифицирован")
	// ErrForbidden — прав недостаточно для операции.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrFrozen — контейнер заморожен, мутация по тройке запрещена.
	// Отличается от ErrForbidden: клиент должен показать, что нужен
	// другой тег, а не другие права.
	ErrFrozen = errors.New("контейнер заморожен")
	// ErrShareExpired — срок действия ссылки обмена истёк.
	ErrShareExpired = errors.New("срок действия ссылки истёк")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
