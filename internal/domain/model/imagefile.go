package model

import "time"

// ImageFile — бинарный файл образа в хранилище.
// Несколько контейнеров могут ссылаться на один ImageFile (повторное
// тегирование того же содержимого), поэтому удаление файла из хранилища
// выполняется только когда счётчик ссылающихся контейнеров падает до нуля.
type ImageFile struct {
	// ID — UUID файла
	ID string
	// CollectionName — имя коллекции на момент загрузки
	CollectionName string
	// Name — имя контейнера на момент загрузки
	Name string
	// Tag — тег на момент загрузки
	Tag string
	// StorageKey — ключ файла в blob-хранилище
	StorageKey string
	// SizeBytes — размер файла в байтах
	SizeBytes int64
	// CreatedAt — время загрузки
	CreatedAt time.Time
}
