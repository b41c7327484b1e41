package model

import (
	"fmt"
	"time"
)

// DefaultTag — тег контейнера по умолчанию.
const DefaultTag = "latest"

// Container — версионируемый образ, идентифицируемый тройкой
// (collection, name, tag). Тройка уникальна.
//
// Secret ротируется при КАЖДОМ сохранении — анонимная ссылка скачивания
// перестаёт работать сразу после любой мутации (защита от перебора).
//
// Version присваивается ровно один раз — в момент первой заморозки —
// и никогда не очищается, даже после разморозки: историческая
// идентичность name:tag@version остаётся разрешимой.
type Container struct {
	// ID — UUID контейнера
	ID string
	// CollectionID — UUID родительской коллекции
	CollectionID string
	// Collection — родительская коллекция (загружается вместе с контейнером)
	Collection *Collection
	// ImageFileID — UUID бинарного файла образа (nil, если образ удалён)
	ImageFileID *string
	// Name — имя контейнера внутри коллекции
	Name string
	// Tag — тег (по умолчанию "latest")
	Tag string
	// Secret — секрет анонимного скачивания, ротируется при каждом сохранении
	Secret string
	// Version — штамп версии, выставляется при первой заморозке
	Version *string
	// Frozen — заморожен ли контейнер (push по этой тройке запрещён)
	Frozen bool
	// Metadata — произвольные метаданные образа
	Metadata map[string]any
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// ShortURI — краткий идентификатор "collection/name:tag".
func (c *Container) ShortURI() string {
	return fmt.Sprintf("%s/%s:%s", c.Collection.Name, c.Name, c.Tag)
}

// URI — канонический идентификатор контейнера.
// Для незамороженного — "collection/name:tag",
// для замороженного — "collection/name:tag@version".
// Формат — часть проводного контракта (входит в подписываемые данные),
// менять нельзя.
func (c *Container) URI() string {
	if !c.Frozen {
		return c.ShortURI()
	}
	version := ""
	if c.Version != nil {
		version = *c.Version
	}
	return fmt.Sprintf("%s/%s:%s@%s", c.Collection.Name, c.Name, c.Tag, version)
}

// DownloadName — имя файла при скачивании ("collection-name:tag.sif").
func (c *Container) DownloadName() string {
	name := c.URI()
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, name[i])
	}
	return string(out) + ".sif"
}

// Members возвращает участников родительской коллекции.
func (c *Container) Members() []*User {
	return c.Collection.Members()
}

// Scope возвращает родительскую коллекцию — права контейнера
// всегда определяются его коллекцией (см. policy.Resource).
func (c *Container) Scope() *Collection {
	return c.Collection
}
