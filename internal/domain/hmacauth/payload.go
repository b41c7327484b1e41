package hmacauth

import (
	"strings"
	"time"
)

// Канонический payload — проводной контракт схемы подписи.
//
// Для ВСЕХ типов операций используется один пятипольный шаблон
// с завершающим разделителем:
//
//	"<action>|<collection>|<timestamp>|<name>|<tag>|"
//
// Для операций уровня коллекции (у которых нет имени контейнера или тега)
// соответствующие поля остаются пустыми строками — количество и порядок
// полей не меняются. Клиент и сервер обязаны строить строку побайтово
// одинаково до хеширования.
const payloadSeparator = "|"

// Payload строит каноническую строку для подписи.
func Payload(kind Kind, collection, timestamp, name, tag string) string {
	return strings.Join([]string{
		string(kind), collection, timestamp, name, tag, "",
	}, payloadSeparator)
}

// timestampLayout — формат временной метки запроса: дата UTC без
// разделителей. Сервер генерирует метку сам и требует точного
// строкового равенства с меткой из Credential.
const timestampLayout = "20060102"

// Timestamp возвращает текущую серверную временную метку.
func Timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}
