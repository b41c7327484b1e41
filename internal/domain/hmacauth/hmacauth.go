// Пакет hmacauth — аутентификация запросов по схеме SREGISTRY-HMAC-SHA256.
//
// Формат заголовка Authorization:
//
//	SREGISTRY-HMAC-SHA256 Credential=<kind>/<base64(username)>/<timestamp>,Signature=<hex(hmac_sha256(token, payload))>
//
// где kind — тип операции (push, pull, delete, upload, build), payload —
// каноническая строка (см. payload.go), token — ротируемый секрет
// пользователя. Формат побайтово совместим с legacy-клиентами, менять нельзя.
//
// Все проверки завершаются на первой неудаче, все неудачи — «тихие»:
// Authenticate возвращает nil вместо пользователя и никогда не паникует
// и не возвращает ошибку наружу. Неизвестный пользователь и неверная
// подпись неразличимы для вызывающего (защита от перебора имён).
package hmacauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/bigkaa/sregistry/internal/domain/model"
)

// Scheme — литерал схемы аутентификации в заголовке Authorization.
const Scheme = "SREGISTRY-HMAC-SHA256"

// Kind — тип подписываемой операции.
type Kind string

const (
	// KindPush — проверка прав на push коллекции
	KindPush Kind = "push"
	// KindPull — pull приватного образа
	KindPull Kind = "pull"
	// KindDelete — удаление контейнера
	KindDelete Kind = "delete"
	// KindUpload — завершение загрузки образа
	KindUpload Kind = "upload"
	// KindBuild — push-back удалённой сборки
	KindBuild Kind = "build"
)

// Challenge — разобранный заголовок Authorization.
// Не персистентен: вычисляется заново на каждый запрос.
type Challenge struct {
	// Scheme — схема из заголовка
	Scheme string
	// Kind — заявленный тип операции
	Kind Kind
	// Username — декодированное имя пользователя
	Username string
	// Timestamp — заявленная временная метка
	Timestamp string
	// Signature — hex-подпись из заголовка
	Signature string
}

// Ошибки разбора заголовка. Наружу за пределы пакета не выходят —
// Authenticate сводит любую из них к «аутентификация не пройдена».
var (
	errMalformedHeader = errors.New("некорректный заголовок Authorization")
	errMissingKeys     = errors.New("отсутствует Credential или Signature")
)

// ParseHeader разбирает заголовок Authorization в Challenge.
// Заголовок делится по первому пробелу на схему и содержимое; содержимое —
// пары key=value через запятую (value может содержать '='); Credential
// делится по '/' ровно на три части: kind, base64(username), timestamp.
func ParseHeader(header string) (*Challenge, error) {
	scheme, content, found := strings.Cut(header, " ")
	if !found {
		return nil, errMalformedHeader
	}

	values := make(map[string]string)
	for _, entry := range strings.Split(content, ",") {
		key, val, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, errMalformedHeader
		}
		values[key] = val
	}

	credential, okCred := values["Credential"]
	signature, okSig := values["Signature"]
	if !okCred || !okSig {
		return nil, errMissingKeys
	}

	parts := strings.Split(credential, "/")
	if len(parts) != 3 {
		return nil, errMalformedHeader
	}

	username, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errMalformedHeader
	}

	return &Challenge{
		Scheme:    scheme,
		Kind:      Kind(parts[0]),
		Username:  string(username),
		Timestamp: parts[2],
		Signature: signature,
	}, nil
}

// Sign вычисляет hex(hmac_sha256(token, payload)).
func Sign(token, payload string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подпись с ожидаемой в константное время.
// Сравниваются hex-представления через hmac.Equal — без досрочного
// выхода на первом отличающемся байте.
func VerifySignature(token, payload, signature string) bool {
	expected := Sign(token, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Credential собирает значение Credential для заголовка.
// Используется клиентами и тестами.
func Credential(kind Kind, username, timestamp string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(username))
	return string(kind) + "/" + encoded + "/" + timestamp
}

// Header собирает полный заголовок Authorization для подписанного запроса.
func Header(kind Kind, username, timestamp, token, payload string) string {
	return Scheme + " Credential=" + Credential(kind, username, timestamp) +
		",Signature=" + Sign(token, payload)
}

// TokenSource — источник учётных записей для проверки подписи.
// Реализуется repository.UserRepository.
type TokenSource interface {
	// GetByUsername возвращает пользователя по имени.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// Authenticator — проверка подписанных запросов.
// Чистый предикат от своих входов плюс один поиск пользователя;
// побочных эффектов нет.
type Authenticator struct {
	users  TokenSource
	logger *slog.Logger
}

// NewAuthenticator создаёт Authenticator поверх источника учётных записей.
func NewAuthenticator(users TokenSource, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		users:  users,
		logger: logger.With(slog.String("component", "hmac_auth")),
	}
}

// Authenticate проверяет заголовок Authorization против канонического
// payload и возвращает аутентифицированного пользователя или nil.
//
// Порядок проверок (каждая завершает работу на первой неудаче):
//  1. схема равна литералу SREGISTRY-HMAC-SHA256;
//  2. присутствуют Credential и Signature;
//  3. kind из Credential равен ожидаемому;
//  4. timestamp равен ожидаемому (точное строковое равенство — защита
//     от повтора; пустой expectedTimestamp отключает проверку);
//  5. имя разрешается в активную учётную запись;
//  6. подпись сходится (константное время).
func (a *Authenticator) Authenticate(ctx context.Context, header, payload string, kind Kind, expectedTimestamp string) *model.User {
	challenge, err := ParseHeader(header)
	if err != nil {
		a.logger.Debug("Заголовок не разобран", slog.String("error", err.Error()))
		return nil
	}

	if challenge.Scheme != Scheme {
		a.logger.Debug("Неверная схема аутентификации", slog.String("scheme", challenge.Scheme))
		return nil
	}

	if challenge.Kind != kind {
		a.logger.Debug("Тип операции не совпадает",
			slog.String("got", string(challenge.Kind)),
			slog.String("want", string(kind)),
		)
		return nil
	}

	if expectedTimestamp != "" && challenge.Timestamp != expectedTimestamp {
		a.logger.Debug("Временная метка просрочена",
			slog.String("got", challenge.Timestamp),
			slog.String("want", expectedTimestamp),
		)
		return nil
	}

	user, err := a.users.GetByUsername(ctx, challenge.Username)
	if err != nil || user == nil || !user.IsActive {
		// Неизвестный пользователь и неверная подпись дают одинаковый
		// результат — имена не перечислимы по форме ответа.
		a.logger.Debug("Пользователь не разрешён", slog.String("username", challenge.Username))
		return nil
	}

	if !VerifySignature(user.Token, payload, challenge.Signature) {
		a.logger.Debug("Подпись не сходится", slog.String("username", challenge.Username))
		return nil
	}

	return user
}
