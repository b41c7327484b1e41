// handler.go — основной обработчик API реестра контейнеров.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
// Аутентификация — подписанные заголовки SREGISTRY-HMAC-SHA256,
// канонический payload строится сервером из полей запроса и серверной
// временной метки.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/sregistry/internal/api/errors"
	"github.com/bigkaa/sregistry/internal/domain/hmacauth"
	"github.com/bigkaa/sregistry/internal/domain/model"
	"github.com/bigkaa/sregistry/internal/service"
)

// APIHandler — основной обработчик API.
type APIHandler struct {
	health     *HealthHandler
	auth       *hmacauth.Authenticator
	push       *service.PushService
	containers *service.ContainerService
	collection *service.CollectionService
	shares     *service.ShareService
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	auth *hmacauth.Authenticator,
	push *service.PushService,
	containers *service.ContainerService,
	collection *service.CollectionService,
	shares *service.ShareService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		auth:       auth,
		push:       push,
		containers: containers,
		collection: collection,
		shares:     shares,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// authenticate проверяет подписанный заголовок Authorization.
// Payload строится из полей запроса и СЕРВЕРНОЙ временной метки:
// подпись с меткой другого дня не сходится — защита от повтора.
// Возвращает nil при любой неудаче.
func (h *APIHandler) authenticate(r *http.Request, kind hmacauth.Kind, collection, name, tag string) *model.User {
	ts := hmacauth.Timestamp()
	payload := hmacauth.Payload(kind, collection, ts, name, tag)
	return h.auth.Authenticate(r.Context(), r.Header.Get("Authorization"), payload, kind, ts)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "ресурс не найден")
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
	case errors.Is(err, service.ErrFrozen):
		apierrors.Frozen(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "доступ запрещён")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrShareExpired):
		apierrors.ShareExpired(w, "срок действия ссылки истёк")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	default:
		apierrors.InternalError(w, "внутренняя ошибка сервера")
	}
}

// containerResponse — представление контейнера в ответах API.
// Секрет контейнера наружу не отдаётся.
type containerResponse struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Name       string         `json:"name"`
	Tag        string         `json:"tag"`
	URI        string         `json:"uri"`
	Version    *string        `json:"version,omitempty"`
	Frozen     bool           `json:"frozen"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

// mapContainer переводит доменный контейнер в ответ API.
func mapContainer(c *model.Container) containerResponse {
	return containerResponse{
		ID:         c.ID,
		Collection: c.Collection.Name,
		Name:       c.Name,
		Tag:        c.Tag,
		URI:        c.URI(),
		Version:    c.Version,
		Frozen:     c.Frozen,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
