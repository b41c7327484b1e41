// containers.go — HTTP handlers жизненного цикла контейнеров:
// pull, заморозка, разморозка, теги, удаление, скачивание по секрету.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/sregistry/internal/api/errors"
	"github.com/bigkaa/sregistry/internal/domain/hmacauth"
	"github.com/bigkaa/sregistry/internal/domain/model"
)

// GetContainer обрабатывает GET /api/v1/containers/{collection}/{name}/{tag}.
// Публичные контейнеры доступны анонимно; приватные требуют подписи
// типа pull. Скрытый контейнер неотличим от несуществующего.
func (h *APIHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	actor := h.authenticate(r, hmacauth.KindPull, collection, name, tag)

	c, err := h.containers.Get(r.Context(), actor, collection, name, tag)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapContainer(c))
}

// PullImage обрабатывает GET /api/v1/containers/{collection}/{name}/{tag}/image —
// скачивание файла образа с теми же правами, что и GetContainer.
func (h *APIHandler) PullImage(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	actor := h.authenticate(r, hmacauth.KindPull, collection, name, tag)

	c, rc, err := h.containers.Pull(r.Context(), actor, collection, name, tag)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	h.streamImage(w, c, rc)
}

// DeleteContainer обрабатывает DELETE /api/v1/containers/{collection}/{name}/{tag}.
// Подпись типа delete. Замороженный контейнер удалить нельзя.
func (h *APIHandler) DeleteContainer(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	actor := h.authenticate(r, hmacauth.KindDelete, collection, name, tag)
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	if err := h.containers.Delete(r.Context(), actor, collection, name, tag); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FreezeContainer обрабатывает POST .../freeze. Подпись типа push —
// заморозка гейтится теми же правами, что и публикация.
func (h *APIHandler) FreezeContainer(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	actor := h.authenticate(r, hmacauth.KindPush, collection, name, tag)
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	c, err := h.containers.Freeze(r.Context(), actor, collection, name, tag)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapContainer(c))
}

// UnfreezeContainer обрабатывает POST .../unfreeze.
func (h *APIHandler) UnfreezeContainer(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	actor := h.authenticate(r, hmacauth.KindPush, collection, name, tag)
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	c, err := h.containers.Unfreeze(r.Context(), actor, collection, name, tag)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapContainer(c))
}

// tagRequest — тело запроса создания тега.
type tagRequest struct {
	NewTag string `json:"new_tag"`
}

// TagContainer обрабатывает POST .../tag — новый тег поверх того же
// файла образа. Подпись типа push.
func (h *APIHandler) TagContainer(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}

	actor := h.authenticate(r, hmacauth.KindPush, collection, name, tag)
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	c, err := h.containers.Tag(r.Context(), actor, collection, name, tag, req.NewTag)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapContainer(c))
}

// DownloadBySecret обрабатывает GET /api/v1/containers/{id}/download/{secret}.
// Анонимное скачивание по ротируемому секрету контейнера: секрет
// перестаёт работать после любой мутации.
func (h *APIHandler) DownloadBySecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	secret := chi.URLParam(r, "secret")

	c, rc, err := h.containers.DownloadBySecret(r.Context(), id, secret)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	h.streamImage(w, c, rc)
}

// streamImage отдаёт файл образа как attachment.
func (h *APIHandler) streamImage(w http.ResponseWriter, c *model.Container, rc io.Reader) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+c.DownloadName()+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		// Заголовки уже отправлены — остаётся залогировать обрыв
		h.logger.Warn("Обрыв передачи файла образа",
			slog.String("container_id", c.ID),
			slog.String("error", err.Error()),
		)
	}
}
