// shares.go — HTTP handlers временных ссылок обмена.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/sregistry/internal/api/errors"
	"github.com/bigkaa/sregistry/internal/domain/hmacauth"
)

// shareRequest — тело запроса создания ссылки обмена.
type shareRequest struct {
	// Days — срок действия в днях (по умолчанию 7)
	Days int `json:"days"`
}

// shareResponse — ответ с созданной ссылкой.
type shareResponse struct {
	ID          string `json:"id"`
	ContainerID string `json:"container_id"`
	Secret      string `json:"secret"`
	ExpireDate  string `json:"expire_date"`
	// Path — готовый путь анонимного скачивания
	Path string `json:"path"`
}

// CreateShare обрабатывает POST .../share — создание временной ссылки
// анонимного скачивания. Подпись типа push (права владельца).
func (h *APIHandler) CreateShare(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}

	actor := h.authenticate(r, hmacauth.KindPush, collection, name, tag)
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	share, c, err := h.shares.Create(r.Context(), actor, collection, name, tag, req.Days)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, shareResponse{
		ID:          share.ID,
		ContainerID: c.ID,
		Secret:      share.Secret,
		ExpireDate:  share.ExpireDate.UTC().Format(time.RFC3339),
		Path:        "/api/v1/containers/" + c.ID + "/share/" + share.Secret,
	})
}

// DownloadShare обрабатывает GET /api/v1/containers/{id}/share/{secret} —
// анонимное скачивание по ссылке обмена. Просроченная ссылка удаляется
// при первом обращении и отвечает 410.
func (h *APIHandler) DownloadShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	secret := chi.URLParam(r, "secret")

	c, rc, err := h.shares.Download(r.Context(), id, secret)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	h.streamImage(w, c, rc)
}
