// push.go — HTTP handlers двухфазного push:
// проверка коллекции и загрузка файла образа.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/sregistry/internal/api/errors"
	"github.com/bigkaa/sregistry/internal/domain/hmacauth"
	"github.com/bigkaa/sregistry/internal/domain/model"
)

// pushCheckRequest — тело запроса проверки коллекции.
// Клиент подписывает payload типа push по всем трём полям,
// поэтому name и tag входят в тело вместе с collection.
type pushCheckRequest struct {
	Collection string `json:"collection"`
	Name       string `json:"name"`
	Tag        string `json:"tag"`
}

// PushCheck обрабатывает POST /api/v1/push/check — первая фаза push.
// Подпись типа push по коллекции, имени и тегу из тела запроса.
// Возвращает id коллекции, создавая её при необходимости.
func (h *APIHandler) PushCheck(w http.ResponseWriter, r *http.Request) {
	var req pushCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}
	if req.Collection == "" {
		apierrors.ValidationError(w, "поле collection обязательно")
		return
	}
	if req.Tag == "" {
		req.Tag = model.DefaultTag
	}

	actor := h.authenticate(r, hmacauth.KindPush, req.Collection, req.Name, req.Tag)
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	col, err := h.push.CheckCollection(r.Context(), actor, req.Collection)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"cid": col.ID})
}

// PushImage обрабатывает PUT /api/v1/containers/{collection}/{name}/{tag} —
// вторая фаза push. Тело запроса — бинарный файл образа, подпись типа push.
// Подпись типа upload также принимается: часть клиентов подписывает
// завершение загрузки отдельным типом.
func (h *APIHandler) PushImage(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")

	actor := h.authenticate(r, hmacauth.KindPush, collection, name, tag)
	if actor == nil {
		actor = h.authenticate(r, hmacauth.KindUpload, collection, name, tag)
	}
	if actor == nil {
		apierrors.Unauthorized(w, "запрос не аутентифицирован")
		return
	}

	c, err := h.push.Push(r.Context(), actor, collection, name, tag, r.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapContainer(c))
}
