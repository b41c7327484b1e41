// collections.go — HTTP handlers коллекций.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/sregistry/internal/domain/hmacauth"
	"github.com/bigkaa/sregistry/internal/domain/model"
)

// collectionResponse — представление коллекции в ответах API.
// Секрет коллекции и состав участников наружу не отдаются.
type collectionResponse struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Private    bool                `json:"private"`
	Containers []containerResponse `json:"containers"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
}

// GetCollection обрабатывает GET /api/v1/collections/{name}.
// Публичные коллекции доступны анонимно; приватные требуют подписи
// типа pull. Возвращает коллекцию вместе с её контейнерами.
func (h *APIHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	actor := h.authenticate(r, hmacauth.KindPull, name, "", "")

	col, err := h.collection.Get(r.Context(), actor, name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	containers, err := h.collection.Containers(r.Context(), actor, name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapCollection(col, containers))
}

// mapCollection переводит доменную коллекцию в ответ API.
func mapCollection(col *model.Collection, containers []*model.Container) collectionResponse {
	resp := collectionResponse{
		ID:         col.ID,
		Name:       col.Name,
		Private:    col.Private,
		Containers: make([]containerResponse, 0, len(containers)),
		CreatedAt:  col.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  col.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, c := range containers {
		resp.Containers = append(resp.Containers, mapContainer(c))
	}
	return resp
}
