// settings.go: обработчики хранилища настроек (ключ и модель классификатора).
// Изменение настроек доступно только роли admin (проверяется на уровне маршрутов).
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/purge-module/internal/api/errors"
	"github.com/bigkaa/goartstore/purge-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/purge-module/internal/service"
)

type settingValueRequest struct {
	Value string `json:"value"`
}

type settingListResponse struct {
	Items []service.SettingView `json:"items"`
}

// ListSettings: GET /api/v1/settings.
func (h *APIHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	items, err := h.settings.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingListResponse{Items: items})
}

// GetSetting: GET /api/v1/settings/{key}.
func (h *APIHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	view, err := h.settings.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PutSetting: PUT /api/v1/settings/{key}.
func (h *APIHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	var req settingValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	updatedBy := middleware.SubjectFromContext(r.Context())
	if updatedBy == "" {
		updatedBy = "system"
	}

	view, err := h.settings.Set(r.Context(), chi.URLParam(r, "key"), req.Value, updatedBy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteSetting: DELETE /api/v1/settings/{key}.
func (h *APIHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
