// sessions.go: обработчики сессий аудита.
// Владелец сессии: subject JWT; чужие сессии не видны.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/purge-module/internal/api/errors"
	"github.com/bigkaa/goartstore/purge-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
	"github.com/bigkaa/goartstore/purge-module/internal/service"
)

type createSessionRequest struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: токен хранилища от клиента
}

type toggleRequest struct {
	FileID string `json:"file_id"`
}

// sessionOp: операция над существующей сессией.
type sessionOp func(owner, id string) (*service.SessionInfo, error)

// CreateSession: POST /api/v1/sessions.
func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	info, err := h.sessions.Create(middleware.SubjectFromContext(r.Context()), req.AccessToken)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// GetSession: GET /api/v1/sessions/{sessionId}.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusOK, h.sessions.Get)
}

// DeleteSession: DELETE /api/v1/sessions/{sessionId}.
func (h *APIHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(middleware.SubjectFromContext(r.Context()), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartScan: POST /api/v1/sessions/{sessionId}/scan.
func (h *APIHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusAccepted, func(owner, id string) (*service.SessionInfo, error) {
		return h.sessions.StartScan(owner, id, model.OriginLive)
	})
}

// StartDemo: POST /api/v1/sessions/{sessionId}/demo.
func (h *APIHandler) StartDemo(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusAccepted, func(owner, id string) (*service.SessionInfo, error) {
		return h.sessions.StartScan(owner, id, model.OriginDemo)
	})
}

// ToggleSelection: POST /api/v1/sessions/{sessionId}/toggle.
func (h *APIHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.FileID == "" {
		apierrors.ValidationError(w, "file_id обязателен")
		return
	}
	h.withSession(w, r, http.StatusOK, func(owner, id string) (*service.SessionInfo, error) {
		return h.sessions.Toggle(owner, id, req.FileID)
	})
}

// SelectAll: POST /api/v1/sessions/{sessionId}/select-all.
func (h *APIHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusOK, h.sessions.SelectAll)
}

// ClearSelection: POST /api/v1/sessions/{sessionId}/clear-selection.
func (h *APIHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusOK, h.sessions.ClearSelection)
}

// Remediate: POST /api/v1/sessions/{sessionId}/remediate.
// Удаление выполняется в фоне, итог виден в состоянии сессии и в отчёте.
func (h *APIHandler) Remediate(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusAccepted, h.sessions.Remediate)
}

// ResumeReview: POST /api/v1/sessions/{sessionId}/resume.
func (h *APIHandler) ResumeReview(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusOK, h.sessions.ResumeReview)
}

// ResetSession: POST /api/v1/sessions/{sessionId}/reset.
func (h *APIHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, http.StatusOK, h.sessions.Reset)
}

// withSession извлекает id сессии, выполняет операцию и пишет состояние.
func (h *APIHandler) withSession(w http.ResponseWriter, r *http.Request, status int, op sessionOp) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	info, err := op(middleware.SubjectFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, status, info)
}

// sessionID разбирает параметр пути sessionId как UUID.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "sessionId", chi.URLParam(r, "sessionId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный sessionId: "+err.Error())
		return "", false
	}
	return id.String(), true
}
