// handler.go: основной обработчик API Purge Module.
// Объединяет доменные обработчики и переводит ошибки сервисного слоя в HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/purge-module/internal/api/errors"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/service"
)

// APIHandler: основной обработчик API.
type APIHandler struct {
	health   *HealthHandler
	sessions *service.SessionRegistry
	reports  *service.ReportService
	settings *service.SettingsService
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	sessions *service.SessionRegistry,
	reports *service.ReportService,
	settings *service.SettingsService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		sessions: sessions,
		reports:  reports,
		settings: settings,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive: liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady: readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics: Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	var ae *audit.Error
	switch {
	case errors.As(err, &ae):
		switch ae.Kind {
		case audit.KindPrecondition:
			apierrors.Precondition(w, ae.Message)
		case audit.KindSourceUnavailable:
			apierrors.SourceUnavailable(w, ae.Message)
		case audit.KindClassification:
			apierrors.ClassifierUnavailable(w, ae.Message)
		case audit.KindAuthorization:
			apierrors.SourceAuthorization(w, ae.Message)
		default:
			apierrors.WriteError(w, http.StatusConflict, string(ae.Kind), ae.Message)
		}
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrReportNotFound),
		errors.Is(err, service.ErrSettingNotFound),
		errors.Is(err, service.ErrUnknownSetting):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// paginationDefaults нормализует параметры пагинации отчётов.
func paginationDefaults(limit, offset *int) (int, int) {
	l := service.DefaultReportsLimit
	o := 0

	if limit != nil {
		l = min(max(*limit, 1), service.MaxReportsLimit)
	}
	if offset != nil {
		o = max(*offset, 0)
	}
	return l, o
}
