// reports.go: обработчики отчётов об удалении.
// Администратор видит все отчёты, остальные пользователи: только свои.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/purge-module/internal/api/errors"
	"github.com/bigkaa/goartstore/purge-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

type reportListResponse struct {
	Items  []*model.AuditReport `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListReports: GET /api/v1/reports.
func (h *APIHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	var (
		origin        *string
		limit, offset *int
	)
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "origin", query, &origin); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр origin: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offset); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр offset: "+err.Error())
		return
	}

	l, o := paginationDefaults(limit, offset)
	originFilter := ""
	if origin != nil {
		originFilter = *origin
	}

	items, total, err := h.reports.List(r.Context(), h.reportOwner(r), originFilter, l, o)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []*model.AuditReport{}
	}
	writeJSON(w, http.StatusOK, reportListResponse{Items: items, Total: total, Limit: l, Offset: o})
}

// GetReport: GET /api/v1/reports/{reportId}.
func (h *APIHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "reportId", chi.URLParam(r, "reportId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный reportId: "+err.Error())
		return
	}

	report, err := h.reports.Get(r.Context(), h.reportOwner(r), id.String())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// reportOwner возвращает фильтр владельца, для администратора пустой.
func (h *APIHandler) reportOwner(r *http.Request) string {
	if middleware.IsAdmin(r.Context()) {
		return ""
	}
	return middleware.SubjectFromContext(r.Context())
}
