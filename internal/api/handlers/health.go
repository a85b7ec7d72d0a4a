// health.go: health endpoints Purge Module.
// /health/live: процесс жив
// /health/ready: PostgreSQL и классификатор доступны, хранилище проверяется при наличии
// /metrics: Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/purge-module/internal/config"
)

// ReadinessChecker: проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler: обработчик health endpoints.
type HealthHandler struct {
	pgChecker         ReadinessChecker
	classifierChecker ReadinessChecker
	driveChecker      ReadinessChecker
	promHandler       http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// driveChecker может быть nil: общий адаптер хранилища не настроен,
// токены передаются клиентами при создании сессий.
func NewHealthHandler(pgChecker, classifierChecker, driveChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		pgChecker:         pgChecker,
		classifierChecker: classifierChecker,
		driveChecker:      driveChecker,
		promHandler:       promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		PostgreSQL healthCheckResult  `json:"postgresql"`
		Classifier healthCheckResult  `json:"classifier"`
		Drive      *healthCheckResult `json:"drive,omitempty"`
	} `json:"checks"`
}

// HealthLive: liveness probe.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "purge-module",
	})
}

// HealthReady: readiness probe. 200 (ok/degraded) или 503 (fail).
// Хранилище некритично: его отказ даёт degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "purge-module",
	}

	resp.Checks.PostgreSQL = check(h.pgChecker)
	resp.Checks.Classifier = check(h.classifierChecker)
	statuses := []string{resp.Checks.PostgreSQL.Status, resp.Checks.Classifier.Status}

	if h.driveChecker != nil {
		drive := check(h.driveChecker)
		resp.Checks.Drive = &drive
		if drive.Status != "ok" {
			statuses = append(statuses, "degraded")
		}
	}

	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics: Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func check(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// overallStatus: fail, если хотя бы одна зависимость fail;
// degraded, если хотя бы одна degraded; иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
