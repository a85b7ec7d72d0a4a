// reports.go: отчёты о пакетном удалении и их ротация.
//
// Ротация запускается по cron-расписанию (PM_REPORT_RETENTION_SCHEDULE)
// и удаляет отчёты старше PM_REPORT_RETENTION.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
	"github.com/bigkaa/goartstore/purge-module/internal/repository"
)

// Prometheus-метрики отчётов.
var (
	reportsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_reports_saved_total",
		Help: "Общее количество сохранённых отчётов.",
	})
	reportsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_reports_deleted_total",
		Help: "Общее количество отчётов, удалённых ротацией.",
	})
)

// Пагинация списка отчётов.
const (
	DefaultReportsLimit = 50
	MaxReportsLimit     = 500
)

// ReportService: сервис отчётов.
type ReportService struct {
	repo      repository.ReportRepository
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewReportService создаёт сервис отчётов. Расписание проверяется сразу.
func NewReportService(
	repo repository.ReportRepository,
	retention time.Duration,
	schedule string,
	logger *slog.Logger,
) (*ReportService, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w: некорректное расписание ротации %q: %w", ErrValidation, schedule, err)
	}
	l := logger.With(slog.String("component", "reports"))
	return &ReportService{
		repo:      repo,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(cron.WithLogger(cronLogger{l})),
		logger:    l,
	}, nil
}

// Save сохраняет отчёт.
func (s *ReportService) Save(ctx context.Context, report *model.AuditReport) error {
	if err := s.repo.Save(ctx, report); err != nil {
		return err
	}
	reportsSavedTotal.Inc()
	return nil
}

// Get возвращает отчёт. owner != "" ограничивает доступ отчётами пользователя.
func (s *ReportService) Get(ctx context.Context, owner, id string) (*model.AuditReport, error) {
	report, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("ошибка получения отчёта: %w", err)
	}
	if owner != "" && report.Owner != owner {
		return nil, ErrReportNotFound
	}
	return report, nil
}

// List возвращает страницу отчётов и общее количество.
// owner != "": только отчёты пользователя; origin: фильтр demo/live.
func (s *ReportService) List(ctx context.Context, owner, origin string, limit, offset int) ([]*model.AuditReport, int, error) {
	if limit <= 0 {
		limit = DefaultReportsLimit
	}
	if limit > MaxReportsLimit {
		limit = MaxReportsLimit
	}
	if offset < 0 {
		offset = 0
	}
	if origin != "" && origin != string(model.OriginDemo) && origin != string(model.OriginLive) {
		return nil, 0, fmt.Errorf("%w: origin должен быть demo или live", ErrValidation)
	}

	filter := repository.ReportFilter{Limit: limit, Offset: offset}
	if owner != "" {
		filter.Owner = &owner
	}
	if origin != "" {
		filter.Origin = &origin
	}

	reports, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка отчётов: %w", err)
	}
	return reports, total, nil
}

// Cleanup удаляет отчёты старше срока хранения.
func (s *ReportService) Cleanup(ctx context.Context) (int64, error) {
	before := time.Now().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, err
	}
	reportsDeletedTotal.Add(float64(deleted))
	s.logger.Info("Ротация отчётов выполнена",
		slog.Int64("deleted", deleted),
		slog.Time("before", before),
	)
	return deleted, nil
}

// Start регистрирует задачу ротации и запускает планировщик.
func (s *ReportService) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := s.Cleanup(runCtx); err != nil {
			s.logger.Error("Ошибка ротации отчётов", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("регистрация задачи ротации: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Ротация отчётов запущена",
		slog.String("schedule", s.schedule),
		slog.String("retention", s.retention.String()),
	)
	return nil
}

// Stop останавливает планировщик и ожидает завершения текущей задачи.
func (s *ReportService) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Ротация отчётов остановлена")
}

// cronLogger: адаптер slog для cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
