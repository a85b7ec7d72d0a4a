package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// ReportFilter: фильтры списка отчётов.
type ReportFilter struct {
	// Owner: только отчёты пользователя
	Owner *string
	// Origin: demo или live
	Origin *string
	// Since: созданные не ранее
	Since *time.Time
	// Limit, Offset: пагинация
	Limit  int
	Offset int
}

// ReportRepository: интерфейс для таблиц audit_reports и audit_report_items.
type ReportRepository interface {
	// Save сохраняет отчёт со строками в одной транзакции.
	Save(ctx context.Context, report *model.AuditReport) error
	// Get возвращает отчёт со строками. Если не найден: ErrNotFound.
	Get(ctx context.Context, id string) (*model.AuditReport, error)
	// List возвращает отчёты без строк и общее количество.
	List(ctx context.Context, filter ReportFilter) ([]*model.AuditReport, int, error)
	// DeleteOlderThan удаляет отчёты, созданные раньше before.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// reportRepo: реализация ReportRepository.
type reportRepo struct {
	db DBTX
	tx *TxRunner
}

// NewReportRepository создаёт репозиторий отчётов.
func NewReportRepository(db DBTX, tx *TxRunner) ReportRepository {
	return &reportRepo{db: db, tx: tx}
}

// reportColumns: колонки audit_reports в порядке сканирования.
const reportColumns = `id, session_id, owner, origin, attempted, succeeded, failed,
	freed_bytes, started_at, finished_at, created_at`

// Save сохраняет отчёт и его строки.
func (r *reportRepo) Save(ctx context.Context, report *model.AuditReport) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO audit_reports (id, session_id, owner, origin, attempted, succeeded,
				failed, freed_bytes, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at`

		err := tx.QueryRow(ctx, query,
			report.ID, report.SessionID, report.Owner, string(report.Origin),
			report.Attempted, report.Succeeded, report.Failed, report.FreedBytes,
			report.StartedAt, report.FinishedAt,
		).Scan(&report.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("ошибка сохранения отчёта %s: %w", report.ID, err)
		}

		if len(report.Items) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, item := range report.Items {
			batch.Queue(`
				INSERT INTO audit_report_items (report_id, position, file_id, file_name,
					size_bytes, outcome, code, message)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				report.ID, i, item.FileID, item.FileName, item.SizeBytes,
				string(item.Outcome), string(item.Code), item.Message,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("ошибка сохранения строк отчёта %s: %w", report.ID, err)
		}
		return nil
	})
}

// Get возвращает отчёт со строками.
func (r *reportRepo) Get(ctx context.Context, id string) (*model.AuditReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_reports WHERE id = $1`, reportColumns)

	report, err := scanReport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения отчёта %s: %w", id, err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT file_id, file_name, size_bytes, outcome, code, message
		FROM audit_report_items
		WHERE report_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения строк отчёта %s: %w", id, err)
	}
	defer rows.Close()

	report.Items = make([]model.ReportItem, 0, report.Attempted)
	for rows.Next() {
		var item model.ReportItem
		var outcome, code string
		if err := rows.Scan(&item.FileID, &item.FileName, &item.SizeBytes, &outcome, &code, &item.Message); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки отчёта: %w", err)
		}
		item.Outcome = model.ItemOutcome(outcome)
		item.Code = model.FailureCode(code)
		report.Items = append(report.Items, item)
	}
	return report, rows.Err()
}

// List возвращает отчёты с фильтрами и пагинацией, новые первыми.
func (r *reportRepo) List(ctx context.Context, filter ReportFilter) ([]*model.AuditReport, int, error) {
	where, args := buildReportWhere(filter, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM audit_reports %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		reportColumns, where, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка отчётов: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования отчёта: %w", err)
		}
		result = append(result, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации отчётов: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM audit_reports %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта отчётов: %w", err)
	}

	return result, total, nil
}

// DeleteOlderThan удаляет старые отчёты. Строки удаляются каскадно.
func (r *reportRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_reports WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления старых отчётов: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanReport сканирует строку audit_reports.
func scanReport(row pgx.Row) (*model.AuditReport, error) {
	rep := &model.AuditReport{}
	var origin string
	err := row.Scan(
		&rep.ID, &rep.SessionID, &rep.Owner, &origin, &rep.Attempted, &rep.Succeeded,
		&rep.Failed, &rep.FreedBytes, &rep.StartedAt, &rep.FinishedAt, &rep.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rep.Origin = model.Origin(origin)
	return rep, nil
}

// buildReportWhere строит WHERE-условие списка отчётов.
// startArg: номер первого $-параметра.
func buildReportWhere(filter ReportFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if filter.Owner != nil && *filter.Owner != "" {
		conditions = append(conditions, fmt.Sprintf("owner = $%d", argNum))
		args = append(args, *filter.Owner)
		argNum++
	}

	if filter.Origin != nil && *filter.Origin != "" {
		conditions = append(conditions, fmt.Sprintf("origin = $%d", argNum))
		args = append(args, *filter.Origin)
		argNum++
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.Since)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}
