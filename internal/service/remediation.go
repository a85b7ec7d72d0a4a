// Пакет service: сервисный слой Purge Module: движок удаления,
// реестр сессий аудита, отчёты, настройки и мониторинг зависимостей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Prometheus-метрики движка удаления.
var (
	// remediationItemsTotal: обработанные файлы по исходу.
	remediationItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_remediation_items_total",
		Help: "Количество файлов, обработанных движком удаления, по исходу.",
	}, []string{"outcome"})

	// remediationBatchDuration: длительность пакета.
	remediationBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_remediation_batch_duration_seconds",
		Help:    "Длительность пакетного удаления в секундах.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	// remediationInFlight: вызовы удаления в процессе.
	remediationInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pm_remediation_in_flight",
		Help: "Количество выполняющихся вызовов удаления.",
	})
)

// RemediationOptions: параметры движка удаления.
type RemediationOptions struct {
	// Concurrency: максимум параллельных вызовов удаления
	Concurrency int
	// Rate: максимум вызовов удаления в секунду
	Rate float64
	// MemorySize: количество запоминаемых удалённых id
	MemorySize int
	// MemoryTTL: время хранения удалённых id
	MemoryTTL time.Duration
}

// RemediationEngine: пакетное удаление с изоляцией ошибок по файлам.
//
// Гарантии:
//   - ровно один вызов удаления на id, дубликаты во входе отправляются один раз
//   - порядок отправки совпадает с порядком входа
//   - отмена контекста прекращает отправку новых id; уже отправленные завершаются
//     и попадают в результат, неотправленные записываются как CANCELLED
//   - повторная отправка id, недавно удалённого в том же scope, даёт
//     ALREADY_REMOVED без вызова; память не разделяется между scope
//   - демо-файлы считаются удалёнными без вызова
type RemediationEngine struct {
	concurrency int64
	limiter     *rate.Limiter
	purged      *expirable.LRU[string, struct{}] // ключ purgedKey(scope, id)
	logger      *slog.Logger

	mu   sync.Mutex
	busy map[string]struct{} // id, удаляемые сейчас любым пакетом
}

// Проверка реализации интерфейса.
var _ audit.Remediator = (*RemediationEngine)(nil)

// NewRemediationEngine создаёт движок удаления.
func NewRemediationEngine(opts RemediationOptions, logger *slog.Logger) *RemediationEngine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MemorySize <= 0 {
		opts.MemorySize = 10000
	}
	limit := rate.Inf
	burst := opts.Concurrency
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	return &RemediationEngine{
		concurrency: int64(opts.Concurrency),
		limiter:     rate.NewLimiter(limit, burst),
		purged:      expirable.NewLRU[string, struct{}](opts.MemorySize, nil, opts.MemoryTTL),
		logger:      logger.With(slog.String("component", "remediation")),
		busy:        make(map[string]struct{}),
	}
}

// itemOutcome: исход обработки одного файла.
type itemOutcome struct {
	submitted bool
	failure   *model.ItemFailure
}

// Execute удаляет файлы снимка выбора и возвращает полный результат.
// Результат возвращается только после завершения всех отправленных вызовов.
func (e *RemediationEngine) Execute(
	ctx context.Context,
	scope string,
	files []model.FileRecord,
	trash audit.TrashFunc,
	progress audit.ProgressFunc,
) *model.RemediationResult {
	startTime := time.Now()
	batch := dedupeFiles(files)
	outcomes := make([]itemOutcome, len(batch))
	total := len(batch)

	e.logger.Info("Пакетное удаление начато",
		slog.String("scope", scope),
		slog.Int("files", total),
		slog.Int64("concurrency", e.concurrency),
	)

	// Вызовы удаления не прерываются отменой: отменяется только отправка новых id
	callCtx := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(e.concurrency)

	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		done       int
	)
	report := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		f := batch[i]

		if f.Origin == model.OriginDemo {
			outcomes[i] = itemOutcome{submitted: true}
			report()
			continue
		}
		if e.purged.Contains(purgedKey(scope, f.ID)) {
			outcomes[i] = itemOutcome{submitted: true, failure: &model.ItemFailure{
				Code:    model.FailureAlreadyRemoved,
				Message: "файл уже перемещён в корзину",
			}}
			report()
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if !e.claim(f.ID) {
			sem.Release(1)
			outcomes[i] = itemOutcome{submitted: true, failure: &model.ItemFailure{
				Code:    model.FailureTransient,
				Message: "файл удаляется другим пакетом",
			}}
			report()
			continue
		}

		outcomes[i].submitted = true
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			defer sem.Release(1)
			defer e.release(id)

			remediationInFlight.Inc()
			err := trash(callCtx, id)
			remediationInFlight.Dec()

			if err != nil {
				failure := model.FailureFromError(err)
				outcomes[idx].failure = &failure
				e.logger.Warn("Ошибка удаления файла",
					slog.String("file_id", id),
					slog.String("code", string(failure.Code)),
					slog.String("error", err.Error()),
				)
			} else {
				e.purged.Add(purgedKey(scope, id), struct{}{})
			}
			report()
		}(i, f.ID)
	}

	wg.Wait()

	result := buildResult(batch, outcomes, startTime)
	remediationBatchDuration.Observe(time.Since(startTime).Seconds())

	e.logger.Info("Пакетное удаление завершено",
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
		slog.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result
}

// purgedKey: ключ памяти удалённых файлов.
func purgedKey(scope, id string) string {
	return scope + "\x00" + id
}

// claim помечает id как удаляемый. false: id уже удаляется другим пакетом.
func (e *RemediationEngine) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.busy[id]; ok {
		return false
	}
	e.busy[id] = struct{}{}
	return true
}

func (e *RemediationEngine) release(id string) {
	e.mu.Lock()
	delete(e.busy, id)
	e.mu.Unlock()
}

// buildResult собирает результат в порядке входа.
func buildResult(batch []model.FileRecord, outcomes []itemOutcome, startTime time.Time) *model.RemediationResult {
	result := &model.RemediationResult{
		Succeeded: make([]string, 0, len(batch)),
		Failed:    make(map[string]model.ItemFailure),
		StartedAt: startTime,
	}

	for i, f := range batch {
		out := outcomes[i]
		switch {
		case !out.submitted:
			result.Failed[f.ID] = model.ItemFailure{
				Code:    model.FailureCancelled,
				Message: "удаление отменено до отправки",
			}
			remediationItemsTotal.WithLabelValues(string(model.FailureCancelled)).Inc()
		case out.failure != nil:
			result.Attempted++
			result.Failed[f.ID] = *out.failure
			remediationItemsTotal.WithLabelValues(string(out.failure.Code)).Inc()
		default:
			result.Attempted++
			result.Succeeded = append(result.Succeeded, f.ID)
			remediationItemsTotal.WithLabelValues("SUCCEEDED").Inc()
		}
	}

	result.FinishedAt = time.Now()
	return result
}

// dedupeFiles оставляет первое вхождение каждого id.
func dedupeFiles(files []model.FileRecord) []model.FileRecord {
	seen := make(map[string]struct{}, len(files))
	out := make([]model.FileRecord, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// String: описание параметров движка для логов.
func (o RemediationOptions) String() string {
	return fmt.Sprintf("concurrency=%d rate=%.2f memory=%d/%s", o.Concurrency, o.Rate, o.MemorySize, o.MemoryTTL)
}
