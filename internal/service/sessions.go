// sessions.go: реестр сессий аудита.
//
// Сессии хранятся в expirable LRU: сессия удаляется по истечении TTL
// с момента создания, при переполнении вытесняется самая давняя. Вытеснение отменяет
// фоновую операцию сессии. Сканирование и удаление выполняются в
// горутинах, не привязанных к HTTP-запросу.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Prometheus-метрики реестра.
var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pm_sessions_active",
		Help: "Количество сессий аудита в реестре.",
	})
	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_sessions_created_total",
		Help: "Общее количество созданных сессий аудита.",
	})
	sessionOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_session_operations_total",
		Help: "Операции над сессиями аудита по типу и результату.",
	}, []string{"operation", "result"})
)

// SourceFactory возвращает живой источник для новой сессии.
// accessToken: токен, переданный клиентом (может быть пустым).
// nil без ошибки: живой источник недоступен, работает только демо.
type SourceFactory func(accessToken string) (audit.FileSource, error)

// ReportSaver сохраняет отчёты об удалении.
type ReportSaver interface {
	Save(ctx context.Context, report *model.AuditReport) error
}

// SessionRegistryDeps: зависимости реестра.
type SessionRegistryDeps struct {
	Sources    SourceFactory
	Demo       audit.FileSource
	Classifier audit.Classifier
	Remediator audit.Remediator
	// Reports: может быть nil (отчёты не сохраняются)
	Reports ReportSaver
	Logger  *slog.Logger
}

// SessionRegistryOptions: параметры реестра.
type SessionRegistryOptions struct {
	Threshold  float64
	TTL        time.Duration
	MaxEntries int
}

// SessionInfo: состояние сессии с метаданными реестра.
type SessionInfo struct {
	audit.State
	Owner     string                   `json:"owner,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	Busy      bool                     `json:"busy"`
	History   []audit.TransitionRecord `json:"history,omitempty"`
}

// sessionEntry: сессия с фоновой операцией.
type sessionEntry struct {
	session   *audit.Session
	owner     string
	createdAt time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	opSeq  uint64
}

// SessionRegistry: реестр сессий аудита.
type SessionRegistry struct {
	deps     SessionRegistryDeps
	opts     SessionRegistryOptions
	sessions *expirable.LRU[string, *sessionEntry]
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewSessionRegistry создаёт реестр.
func NewSessionRegistry(deps SessionRegistryDeps, opts SessionRegistryOptions) (*SessionRegistry, error) {
	if deps.Classifier == nil || deps.Remediator == nil {
		return nil, fmt.Errorf("%w: классификатор и движок удаления обязательны", ErrValidation)
	}
	if err := audit.ValidateThreshold(opts.Threshold); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}

	r := &SessionRegistry{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With(slog.String("component", "session_registry")),
	}
	r.sessions = expirable.NewLRU[string, *sessionEntry](opts.MaxEntries, r.onEvict, opts.TTL)
	return r, nil
}

// onEvict отменяет фоновую операцию вытесненной сессии.
func (r *SessionRegistry) onEvict(id string, e *sessionEntry) {
	e.cancelOp()
	sessionsActive.Dec()
	r.logger.Info("Сессия удалена из реестра", slog.String("session_id", id))
}

// Create создаёт сессию. owner: subject из JWT (пусто, если аутентификация отключена).
func (r *SessionRegistry) Create(owner, accessToken string) (*SessionInfo, error) {
	var live audit.FileSource
	if r.deps.Sources != nil {
		src, err := r.deps.Sources(accessToken)
		if err != nil {
			sessionOperationsTotal.WithLabelValues("create", "error").Inc()
			return nil, fmt.Errorf("создание источника: %w", err)
		}
		live = src
	}

	id := uuid.NewString()
	s, err := audit.NewSession(id, audit.Deps{
		Source:     live,
		Demo:       r.deps.Demo,
		Classifier: r.deps.Classifier,
		Remediator: r.deps.Remediator,
		Logger:     r.deps.Logger,
	}, audit.Options{Threshold: r.opts.Threshold})
	if err != nil {
		sessionOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	e := &sessionEntry{session: s, owner: owner, createdAt: time.Now().UTC()}
	r.sessions.Add(id, e)
	sessionsActive.Inc()
	sessionsCreatedTotal.Inc()
	sessionOperationsTotal.WithLabelValues("create", "ok").Inc()

	r.logger.Info("Сессия создана",
		slog.String("session_id", id),
		slog.String("owner", owner),
		slog.Bool("live_source", live != nil),
	)
	return e.info(false), nil
}

// Get возвращает состояние сессии с историей переходов.
func (r *SessionRegistry) Get(owner, id string) (*SessionInfo, error) {
	e, err := r.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	return e.info(true), nil
}

// Delete отменяет операцию и удаляет сессию.
func (r *SessionRegistry) Delete(owner, id string) error {
	e, err := r.lookup(owner, id)
	if err != nil {
		return err
	}
	e.session.Reset()
	r.sessions.Remove(id)
	sessionOperationsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Len возвращает количество сессий.
func (r *SessionRegistry) Len() int {
	return r.sessions.Len()
}

// StartScan запускает сканирование (origin live или demo) в фоне.
// Ошибка предусловий возвращается сразу, итог конвейера отражается в состоянии.
func (r *SessionRegistry) StartScan(owner, id string, origin model.Origin) (*SessionInfo, error) {
	e, err := r.lookup(owner, id)
	if err != nil {
		return nil, err
	}

	// Контекст становится текущим только после проверки фазы сессией
	ctx, cancel := context.WithCancel(context.Background())
	done, err := e.session.StartScanAsync(ctx, origin)
	if err != nil {
		cancel()
		sessionOperationsTotal.WithLabelValues("scan", "rejected").Inc()
		return nil, err
	}
	seq := e.beginOp(cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer e.endOp(seq)
		result := "ok"
		if scanErr := <-done; scanErr != nil {
			result = "error"
		}
		sessionOperationsTotal.WithLabelValues("scan", result).Inc()
	}()

	return e.info(false), nil
}

// Toggle переключает выбор файла.
func (r *SessionRegistry) Toggle(owner, id, fileID string) (*SessionInfo, error) {
	return r.mutate(owner, id, "toggle", func(s *audit.Session) error { return s.ToggleSelection(fileID) })
}

// SelectAll выбирает всех кандидатов.
func (r *SessionRegistry) SelectAll(owner, id string) (*SessionInfo, error) {
	return r.mutate(owner, id, "select_all", (*audit.Session).SelectAll)
}

// ClearSelection снимает выбор.
func (r *SessionRegistry) ClearSelection(owner, id string) (*SessionInfo, error) {
	return r.mutate(owner, id, "clear_selection", (*audit.Session).ClearSelection)
}

// ResumeReview возвращает завершённую сессию к просмотру оставшихся кандидатов.
func (r *SessionRegistry) ResumeReview(owner, id string) (*SessionInfo, error) {
	return r.mutate(owner, id, "resume", (*audit.Session).ResumeReview)
}

// Reset отменяет фоновую операцию и сбрасывает сессию в idle.
func (r *SessionRegistry) Reset(owner, id string) (*SessionInfo, error) {
	e, err := r.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	e.cancelOp()
	e.session.Reset()
	sessionOperationsTotal.WithLabelValues("reset", "ok").Inc()
	return e.info(false), nil
}

// Remediate запускает удаление выбранных файлов в фоне.
// По завершении сохраняется отчёт.
func (r *SessionRegistry) Remediate(owner, id string) (*SessionInfo, error) {
	e, err := r.lookup(owner, id)
	if err != nil {
		return nil, err
	}

	before := e.session.State()
	ctx, cancel := context.WithCancel(context.Background())
	done, err := e.session.RemediateAsync(ctx)
	if err != nil {
		cancel()
		sessionOperationsTotal.WithLabelValues("remediate", "rejected").Inc()
		return nil, err
	}
	seq := e.beginOp(cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer e.endOp(seq)
		result := <-done
		sessionOperationsTotal.WithLabelValues("remediate", "ok").Inc()
		r.saveReport(id, e.owner, before.Origin, before.Files, result)
	}()

	return e.info(false), nil
}

// Wait ожидает завершения фоновых операций (для graceful shutdown и тестов).
func (r *SessionRegistry) Wait() {
	r.wg.Wait()
}

// Close отменяет операции всех сессий и ожидает их завершения.
func (r *SessionRegistry) Close() {
	for _, e := range r.sessions.Values() {
		e.cancelOp()
	}
	r.wg.Wait()
}

// saveReport сохраняет отчёт. Ошибка сохранения не влияет на сессию.
// files: файлы сессии до удаления, в отчёт попадают только обработанные.
func (r *SessionRegistry) saveReport(sessionID, owner string, origin model.Origin, files []model.FileRecord, result *model.RemediationResult) {
	if r.deps.Reports == nil || result == nil {
		return
	}
	report := model.NewAuditReport(uuid.NewString(), sessionID, owner, origin, files, result)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.deps.Reports.Save(ctx, report); err != nil {
		r.logger.Error("Ошибка сохранения отчёта",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("Отчёт сохранён",
		slog.String("report_id", report.ID),
		slog.String("session_id", sessionID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
	)
}

// mutate выполняет синхронную операцию над сессией.
func (r *SessionRegistry) mutate(owner, id, op string, fn func(*audit.Session) error) (*SessionInfo, error) {
	e, err := r.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	if err := fn(e.session); err != nil {
		sessionOperationsTotal.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}
	sessionOperationsTotal.WithLabelValues(op, "ok").Inc()
	return e.info(false), nil
}

// lookup находит сессию и проверяет владельца.
// Чужая сессия неотличима от несуществующей.
func (r *SessionRegistry) lookup(owner, id string) (*sessionEntry, error) {
	e, ok := r.sessions.Get(id)
	if !ok || (e.owner != "" && e.owner != owner) {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// beginOp делает cancel текущей фоновой операцией записи.
// Вызывается только после того, как сессия приняла операцию: предыдущая
// операция к этому моменту уже не работает с сессией.
func (e *sessionEntry) beginOp(cancel context.CancelFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.opSeq++
	return e.opSeq
}

// endOp освобождает контекст операции seq, если она всё ещё текущая.
func (e *sessionEntry) endOp(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opSeq == seq && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// cancelOp отменяет текущую фоновую операцию.
func (e *sessionEntry) cancelOp() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *sessionEntry) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

func (e *sessionEntry) info(withHistory bool) *SessionInfo {
	info := &SessionInfo{
		State:     e.session.State(),
		Owner:     e.owner,
		CreatedAt: e.createdAt,
		Busy:      e.busy(),
	}
	if withHistory {
		info.History = e.session.History()
	}
	return info
}
