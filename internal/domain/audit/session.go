// Пакет audit: конечный автомат сессии аудита и очистки облачного хранилища.
//
// Жизненный цикл:
//
//	idle → scanning → analyzing → reviewing → remediating → completed
//	                ↘ failed    ↘ failed
//
// Повторный запуск сканирования допустим из idle и failed.
// completed → reviewing (ResumeReview): повтор удаления оставшихся файлов без нового аудита.
// Reset из любой фазы возвращает сессию в idle.
//
// Долгие вызовы коллабораторов выполняются без удержания мьютекса.
// Счётчик эпох отбрасывает результат операции, если во время неё был выполнен Reset.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Phase: фаза сессии аудита.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseScanning    Phase = "scanning"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseReviewing   Phase = "reviewing"
	PhaseRemediating Phase = "remediating"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// validTransitions: матрица допустимых переходов.
// Переход в idle (Reset) допустим всегда и в матрице не описывается.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseIdle:        {PhaseScanning: true},
	PhaseScanning:    {PhaseAnalyzing: true, PhaseFailed: true},
	PhaseAnalyzing:   {PhaseReviewing: true, PhaseFailed: true},
	PhaseReviewing:   {PhaseRemediating: true},
	PhaseRemediating: {PhaseCompleted: true},
	PhaseCompleted:   {PhaseReviewing: true},
	PhaseFailed:      {PhaseScanning: true},
}

// TransitionRecord: запись о переходе между фазами.
type TransitionRecord struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Deps: коллабораторы сессии.
type Deps struct {
	// Source: подключённое хранилище (nil, если доступен только демо-режим)
	Source FileSource
	// Demo: фиксированный демонстрационный набор
	Demo FileSource
	// Classifier: внешний классификатор
	Classifier Classifier
	// Remediator: движок пакетного удаления
	Remediator Remediator
	// Logger: логгер (nil означает slog.Default())
	Logger *slog.Logger
}

// Options: настраиваемые параметры сессии.
type Options struct {
	// Threshold: порог автоматического выбора (строго больше)
	Threshold float64
}

// State: снимок сессии для UI. Все срезы в нём скопированы.
type State struct {
	ID            string                   `json:"id"`
	Phase         Phase                    `json:"phase"`
	Origin        model.Origin             `json:"origin,omitempty"`
	Files         []model.FileRecord       `json:"files"`
	Candidates    []model.CleanupCandidate `json:"candidates"`
	Selection     []string                 `json:"selection"`
	Selected      model.SizeTotals         `json:"selected"`
	StatusMessage string                   `json:"status_message"`
	LastError     *ErrorInfo               `json:"last_error,omitempty"`
	LastResult    *model.RemediationResult `json:"last_result,omitempty"`
	Threshold     float64                  `json:"threshold"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// Session: агрегат сессии аудита.
// Единственный владелец файлов, кандидатов и выбора.
type Session struct {
	id     string
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	phase      Phase
	origin     model.Origin
	scanSource FileSource
	files      []model.FileRecord
	candidates []model.CleanupCandidate
	selection  *SelectionSet
	status     string
	lastErr    *Error
	lastResult *model.RemediationResult
	history    []TransitionRecord
	epoch      uint64
	updatedAt  time.Time
}

// NewSession создаёт сессию в фазе idle.
// Возвращает ошибку, если порог невалиден или не заданы обязательные коллабораторы.
func NewSession(id string, deps Deps, opts Options) (*Session, error) {
	if err := ValidateThreshold(opts.Threshold); err != nil {
		return nil, err
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("классификатор не задан")
	}
	if deps.Remediator == nil {
		return nil, fmt.Errorf("движок удаления не задан")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:        id,
		deps:      deps,
		opts:      opts,
		logger:    logger.With(slog.String("component", "audit_session"), slog.String("session_id", id)),
		phase:     PhaseIdle,
		selection: NewSelectionSet(),
		history:   make([]TransitionRecord, 0),
		updatedAt: time.Now().UTC(),
	}, nil
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

// Phase возвращает текущую фазу.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// History возвращает историю переходов (копия).
func (s *Session) History() []TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]TransitionRecord, len(s.history))
	copy(result, s.history)
	return result
}

// State возвращает снимок сессии.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]model.FileRecord, len(s.files))
	copy(files, s.files)
	candidates := make([]model.CleanupCandidate, len(s.candidates))
	copy(candidates, s.candidates)
	selection := s.selection.Ordered(s.candidates)

	return State{
		ID:            s.id,
		Phase:         s.phase,
		Origin:        s.origin,
		Files:         files,
		Candidates:    candidates,
		Selection:     selection,
		Selected:      model.Totals(s.filesByIDLocked(selection)),
		StatusMessage: s.status,
		LastError:     s.lastErr.info(),
		LastResult:    copyResult(s.lastResult),
		Threshold:     s.opts.Threshold,
		UpdatedAt:     s.updatedAt,
	}
}

// --- Сканирование и анализ ---

// StartScan выполняет сканирование подключённого хранилища и анализ.
// Блокирующий вызов: возвращается после перехода в reviewing или failed.
func (s *Session) StartScan(ctx context.Context) error {
	epoch, src, err := s.beginScan(model.OriginLive)
	if err != nil {
		return err
	}
	return s.runScan(ctx, epoch, src)
}

// StartDemo выполняет тот же конвейер над демонстрационным набором.
func (s *Session) StartDemo(ctx context.Context) error {
	epoch, src, err := s.beginScan(model.OriginDemo)
	if err != nil {
		return err
	}
	return s.runScan(ctx, epoch, src)
}

// StartScanAsync проверяет фазу синхронно и запускает конвейер в горутине.
// Канал получает итог конвейера и закрывается.
func (s *Session) StartScanAsync(ctx context.Context, origin model.Origin) (<-chan error, error) {
	epoch, src, err := s.beginScan(origin)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- s.runScan(ctx, epoch, src)
		close(done)
	}()
	return done, nil
}

// beginScan проверяет предусловия, очищает предыдущие данные и переводит сессию в scanning.
func (s *Session) beginScan(origin model.Origin) (uint64, FileSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle && s.phase != PhaseFailed {
		return 0, nil, precondition("сканирование недопустимо в фазе %s", s.phase)
	}

	src := s.deps.Source
	if origin == model.OriginDemo {
		src = s.deps.Demo
	}
	if src == nil {
		// Фаза не меняется (idle или failed), ошибка видна через lastError
		ae := &Error{
			Kind:    KindSourceUnavailable,
			Message: fmt.Sprintf("источник %q не настроен", origin),
			Err:     model.ErrSourceUnavailable,
		}
		s.lastErr = ae
		s.status = ae.Message
		s.touchLocked()
		s.logger.Warn("Сканирование невозможно: источник не настроен", slog.String("origin", string(origin)))
		return 0, nil, ae
	}

	s.clearLocked()
	s.origin = origin
	s.scanSource = src
	s.epoch++
	s.transitionLocked(PhaseScanning)
	s.status = "Получение списка файлов"

	s.logger.Info("Сканирование начато", slog.String("origin", string(origin)))
	return s.epoch, src, nil
}

// runScan выполняет List и Classify и применяет результат, если эпоха не сменилась.
func (s *Session) runScan(ctx context.Context, epoch uint64, src FileSource) error {
	start := time.Now()

	files, err := src.List(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return s.staleError()
	}
	if err != nil {
		ae := sourceError(err)
		s.failLocked(ae)
		s.mu.Unlock()
		s.logger.Warn("Сканирование не удалось",
			slog.String("kind", string(ae.Kind)),
			slog.String("error", err.Error()),
		)
		return ae
	}

	files = s.normalizeFiles(files)
	s.files = files
	s.transitionLocked(PhaseAnalyzing)
	s.status = fmt.Sprintf("Анализ файлов: %d", len(files))
	toClassify := make([]model.FileRecord, len(files))
	copy(toClassify, files)
	s.mu.Unlock()

	s.logger.Debug("Список файлов получен", slog.Int("files", len(files)))

	raw, summary, err := s.deps.Classifier.Classify(ctx, toClassify)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return s.staleError()
	}
	if err != nil {
		ae := classificationError(err)
		// Неразмеченный набор не подлежит просмотру
		s.files = nil
		s.failLocked(ae)
		s.logger.Warn("Классификация не удалась", slog.String("error", err.Error()))
		return ae
	}

	report := ValidateCandidates(s.files, raw)
	if report.Discarded() > 0 || report.Clamped > 0 {
		s.logger.Warn("Ответ классификатора скорректирован",
			slog.Int("orphans", report.Orphans),
			slog.Int("duplicates", report.Duplicates),
			slog.Int("invalid_category", report.InvalidCategory),
			slog.Int("clamped", report.Clamped),
		)
	}

	s.candidates = report.Candidates
	s.selection = AutoSelect(s.candidates, s.opts.Threshold)
	s.status = summary
	if s.status == "" {
		s.status = fmt.Sprintf("Найдено кандидатов: %d", len(s.candidates))
	}
	s.transitionLocked(PhaseReviewing)

	s.logger.Info("Анализ завершён",
		slog.Int("files", len(s.files)),
		slog.Int("candidates", len(s.candidates)),
		slog.Int("selected", s.selection.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// normalizeFiles проставляет origin сканирования и удаляет повторные id.
// Вызывается под мьютексом.
func (s *Session) normalizeFiles(files []model.FileRecord) []model.FileRecord {
	out := make([]model.FileRecord, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		f.Origin = s.origin
		out = append(out, f)
	}
	if dropped := len(files) - len(out); dropped > 0 {
		s.logger.Warn("Источник вернул повторные id", slog.Int("dropped", dropped))
	}
	return out
}

// --- Выбор ---

// ToggleSelection инвертирует выбор кандидата.
// id, не являющийся кандидатом, игнорируется без ошибки.
func (s *Session) ToggleSelection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseReviewing {
		return precondition("изменение выбора недопустимо в фазе %s", s.phase)
	}
	if !s.isCandidateLocked(id) {
		return nil
	}
	s.selection.Toggle(id)
	s.touchLocked()
	return nil
}

// SelectAll выбирает всех кандидатов.
func (s *Session) SelectAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseReviewing {
		return precondition("изменение выбора недопустимо в фазе %s", s.phase)
	}
	for i := range s.candidates {
		s.selection.Add(s.candidates[i].ID)
	}
	s.touchLocked()
	return nil
}

// ClearSelection снимает выбор со всех кандидатов.
func (s *Session) ClearSelection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseReviewing {
		return precondition("изменение выбора недопустимо в фазе %s", s.phase)
	}
	s.selection.Clear()
	s.touchLocked()
	return nil
}

// --- Удаление ---

// Remediate удаляет выбранные файлы. Блокирующий вызов.
// Ошибка возвращается только при нарушении предусловий;
// неудачи отдельных файлов отражаются в результате.
func (s *Session) Remediate(ctx context.Context) (*model.RemediationResult, error) {
	epoch, snapshot, trash, err := s.beginRemediate()
	if err != nil {
		return nil, err
	}
	return s.runRemediate(ctx, epoch, snapshot, trash), nil
}

// RemediateAsync проверяет предусловия синхронно и запускает удаление в горутине.
// Канал получает результат (даже если сессия была сброшена во время удаления) и закрывается.
func (s *Session) RemediateAsync(ctx context.Context) (<-chan *model.RemediationResult, error) {
	epoch, snapshot, trash, err := s.beginRemediate()
	if err != nil {
		return nil, err
	}
	done := make(chan *model.RemediationResult, 1)
	go func() {
		done <- s.runRemediate(ctx, epoch, snapshot, trash)
		close(done)
	}()
	return done, nil
}

// beginRemediate снимает снимок выбора и переводит сессию в remediating.
func (s *Session) beginRemediate() (uint64, []model.FileRecord, TrashFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseReviewing {
		return 0, nil, nil, precondition("удаление недопустимо в фазе %s", s.phase)
	}
	if s.selection.Len() == 0 {
		return 0, nil, nil, precondition("нет выбранных файлов для удаления")
	}

	snapshot := s.filesByIDLocked(s.selection.Ordered(s.candidates))
	s.transitionLocked(PhaseRemediating)
	s.status = fmt.Sprintf("Удаление файлов: %d", len(snapshot))

	s.logger.Info("Удаление начато", slog.Int("files", len(snapshot)))
	return s.epoch, snapshot, s.scanSource.Trash, nil
}

// runRemediate вызывает движок удаления и применяет результат, если эпоха не сменилась.
func (s *Session) runRemediate(ctx context.Context, epoch uint64, snapshot []model.FileRecord, trash TrashFunc) *model.RemediationResult {
	progress := func(done, total int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch == epoch && s.phase == PhaseRemediating {
			s.status = fmt.Sprintf("Удалено %d из %d", done, total)
			s.touchLocked()
		}
	}

	scope := fmt.Sprintf("%s#%d", s.id, epoch)
	result := s.deps.Remediator.Execute(ctx, scope, snapshot, trash, progress)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		s.logger.Warn("Сессия сброшена во время удаления, результат не применён к сессии",
			slog.Int("succeeded", len(result.Succeeded)),
			slog.Int("failed", len(result.Failed)),
		)
		return result
	}

	s.applyResultLocked(result)
	s.transitionLocked(PhaseCompleted)

	s.logger.Info("Удаление завершено",
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
	)
	return result
}

// applyResultLocked убирает удалённые файлы из сессии.
// Неудачные остаются в файлах, кандидатах и выборе.
func (s *Session) applyResultLocked(result *model.RemediationResult) {
	removed := make(map[string]struct{}, len(result.Succeeded))
	for _, id := range result.Succeeded {
		removed[id] = struct{}{}
		s.selection.Remove(id)
	}

	files := s.files[:0]
	for _, f := range s.files {
		if _, ok := removed[f.ID]; !ok {
			files = append(files, f)
		}
	}
	s.files = files

	candidates := s.candidates[:0]
	for _, c := range s.candidates {
		if _, ok := removed[c.ID]; !ok {
			candidates = append(candidates, c)
		}
	}
	s.candidates = candidates

	s.lastResult = result
	s.status = fmt.Sprintf("Удалено %d из %d", len(result.Succeeded), len(result.Succeeded)+len(result.Failed))

	s.lastErr = nil
	if len(result.Failed) > 0 {
		kind := KindRemediationItem
		for _, f := range result.Failed {
			if f.Code == model.FailureUnauthorized {
				kind = KindAuthorization
				break
			}
		}
		s.lastErr = &Error{
			Kind:    kind,
			Message: fmt.Sprintf("не удалось удалить файлов: %d", len(result.Failed)),
		}
	}
}

// ResumeReview возвращает завершённую сессию к просмотру оставшихся кандидатов.
// Допустимо только из completed при наличии кандидатов.
func (s *Session) ResumeReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCompleted {
		return precondition("возврат к просмотру недопустим в фазе %s", s.phase)
	}
	if len(s.candidates) == 0 {
		return precondition("нет оставшихся кандидатов")
	}
	s.transitionLocked(PhaseReviewing)
	return nil
}

// Reset отбрасывает все данные и возвращает сессию в idle.
// Допустим из любой фазы; результат незавершённой операции будет отброшен.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.clearLocked()
	s.origin = ""
	s.scanSource = nil
	s.phase = PhaseIdle
	s.history = make([]TransitionRecord, 0)
	s.touchLocked()

	s.logger.Info("Сессия сброшена")
}

// --- Вспомогательные функции ---

// transitionLocked выполняет переход по матрице.
// Недопустимый переход: ошибка программиста, фиксируется в логе.
func (s *Session) transitionLocked(target Phase) {
	if !validTransitions[s.phase][target] {
		s.logger.Error("Недопустимый переход фазы",
			slog.String("from", string(s.phase)),
			slog.String("to", string(target)),
		)
	}
	s.history = append(s.history, TransitionRecord{
		From:      s.phase,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	s.phase = target
	s.touchLocked()
}

// failLocked переводит сессию в failed с указанной ошибкой.
func (s *Session) failLocked(err *Error) {
	s.candidates = nil
	s.selection = NewSelectionSet()
	s.lastErr = err
	s.status = err.Message
	s.transitionLocked(PhaseFailed)
}

// clearLocked очищает файлы, кандидатов, выбор и ошибки.
func (s *Session) clearLocked() {
	s.files = nil
	s.candidates = nil
	s.selection = NewSelectionSet()
	s.status = ""
	s.lastErr = nil
	s.lastResult = nil
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func (s *Session) isCandidateLocked(id string) bool {
	for i := range s.candidates {
		if s.candidates[i].ID == id {
			return true
		}
	}
	return false
}

// filesByIDLocked возвращает файлы в порядке ids.
func (s *Session) filesByIDLocked(ids []string) []model.FileRecord {
	index := make(map[string]int, len(s.files))
	for i := range s.files {
		index[s.files[i].ID] = i
	}
	out := make([]model.FileRecord, 0, len(ids))
	for _, id := range ids {
		if i, ok := index[id]; ok {
			out = append(out, s.files[i])
		}
	}
	return out
}

func (s *Session) staleError() error {
	s.logger.Debug("Результат операции отброшен: сессия сброшена")
	return precondition("сессия сброшена во время выполнения операции")
}

// copyResult возвращает копию результата, чтобы снимок не разделял карту с сессией.
func copyResult(r *model.RemediationResult) *model.RemediationResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Succeeded = append([]string(nil), r.Succeeded...)
	out.Failed = make(map[string]model.ItemFailure, len(r.Failed))
	for k, v := range r.Failed {
		out.Failed[k] = v
	}
	return &out
}
