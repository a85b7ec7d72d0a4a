package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
	"github.com/bigkaa/goartstore/purge-module/internal/source"
)

// mockSource: источник с функциями-заглушками.
type mockSource struct {
	listFn  func(ctx context.Context) ([]model.FileRecord, error)
	trashFn func(ctx context.Context, id string) error
}

func (m *mockSource) List(ctx context.Context) ([]model.FileRecord, error) { return m.listFn(ctx) }
func (m *mockSource) Trash(ctx context.Context, id string) error {
	if m.trashFn == nil {
		return nil
	}
	return m.trashFn(ctx, id)
}

// mockClassifier возвращает кандидатов для всех файлов с заданной уверенностью.
type mockClassifier struct {
	confidence float64
	err        error
}

func (m *mockClassifier) Classify(_ context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	out := make([]model.CleanupCandidate, 0, len(files))
	for _, f := range files {
		out = append(out, model.CleanupCandidate{ID: f.ID, Category: model.CategoryOld, Reason: "давно не менялся", Confidence: m.confidence})
	}
	return out, "всё старое", nil
}

// mockReports: хранилище отчётов в памяти.
type mockReports struct {
	mu      sync.Mutex
	reports []*model.AuditReport
	err     error
}

func (m *mockReports) Save(_ context.Context, r *model.AuditReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *mockReports) all() []*model.AuditReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.AuditReport(nil), m.reports...)
}

func newTestRegistry(t *testing.T, src audit.FileSource, cl audit.Classifier, reports ReportSaver) *SessionRegistry {
	t.Helper()
	var factory SourceFactory
	if src != nil {
		factory = func(string) (audit.FileSource, error) { return src, nil }
	}
	r, err := NewSessionRegistry(SessionRegistryDeps{
		Sources:    factory,
		Demo:       source.NewDemo(),
		Classifier: cl,
		Remediator: newTestEngine(2),
		Reports:    reports,
		Logger:     testLogger(),
	}, SessionRegistryOptions{Threshold: 0.75, TTL: time.Minute, MaxEntries: 10})
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestSessionRegistry_DemoFlow(t *testing.T) {
	reports := &mockReports{}
	r := newTestRegistry(t, nil, &mockClassifier{confidence: 0.9}, reports)

	info, err := r.Create("alice", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Phase != audit.PhaseIdle {
		t.Fatalf("новая сессия в фазе %s", info.Phase)
	}

	if _, err := r.StartScan("alice", info.ID, model.OriginDemo); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	r.Wait()

	got, err := r.Get("alice", info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != audit.PhaseReviewing {
		t.Fatalf("ожидалась фаза reviewing, получена %s (%+v)", got.Phase, got.LastError)
	}
	if got.Busy {
		t.Error("после завершения сканирования сессия не должна быть занята")
	}
	if len(got.Selection) != len(got.Candidates) {
		t.Errorf("при уверенности 0.9 все кандидаты должны быть выбраны")
	}
	if len(got.History) == 0 {
		t.Error("Get должен возвращать историю переходов")
	}

	if _, err := r.Remediate("alice", info.ID); err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	r.Wait()

	got, _ = r.Get("alice", info.ID)
	if got.Phase != audit.PhaseCompleted {
		t.Fatalf("ожидалась фаза completed, получена %s", got.Phase)
	}
	if len(got.Files) != 0 {
		t.Errorf("демо-файлы должны быть удалены из сессии: %d", len(got.Files))
	}

	saved := reports.all()
	if len(saved) != 1 {
		t.Fatalf("ожидался 1 отчёт, получено %d", len(saved))
	}
	if saved[0].Owner != "alice" || saved[0].Origin != model.OriginDemo || saved[0].Failed != 0 {
		t.Errorf("отчёт: %+v", saved[0])
	}
	if saved[0].Succeeded != len(saved[0].Items) {
		t.Errorf("строк отчёта %d, удалено %d", len(saved[0].Items), saved[0].Succeeded)
	}
}

func TestSessionRegistry_OwnerIsolation(t *testing.T) {
	r := newTestRegistry(t, nil, &mockClassifier{confidence: 0.9}, nil)

	info, err := r.Create("alice", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Get("bob", info.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("чужая сессия должна быть не найдена, получено %v", err)
	}
	if err := r.Delete("bob", info.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("удаление чужой сессии: %v", err)
	}
	if _, err := r.Get("alice", "no-such-id"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("несуществующая сессия: %v", err)
	}
}

func TestSessionRegistry_PreconditionsSurface(t *testing.T) {
	r := newTestRegistry(t, nil, &mockClassifier{confidence: 0.9}, nil)
	info, _ := r.Create("", "")

	if _, err := r.Remediate("", info.ID); !audit.IsKind(err, audit.KindPrecondition) {
		t.Errorf("удаление в idle: ожидалась PRECONDITION, получено %v", err)
	}
	if _, err := r.Toggle("", info.ID, "m1"); !audit.IsKind(err, audit.KindPrecondition) {
		t.Errorf("toggle в idle: ожидалась PRECONDITION, получено %v", err)
	}
	// Живого источника нет
	if _, err := r.StartScan("", info.ID, model.OriginLive); !audit.IsKind(err, audit.KindSourceUnavailable) {
		t.Errorf("скан без источника: ожидалась SOURCE_UNAVAILABLE, получено %v", err)
	}
}

func TestSessionRegistry_SelectionOps(t *testing.T) {
	r := newTestRegistry(t, nil, &mockClassifier{confidence: 0.5}, nil)
	info, _ := r.Create("", "")
	if _, err := r.StartScan("", info.ID, model.OriginDemo); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	r.Wait()

	got, err := r.SelectAll("", info.ID)
	if err != nil {
		t.Fatalf("SelectAll: %v", err)
	}
	if len(got.Selection) != len(got.Candidates) || len(got.Selection) == 0 {
		t.Fatalf("SelectAll: выбрано %d из %d", len(got.Selection), len(got.Candidates))
	}

	got, _ = r.Toggle("", info.ID, "m1")
	for _, id := range got.Selection {
		if id == "m1" {
			t.Error("m1 должен быть снят с выбора")
		}
	}

	got, _ = r.ClearSelection("", info.ID)
	if len(got.Selection) != 0 {
		t.Errorf("ClearSelection: осталось %d", len(got.Selection))
	}
}

func TestSessionRegistry_LiveFailuresAndReport(t *testing.T) {
	src := &mockSource{
		listFn: func(context.Context) ([]model.FileRecord, error) {
			return liveFiles("a", "b", "c"), nil
		},
		trashFn: func(_ context.Context, id string) error {
			if id == "b" {
				return model.ErrTransient
			}
			return nil
		},
	}
	reports := &mockReports{}
	r := newTestRegistry(t, src, &mockClassifier{confidence: 0.9}, reports)

	info, _ := r.Create("", "token")
	if _, err := r.StartScan("", info.ID, model.OriginLive); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	r.Wait()
	if _, err := r.Remediate("", info.ID); err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	r.Wait()

	got, _ := r.Get("", info.ID)
	if got.Phase != audit.PhaseCompleted {
		t.Fatalf("фаза %s", got.Phase)
	}
	if len(got.Files) != 1 || got.Files[0].ID != "b" {
		t.Errorf("должен остаться только b: %+v", got.Files)
	}
	if got.LastError == nil || got.LastError.Kind != audit.KindRemediationItem {
		t.Errorf("ожидалась REMEDIATION_ITEM_ERROR, получено %+v", got.LastError)
	}

	saved := reports.all()
	if len(saved) != 1 || saved[0].Succeeded != 2 || saved[0].Failed != 1 {
		t.Fatalf("отчёт: %+v", saved)
	}

	// Повтор для оставшегося файла
	if _, err := r.ResumeReview("", info.ID); err != nil {
		t.Fatalf("ResumeReview: %v", err)
	}
	got, _ = r.Get("", info.ID)
	if got.Phase != audit.PhaseReviewing || len(got.Selection) != 1 {
		t.Errorf("после ResumeReview: фаза %s, выбрано %v", got.Phase, got.Selection)
	}
}

func TestSessionRegistry_ResetCancelsScan(t *testing.T) {
	started := make(chan struct{})
	src := &mockSource{listFn: func(ctx context.Context) ([]model.FileRecord, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := newTestRegistry(t, src, &mockClassifier{confidence: 0.9}, nil)
	info, _ := r.Create("", "")

	if _, err := r.StartScan("", info.ID, model.OriginLive); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	<-started

	got, err := r.Reset("", info.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got.Phase != audit.PhaseIdle {
		t.Errorf("после Reset фаза %s", got.Phase)
	}

	waitDone := make(chan struct{})
	go func() { r.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("сканирование не отменено сбросом")
	}

	got, _ = r.Get("", info.ID)
	if got.Phase != audit.PhaseIdle || got.LastError != nil {
		t.Errorf("результат отменённого сканирования не должен применяться: %s %+v", got.Phase, got.LastError)
	}
}

func TestSessionRegistry_EvictionCancels(t *testing.T) {
	started := make(chan struct{}, 1)
	src := &mockSource{listFn: func(ctx context.Context) ([]model.FileRecord, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r, err := NewSessionRegistry(SessionRegistryDeps{
		Sources:    func(string) (audit.FileSource, error) { return src, nil },
		Classifier: &mockClassifier{confidence: 0.9},
		Remediator: newTestEngine(1),
		Logger:     testLogger(),
	}, SessionRegistryOptions{Threshold: 0.75, TTL: time.Minute, MaxEntries: 1})
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}

	first, _ := r.Create("", "")
	if _, err := r.StartScan("", first.ID, model.OriginLive); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	<-started

	// Вторая сессия вытесняет первую
	if _, err := r.Create("", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Get("", first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("вытесненная сессия должна быть не найдена: %v", err)
	}

	done := make(chan struct{})
	go func() { r.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("операция вытесненной сессии не отменена")
	}
}

func TestSessionRegistry_SourceFactoryError(t *testing.T) {
	r, err := NewSessionRegistry(SessionRegistryDeps{
		Sources:    func(string) (audit.FileSource, error) { return nil, errors.New("некорректный токен") },
		Classifier: &mockClassifier{},
		Remediator: newTestEngine(1),
		Logger:     testLogger(),
	}, SessionRegistryOptions{Threshold: 0.5, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}
	if _, err := r.Create("", "bad"); err == nil {
		t.Error("ожидалась ошибка фабрики источника")
	}
}

func TestNewSessionRegistry_Validation(t *testing.T) {
	if _, err := NewSessionRegistry(SessionRegistryDeps{Logger: testLogger()}, SessionRegistryOptions{}); !errors.Is(err, ErrValidation) {
		t.Errorf("без зависимостей: %v", err)
	}
	_, err := NewSessionRegistry(SessionRegistryDeps{
		Classifier: &mockClassifier{},
		Remediator: newTestEngine(1),
		Logger:     testLogger(),
	}, SessionRegistryOptions{Threshold: 2})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("порог 2: %v", err)
	}
}

// blockingClassifier ждёт release и возвращает ошибку контекста при отмене.
type blockingClassifier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingClassifier) Classify(ctx context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	return (&mockClassifier{confidence: 0.9}).Classify(ctx, files)
}

// TestSessionRegistry_RejectedRemediateKeepsScan: удаление, отклонённое во время
// анализа, не прерывает анализ.
func TestSessionRegistry_RejectedRemediateKeepsScan(t *testing.T) {
	cl := &blockingClassifier{started: make(chan struct{}), release: make(chan struct{})}
	r := newTestRegistry(t, nil, cl, nil)
	info, _ := r.Create("", "")

	if _, err := r.StartScan("", info.ID, model.OriginDemo); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	<-cl.started

	if _, err := r.Remediate("", info.ID); !audit.IsKind(err, audit.KindPrecondition) {
		t.Fatalf("удаление во время анализа: ожидалась PRECONDITION, получено %v", err)
	}
	if _, err := r.StartScan("", info.ID, model.OriginDemo); !audit.IsKind(err, audit.KindPrecondition) {
		t.Fatalf("повторный скан во время анализа: ожидалась PRECONDITION, получено %v", err)
	}

	close(cl.release)
	r.Wait()

	got, _ := r.Get("", info.ID)
	if got.Phase != audit.PhaseReviewing {
		t.Fatalf("анализ должен завершиться, фаза %s, ошибка %+v", got.Phase, got.LastError)
	}
	if len(got.Candidates) == 0 {
		t.Error("ожидались кандидаты после анализа")
	}
}

// TestSessionRegistry_RejectedScanKeepsRemediation: скан, отклонённый во время
// удаления, не отменяет удаление оставшихся файлов.
func TestSessionRegistry_RejectedScanKeepsRemediation(t *testing.T) {
	release := make(chan struct{})
	var (
		mu     sync.Mutex
		calls  int
		called = make(chan struct{}, 6)
	)
	src := &mockSource{
		listFn: func(context.Context) ([]model.FileRecord, error) {
			return liveFiles("a", "b", "c", "d", "e", "f"), nil
		},
		trashFn: func(context.Context, string) error {
			mu.Lock()
			calls++
			mu.Unlock()
			called <- struct{}{}
			<-release
			return nil
		},
	}
	reports := &mockReports{}
	r := newTestRegistry(t, src, &mockClassifier{confidence: 0.9}, reports)
	info, _ := r.Create("", "token")

	if _, err := r.StartScan("", info.ID, model.OriginLive); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	r.Wait()
	if _, err := r.Remediate("", info.ID); err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	<-called

	if _, err := r.StartScan("", info.ID, model.OriginLive); !audit.IsKind(err, audit.KindPrecondition) {
		t.Fatalf("скан во время удаления: ожидалась PRECONDITION, получено %v", err)
	}
	if _, err := r.Remediate("", info.ID); !audit.IsKind(err, audit.KindPrecondition) {
		t.Fatalf("повторное удаление: ожидалась PRECONDITION, получено %v", err)
	}

	close(release)
	r.Wait()

	got, _ := r.Get("", info.ID)
	if got.Phase != audit.PhaseCompleted {
		t.Fatalf("фаза %s", got.Phase)
	}
	if got.LastResult == nil || len(got.LastResult.Succeeded) != 6 || len(got.LastResult.Failed) != 0 {
		t.Errorf("все файлы должны быть удалены: %+v", got.LastResult)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 6 {
		t.Errorf("вызовов удаления: %d", calls)
	}
}

// TestSessionRegistry_PurgeMemoryPerSession: файл, удалённый в одной сессии
// и снова найденный другой, удаляется повторно.
func TestSessionRegistry_PurgeMemoryPerSession(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	src := &mockSource{
		listFn: func(context.Context) ([]model.FileRecord, error) {
			return liveFiles("a"), nil
		},
		trashFn: func(context.Context, string) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	}
	r := newTestRegistry(t, src, &mockClassifier{confidence: 0.9}, nil)

	for i := 0; i < 2; i++ {
		info, _ := r.Create("", "token")
		if _, err := r.StartScan("", info.ID, model.OriginLive); err != nil {
			t.Fatalf("сессия %d: StartScan: %v", i, err)
		}
		r.Wait()
		if _, err := r.Remediate("", info.ID); err != nil {
			t.Fatalf("сессия %d: Remediate: %v", i, err)
		}
		r.Wait()

		got, _ := r.Get("", info.ID)
		if got.LastResult == nil || !got.LastResult.IsSucceeded("a") {
			t.Errorf("сессия %d: ожидалось удаление a, получено %+v", i, got.LastResult)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("ожидалось по одному вызову удаления на сессию, получено %d", calls)
	}
}
