package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
	"github.com/bigkaa/goartstore/purge-module/internal/service"
	"github.com/bigkaa/goartstore/purge-module/internal/source"
)

// --- Моки ---

type mockClassifier struct {
	classifyFn func(ctx context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error)
}

func (m *mockClassifier) Classify(ctx context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	return m.classifyFn(ctx, files)
}

// demoCandidates: m1 и m4 выше порога 0.5, m5 ниже.
func demoCandidates() *mockClassifier {
	return &mockClassifier{
		classifyFn: func(context.Context, []model.FileRecord) ([]model.CleanupCandidate, string, error) {
			return []model.CleanupCandidate{
				{ID: "m1", Category: model.CategoryDuplicate, Reason: "совпадает с m2", Confidence: 0.9},
				{ID: "m4", Category: model.CategoryOld, Reason: "архив 2019 года", Confidence: 0.95},
				{ID: "m5", Category: model.CategoryOld, Reason: "черновик", Confidence: 0.3},
			}, "3 кандидата", nil
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps(t *testing.T, cls audit.Classifier) audit.Deps {
	t.Helper()
	return audit.Deps{
		Demo:       source.NewDemo(),
		Classifier: cls,
		Remediator: service.NewRemediationEngine(service.RemediationOptions{Concurrency: 2}, testLogger()),
		Logger:     testLogger(),
	}
}

// newDemoSession создаёт сессию в фазе reviewing на демонстрационном наборе.
func newDemoSession(t *testing.T) *audit.Session {
	t.Helper()
	s, err := audit.NewSession("cli-test", testDeps(t, demoCandidates()), audit.Options{Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.StartDemo(context.Background()); err != nil {
		t.Fatalf("StartDemo: %v", err)
	}
	return s
}

// --- runAudit ---

// TestRunAudit_DemoYes: без терминала с --yes удаляются выбранные по порогу файлы.
func TestRunAudit_DemoYes(t *testing.T) {
	var out bytes.Buffer
	opts := auditOptions{demo: true, yes: true, threshold: 0.5}

	if err := runAudit(context.Background(), nil, &out, testDeps(t, demoCandidates()), opts, false); err != nil {
		t.Fatalf("runAudit: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "кандидатов: 3") {
		t.Errorf("ожидался список из 3 кандидатов:\n%s", text)
	}
	if !strings.Contains(text, "Удалено: 2 из 2") {
		t.Errorf("ожидалось удаление m1 и m4:\n%s", text)
	}
}

// TestRunAudit_DemoWithoutYes: без --yes удаление не выполняется.
func TestRunAudit_DemoWithoutYes(t *testing.T) {
	var out bytes.Buffer
	opts := auditOptions{demo: true, threshold: 0.5}

	if err := runAudit(context.Background(), nil, &out, testDeps(t, demoCandidates()), opts, false); err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	if strings.Contains(out.String(), "Удалено") {
		t.Errorf("без --yes удаление не должно выполняться:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "--yes") {
		t.Errorf("ожидалась подсказка про --yes:\n%s", out.String())
	}
}

// TestRunAudit_NothingAboveThreshold: при высоком пороге выбор пуст.
func TestRunAudit_NothingAboveThreshold(t *testing.T) {
	var out bytes.Buffer
	opts := auditOptions{demo: true, yes: true, threshold: 0.95}

	if err := runAudit(context.Background(), nil, &out, testDeps(t, demoCandidates()), opts, false); err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	// 0.95 не строго больше порога 0.95
	if !strings.Contains(out.String(), "Нет файлов с уверенностью выше порога") {
		t.Errorf("неожиданный вывод:\n%s", out.String())
	}
}

// TestRunAudit_ClassifierError: ошибка классификатора возвращается как ошибка вида CLASSIFICATION_ERROR.
func TestRunAudit_ClassifierError(t *testing.T) {
	cls := &mockClassifier{
		classifyFn: func(context.Context, []model.FileRecord) ([]model.CleanupCandidate, string, error) {
			return nil, "", errors.New("сервис недоступен")
		},
	}
	err := runAudit(context.Background(), nil, io.Discard, testDeps(t, cls), auditOptions{demo: true, threshold: 0.5}, false)
	if !audit.IsKind(err, audit.KindClassification) {
		t.Errorf("ожидалась CLASSIFICATION_ERROR, получено %v", err)
	}
}

// --- Экран просмотра ---

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m reviewModel, msg tea.Msg) (reviewModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	rm, ok := next.(reviewModel)
	if !ok {
		t.Fatalf("Update вернул %T", next)
	}
	return rm, cmd
}

// TestReviewModel_Selection проверяет переключение, выбор всех и снятие выбора.
func TestReviewModel_Selection(t *testing.T) {
	m := newReviewModel(context.Background(), newDemoSession(t))
	if len(m.state.Selection) != 2 {
		t.Fatalf("ожидался автоматический выбор 2 файлов, получено %v", m.state.Selection)
	}

	// Курсор на m1: снять выбор
	m, _ = press(t, m, runes(" "))
	if len(m.state.Selection) != 1 || m.state.Selection[0] != "m4" {
		t.Errorf("после space ожидался выбор [m4], получено %v", m.state.Selection)
	}

	m, _ = press(t, m, runes("a"))
	if len(m.state.Selection) != 3 {
		t.Errorf("после a ожидался выбор всех 3, получено %v", m.state.Selection)
	}

	m, _ = press(t, m, runes("n"))
	if len(m.state.Selection) != 0 {
		t.Errorf("после n выбор должен быть пуст, получено %v", m.state.Selection)
	}

	// d при пустом выборе не запрашивает подтверждение
	m, _ = press(t, m, runes("d"))
	if m.confirmPurge || m.err == nil {
		t.Error("d без выбора должен давать ошибку, а не подтверждение")
	}
}

// TestReviewModel_PurgeRequiresConfirm: удаление только после второго d.
func TestReviewModel_PurgeRequiresConfirm(t *testing.T) {
	s := newDemoSession(t)
	m := newReviewModel(context.Background(), s)

	m, cmd := press(t, m, runes("d"))
	if !m.confirmPurge || cmd != nil {
		t.Fatal("первое нажатие d должно только запросить подтверждение")
	}

	// Любая другая клавиша отменяет подтверждение
	m, _ = press(t, m, runes("j"))
	if m.confirmPurge {
		t.Fatal("подтверждение должно сбрасываться другой клавишей")
	}
	if s.Phase() != audit.PhaseReviewing {
		t.Fatalf("фаза: %s", s.Phase())
	}

	m, _ = press(t, m, runes("d"))
	m, cmd = press(t, m, runes("d"))
	if !m.purging || cmd == nil {
		t.Fatal("второе нажатие d должно запустить удаление")
	}

	// Выполнить команду удаления напрямую
	done := remediate(context.Background(), s)()
	m, _ = press(t, m, done)
	if m.purging {
		t.Error("после завершения удаления индикатор должен сброситься")
	}
	if m.state.Phase != audit.PhaseCompleted {
		t.Errorf("фаза после удаления: %s", m.state.Phase)
	}
	if r := m.state.LastResult; r == nil || len(r.Succeeded) != 2 {
		t.Errorf("ожидалось 2 удалённых файла: %+v", r)
	}
	if len(m.purged) != 8 {
		t.Errorf("снимок файлов до удаления: %d", len(m.purged))
	}

	// Остался m5: возврат к просмотру
	m, _ = press(t, m, runes("r"))
	if m.state.Phase != audit.PhaseReviewing || len(m.state.Candidates) != 1 {
		t.Errorf("после r: фаза %s, кандидатов %d", m.state.Phase, len(m.state.Candidates))
	}
	if m.cursor != 0 {
		t.Errorf("курсор должен остаться в границах списка: %d", m.cursor)
	}
	if !strings.Contains(m.View(), "m5") && !strings.Contains(m.View(), "Черновик") {
		t.Error("оставшийся кандидат должен отображаться")
	}
}

// TestReviewModel_Quit: q завершает программу.
func TestReviewModel_Quit(t *testing.T) {
	m := newReviewModel(context.Background(), newDemoSession(t))
	m, cmd := press(t, m, runes("q"))
	if !m.quitting || cmd == nil {
		t.Fatal("q должен завершать программу")
	}
	if m.View() != "" {
		t.Error("после выхода экран должен быть пуст")
	}
}

// --- Корневая команда ---

// TestVersionCommand проверяет вывод версии.
func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand("1.2.3")
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--env-file", filepath.Join(t.TempDir(), "missing.env")})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != "purgectl 1.2.3" {
		t.Errorf("вывод: %q", out.String())
	}
}

// TestLoadEnvFiles: переменные из файла не перезаписывают окружение.
func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "PM_TEST_FROM_FILE=file\nPM_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PM_TEST_PRESET", "env")
	t.Setenv("PM_TEST_FROM_FILE", "")
	os.Unsetenv("PM_TEST_FROM_FILE")

	loadEnvFiles([]string{path, filepath.Join(t.TempDir(), "missing.env")})

	if got := os.Getenv("PM_TEST_FROM_FILE"); got != "file" {
		t.Errorf("PM_TEST_FROM_FILE = %q", got)
	}
	if got := os.Getenv("PM_TEST_PRESET"); got != "env" {
		t.Errorf("PM_TEST_PRESET = %q, окружение не должно перезаписываться", got)
	}
}

// TestAuditOptions_ApplyEnv проверяет заполнение флагов из окружения.
func TestAuditOptions_ApplyEnv(t *testing.T) {
	t.Setenv("PM_CLASSIFIER_URL", "http://classifier:8080")
	t.Setenv("PM_CONFIDENCE_THRESHOLD", "0.6")

	cmd := newAuditCommand(&rootOptions{})
	if err := cmd.Flags().Parse([]string{"--token", "tok"}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PM_DRIVE_ACCESS_TOKEN", "из-окружения")

	opts := &auditOptions{threshold: 0.75, accessToken: "tok"}
	if err := opts.applyEnv(cmd.Flags()); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if opts.classifierURL != "http://classifier:8080" {
		t.Errorf("classifierURL = %q", opts.classifierURL)
	}
	if opts.threshold != 0.6 {
		t.Errorf("threshold = %v", opts.threshold)
	}
	if opts.accessToken != "tok" {
		t.Errorf("явно заданный флаг не должен перезаписываться: %q", opts.accessToken)
	}

	t.Setenv("PM_CONFIDENCE_THRESHOLD", "1.5")
	if err := (&auditOptions{}).applyEnv(cmd.Flags()); err == nil {
		t.Error("ожидалась ошибка для порога вне [0, 1]")
	}
}

// TestFormatBytes проверяет форматирование размеров.
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{2_457_600, "2.3 MiB"},
		{1_843_200_000, "1.7 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, хотели %q", tt.in, got, tt.want)
		}
	}
	if formatSize(nil) != "?" {
		t.Error("неизвестный размер должен отображаться как ?")
	}
}
