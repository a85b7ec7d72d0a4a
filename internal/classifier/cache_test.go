package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// mockClassifier: классификатор с функцией-заглушкой.
type mockClassifier struct {
	calls      int
	classifyFn func(files []model.FileRecord) ([]model.CleanupCandidate, string, error)
}

func (m *mockClassifier) Classify(_ context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	m.calls++
	return m.classifyFn(files)
}

func TestCached_HitAndMiss(t *testing.T) {
	next := &mockClassifier{classifyFn: func([]model.FileRecord) ([]model.CleanupCandidate, string, error) {
		return []model.CleanupCandidate{{ID: "a", Category: model.CategoryOld, Confidence: 0.8}}, "итог", nil
	}}
	c := NewCached(next, 8, time.Minute, testLogger())

	files := testFiles()
	first, _, err := c.Classify(context.Background(), files)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	first[0].Confidence = 0

	// Другой порядок: тот же отпечаток
	reversed := []model.FileRecord{files[1], files[0]}
	second, summary, err := c.Classify(context.Background(), reversed)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("ожидался 1 вызов классификатора, получено %d", next.calls)
	}
	if summary != "итог" || second[0].Confidence != 0.8 {
		t.Errorf("кэш вернул изменённые данные: %+v %q", second, summary)
	}

	changed := testFiles()
	changed[0].ModifiedAt = changed[0].ModifiedAt.Add(time.Second)
	if _, _, err := c.Classify(context.Background(), changed); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if next.calls != 2 {
		t.Errorf("изменённый набор должен вызвать классификатор, вызовов %d", next.calls)
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("после Purge кэш не пуст: %d", c.Len())
	}
}

func TestCached_ErrorsNotCached(t *testing.T) {
	next := &mockClassifier{classifyFn: func([]model.FileRecord) ([]model.CleanupCandidate, string, error) {
		return nil, "", model.ErrClassification
	}}
	c := NewCached(next, 8, time.Minute, testLogger())

	for i := 0; i < 2; i++ {
		if _, _, err := c.Classify(context.Background(), testFiles()); !errors.Is(err, model.ErrClassification) {
			t.Fatalf("ожидалась ErrClassification, получено %v", err)
		}
	}
	if next.calls != 2 {
		t.Errorf("ошибки не должны кэшироваться, вызовов %d", next.calls)
	}
}

func TestFingerprint_UnknownSizeDiffersFromZero(t *testing.T) {
	a := []model.FileRecord{{ID: "x", SizeBytes: nil}}
	b := []model.FileRecord{{ID: "x", SizeBytes: model.Size(0)}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("неизвестный размер не должен совпадать с нулевым")
	}
}
