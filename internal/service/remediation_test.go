package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func liveFiles(ids ...string) []model.FileRecord {
	out := make([]model.FileRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.FileRecord{ID: id, Name: id, Origin: model.OriginLive})
	}
	return out
}

// trashRecorder: заглушка удаления, считающая вызовы по id.
type trashRecorder struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
	errFn func(id string) error
}

func newTrashRecorder(errFn func(id string) error) *trashRecorder {
	return &trashRecorder{calls: make(map[string]int), errFn: errFn}
}

func (r *trashRecorder) trash(_ context.Context, id string) error {
	r.mu.Lock()
	r.calls[id]++
	r.order = append(r.order, id)
	r.mu.Unlock()
	if r.errFn != nil {
		return r.errFn(id)
	}
	return nil
}

func newTestEngine(concurrency int) *RemediationEngine {
	return NewRemediationEngine(RemediationOptions{
		Concurrency: concurrency,
		MemorySize:  100,
		MemoryTTL:   time.Minute,
	}, testLogger())
}

// TestRemediation_Isolation: ошибка одного файла не влияет на остальные.
func TestRemediation_Isolation(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		rec := newTrashRecorder(func(id string) error {
			if id == "b" {
				return model.ErrForbidden
			}
			return nil
		})
		e := newTestEngine(concurrency)

		res := e.Execute(context.Background(), "s1", liveFiles("a", "b", "c"), rec.trash, nil)

		if res.Attempted != 3 {
			t.Errorf("concurrency=%d: attempted = %d", concurrency, res.Attempted)
		}
		if len(res.Succeeded) != 2 || res.Succeeded[0] != "a" || res.Succeeded[1] != "c" {
			t.Errorf("concurrency=%d: succeeded = %v, ожидалось [a c] в порядке входа", concurrency, res.Succeeded)
		}
		if f, ok := res.Failed["b"]; !ok || f.Code != model.FailureForbidden {
			t.Errorf("concurrency=%d: failed = %v", concurrency, res.Failed)
		}
		for _, id := range []string{"a", "b", "c"} {
			if rec.calls[id] != 1 {
				t.Errorf("concurrency=%d: вызовов для %s: %d", concurrency, id, rec.calls[id])
			}
		}
	}
}

// TestRemediation_SequentialOrder: при concurrency=1 порядок вызовов совпадает с входом.
func TestRemediation_SequentialOrder(t *testing.T) {
	rec := newTrashRecorder(nil)
	e := newTestEngine(1)

	e.Execute(context.Background(), "s1", liveFiles("c", "a", "b"), rec.trash, nil)

	want := []string{"c", "a", "b"}
	for i, id := range want {
		if rec.order[i] != id {
			t.Fatalf("порядок вызовов %v, ожидался %v", rec.order, want)
		}
	}
}

// TestRemediation_DuplicateInput: дубликат id отправляется один раз.
func TestRemediation_DuplicateInput(t *testing.T) {
	rec := newTrashRecorder(nil)
	e := newTestEngine(4)

	res := e.Execute(context.Background(), "s1", liveFiles("a", "a", "b"), rec.trash, nil)

	if rec.calls["a"] != 1 {
		t.Errorf("вызовов для a: %d", rec.calls["a"])
	}
	if res.Attempted != 2 || len(res.Succeeded) != 2 {
		t.Errorf("результат: %+v", res)
	}
}

// TestRemediation_DemoNoCall: демо-файлы удаляются без вызова.
func TestRemediation_DemoNoCall(t *testing.T) {
	rec := newTrashRecorder(func(string) error { return errors.New("не должно вызываться") })
	e := newTestEngine(2)

	files := []model.FileRecord{
		{ID: "m1", Origin: model.OriginDemo},
		{ID: "m2", Origin: model.OriginDemo},
	}
	res := e.Execute(context.Background(), "s1", files, rec.trash, nil)

	if len(rec.calls) != 0 {
		t.Errorf("для демо-файлов не должно быть вызовов: %v", rec.calls)
	}
	if len(res.Succeeded) != 2 || len(res.Failed) != 0 {
		t.Errorf("результат: %+v", res)
	}
}

// TestRemediation_AlreadyRemoved: повторная отправка удалённого id.
func TestRemediation_AlreadyRemoved(t *testing.T) {
	rec := newTrashRecorder(nil)
	e := newTestEngine(2)

	first := e.Execute(context.Background(), "s1", liveFiles("a"), rec.trash, nil)
	if !first.IsSucceeded("a") {
		t.Fatalf("первое удаление: %+v", first)
	}

	second := e.Execute(context.Background(), "s1", liveFiles("a"), rec.trash, nil)
	if f, ok := second.Failed["a"]; !ok || f.Code != model.FailureAlreadyRemoved {
		t.Errorf("ожидался ALREADY_REMOVED, получено %+v", second)
	}
	if rec.calls["a"] != 1 {
		t.Errorf("повторный вызов удаления: %d", rec.calls["a"])
	}

	// Другая сессия не знает об удалении: файл мог быть восстановлен из корзины
	third := e.Execute(context.Background(), "s2", liveFiles("a"), rec.trash, nil)
	if !third.IsSucceeded("a") || rec.calls["a"] != 2 {
		t.Errorf("в другом scope ожидался новый вызов: %+v, вызовов %d", third, rec.calls["a"])
	}
}

// TestRemediation_StatusMapping: коды ошибок источника.
func TestRemediation_StatusMapping(t *testing.T) {
	errs := map[string]error{
		"nf":    model.ErrNotFound,
		"forb":  model.ErrForbidden,
		"unau":  model.ErrUnauthorized,
		"trans": model.ErrTransient,
		"other": errors.New("сбой"),
	}
	want := map[string]model.FailureCode{
		"nf":    model.FailureNotFound,
		"forb":  model.FailureForbidden,
		"unau":  model.FailureUnauthorized,
		"trans": model.FailureTransient,
		"other": model.FailureTransient,
	}
	rec := newTrashRecorder(func(id string) error { return errs[id] })
	e := newTestEngine(3)

	res := e.Execute(context.Background(), "s1", liveFiles("nf", "forb", "unau", "trans", "other"), rec.trash, nil)
	if !res.AllFailed() {
		t.Fatalf("ожидались только неудачи: %+v", res)
	}
	for id, code := range want {
		if res.Failed[id].Code != code {
			t.Errorf("%s: код %s, ожидался %s", id, res.Failed[id].Code, code)
		}
	}
}

// TestRemediation_CancelStopsSubmission: отмена не теряет отправленные файлы.
func TestRemediation_CancelStopsSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var started atomic.Int32

	trash := func(callCtx context.Context, id string) error {
		if started.Add(1) == 1 {
			cancel()
			<-release
		}
		// Вызов не должен получать отменённый контекст
		return callCtx.Err()
	}

	e := newTestEngine(1)
	done := make(chan *model.RemediationResult)
	go func() {
		done <- e.Execute(ctx, "s1", liveFiles("a", "b", "c"), trash, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	var res *model.RemediationResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute не завершился после отмены")
	}

	if !res.IsSucceeded("a") {
		t.Errorf("отправленный файл должен завершиться успешно: %+v", res)
	}
	for _, id := range []string{"b", "c"} {
		if res.Failed[id].Code != model.FailureCancelled {
			t.Errorf("%s: ожидался CANCELLED, получено %+v", id, res.Failed[id])
		}
	}
	if res.Attempted != 1 {
		t.Errorf("attempted = %d", res.Attempted)
	}
	if len(res.Succeeded)+len(res.Failed) != 3 {
		t.Errorf("каждый файл должен попасть в результат: %+v", res)
	}
}

// TestRemediation_Progress: прогресс монотонно доходит до total.
func TestRemediation_Progress(t *testing.T) {
	rec := newTrashRecorder(nil)
	e := newTestEngine(4)

	var mu sync.Mutex
	var seen []int
	e.Execute(context.Background(), "s1", liveFiles("a", "b", "c", "d"), rec.trash, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 4 {
			t.Errorf("total = %d", total)
		}
		seen = append(seen, done)
	})

	if len(seen) != 4 {
		t.Fatalf("ожидалось 4 вызова прогресса, получено %v", seen)
	}
	for i, d := range seen {
		if d != i+1 {
			t.Errorf("прогресс не монотонен: %v", seen)
			break
		}
	}
}

// TestRemediation_ConcurrencyBound: параллелизм не превышает лимит.
func TestRemediation_ConcurrencyBound(t *testing.T) {
	var cur, peak atomic.Int32
	trash := func(context.Context, string) error {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return nil
	}

	e := newTestEngine(2)
	res := e.Execute(context.Background(), "s1", liveFiles("a", "b", "c", "d", "e", "f"), trash, nil)

	if len(res.Succeeded) != 6 {
		t.Fatalf("результат: %+v", res)
	}
	if peak.Load() > 2 {
		t.Errorf("пиковый параллелизм %d превышает лимит 2", peak.Load())
	}
}
