package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Readiness: однократно разрешаемый сигнал готовности адаптера.
// Ожидание ограничено таймаутом и не опрашивает состояние в цикле.
type Readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewReadiness создаёт неразрешённый сигнал.
func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Resolve разрешает сигнал. Повторные вызовы игнорируются.
// err != nil означает, что инициализация не удалась.
func (r *Readiness) Resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Resolved проверяет, разрешён ли сигнал.
func (r *Readiness) Resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err возвращает ошибку инициализации (nil, если сигнал не разрешён или успешен).
func (r *Readiness) Err() error {
	if !r.Resolved() {
		return nil
	}
	return r.err
}

// Wait ожидает разрешения сигнала не дольше timeout.
// По таймауту или отмене контекста возвращает ошибку, оборачивающую ErrSourceUnavailable.
func (r *Readiness) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.err
	case <-timer.C:
		return fmt.Errorf("адаптер не готов за %s: %w", timeout, model.ErrSourceUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("ожидание готовности прервано: %v: %w", ctx.Err(), model.ErrSourceUnavailable)
	}
}
