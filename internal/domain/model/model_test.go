package model

import (
	"fmt"
	"math"
	"testing"
)

// TestTotals_UnknownSizeNotZero проверяет, что неизвестный размер не считается нулём.
func TestTotals_UnknownSizeNotZero(t *testing.T) {
	files := []FileRecord{
		{ID: "a", SizeBytes: Size(100)},
		{ID: "b"},
		{ID: "c", SizeBytes: Size(0)},
	}

	got := Totals(files)
	if got.Bytes != 100 {
		t.Errorf("Bytes: хотели 100, получили %d", got.Bytes)
	}
	if got.Known != 2 {
		t.Errorf("Known: хотели 2, получили %d", got.Known)
	}
	if got.Unknown != 1 {
		t.Errorf("Unknown: хотели 1, получили %d", got.Unknown)
	}
}

// TestParseCategory проверяет нормализацию категорий.
func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"duplicate", CategoryDuplicate, false},
		{" Duplicates ", CategoryDuplicate, false},
		{"OLD", CategoryOld, false},
		{"stale", CategoryOld, false},
		{"large", CategoryLarge, false},
		{"Oversized", CategoryLarge, false},
		{"temporary", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCategory(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCategory(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q): хотели %q, получили %q", tt.in, tt.want, got)
		}
	}
}

// TestClampConfidence проверяет ограничение уверенности диапазоном [0, 1].
func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{7, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v): хотели %v, получили %v", tt.in, tt.want, got)
		}
	}
}

// TestFailureFromError проверяет маппинг ошибок источника в коды неудач.
func TestFailureFromError(t *testing.T) {
	tests := []struct {
		err  error
		want FailureCode
	}{
		{fmt.Errorf("trash x: %w", ErrNotFound), FailureNotFound},
		{fmt.Errorf("trash x: %w", ErrForbidden), FailureForbidden},
		{fmt.Errorf("trash x: %w", ErrUnauthorized), FailureUnauthorized},
		{fmt.Errorf("trash x: %w", ErrTransient), FailureTransient},
		{fmt.Errorf("что-то иное"), FailureTransient},
	}
	for _, tt := range tests {
		got := FailureFromError(tt.err)
		if got.Code != tt.want {
			t.Errorf("FailureFromError(%v): хотели %s, получили %s", tt.err, tt.want, got.Code)
		}
		if got.Message == "" {
			t.Errorf("FailureFromError(%v): пустое сообщение", tt.err)
		}
	}
}

// TestRemediationResult_AllFailed проверяет признак полной неудачи.
func TestRemediationResult_AllFailed(t *testing.T) {
	r := &RemediationResult{Failed: map[string]ItemFailure{"a": {Code: FailureTransient}}}
	if !r.AllFailed() {
		t.Error("ожидался AllFailed = true")
	}
	r.Succeeded = []string{"b"}
	if r.AllFailed() {
		t.Error("ожидался AllFailed = false при наличии успешных")
	}
	if !r.IsSucceeded("b") || r.IsSucceeded("a") {
		t.Error("IsSucceeded вернул неверный результат")
	}
}
