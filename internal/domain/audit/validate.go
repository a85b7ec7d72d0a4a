package audit

import (
	"fmt"
	"math"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// ValidationReport: результат проверки ответа классификатора.
type ValidationReport struct {
	// Candidates: допустимые кандидаты в порядке ответа
	Candidates []model.CleanupCandidate
	// Orphans: кандидаты без соответствующего файла
	Orphans int
	// Duplicates: повторные кандидаты для одного id (сохранён первый)
	Duplicates int
	// InvalidCategory: кандидаты с категорией вне закрытого набора
	InvalidCategory int
	// Clamped: кандидаты, у которых уверенность была вне [0, 1]
	Clamped int
}

// Discarded: общее количество отброшенных кандидатов.
func (r ValidationReport) Discarded() int {
	return r.Orphans + r.Duplicates + r.InvalidCategory
}

// ValidateCandidates фильтрует недоверенный ответ классификатора.
//
// Правила:
//   - кандидат без файла с тем же id отбрасывается
//   - из нескольких кандидатов для одного id рассматривается только первый;
//     если его категория недопустима, id остаётся без кандидата
//   - категория нормализуется, неизвестная категория: кандидат отбрасывается
//   - уверенность ограничивается диапазоном [0, 1]
func ValidateCandidates(files []model.FileRecord, raw []model.CleanupCandidate) ValidationReport {
	known := make(map[string]struct{}, len(files))
	for i := range files {
		known[files[i].ID] = struct{}{}
	}

	report := ValidationReport{Candidates: make([]model.CleanupCandidate, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))

	for _, c := range raw {
		if _, ok := known[c.ID]; !ok {
			report.Orphans++
			continue
		}
		if _, dup := seen[c.ID]; dup {
			report.Duplicates++
			continue
		}
		// Первый кандидат занимает id, даже если его категория недопустима
		seen[c.ID] = struct{}{}

		category, err := model.ParseCategory(string(c.Category))
		if err != nil {
			report.InvalidCategory++
			continue
		}

		conf := model.ClampConfidence(c.Confidence)
		if conf != c.Confidence {
			report.Clamped++
		}

		report.Candidates = append(report.Candidates, model.CleanupCandidate{
			ID:         c.ID,
			Category:   category,
			Reason:     c.Reason,
			Confidence: conf,
		})
	}

	return report
}

// AutoSelect строит начальный выбор: кандидат выбран, только если
// уверенность строго больше порога.
func AutoSelect(candidates []model.CleanupCandidate, threshold float64) *SelectionSet {
	sel := NewSelectionSet()
	for i := range candidates {
		if candidates[i].Confidence > threshold {
			sel.Add(candidates[i].ID)
		}
	}
	return sel
}

// ValidateThreshold проверяет порог уверенности.
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("порог уверенности должен быть в диапазоне [0, 1], получено %v", threshold)
	}
	return nil
}
