package model

import (
	"fmt"
	"math"
	"strings"
)

// Category: категория кандидата на очистку (закрытый набор).
type Category string

const (
	// CategoryDuplicate: дубликат другого файла
	CategoryDuplicate Category = "duplicate"
	// CategoryOld: давно не изменявшийся файл
	CategoryOld Category = "old"
	// CategoryLarge: файл большого размера
	CategoryLarge Category = "large"
)

// categoryAliases: допустимые написания категорий от классификатора.
var categoryAliases = map[string]Category{
	"duplicate":  CategoryDuplicate,
	"duplicates": CategoryDuplicate,
	"dup":        CategoryDuplicate,
	"dupe":       CategoryDuplicate,
	"old":        CategoryOld,
	"stale":      CategoryOld,
	"outdated":   CategoryOld,
	"large":      CategoryLarge,
	"oversized":  CategoryLarge,
	"big":        CategoryLarge,
	"huge":       CategoryLarge,
}

// ParseCategory нормализует категорию из ответа классификатора.
// Регистр и пробелы по краям игнорируются. Неизвестные значения: ошибка.
func ParseCategory(s string) (Category, error) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("недопустимая категория: %q, допустимые: duplicate, old, large", s)
	}
	return c, nil
}

// CleanupCandidate: мнение классификатора об одном файле.
type CleanupCandidate struct {
	// ID: идентификатор FileRecord в той же сессии
	ID string `json:"id"`
	// Category: duplicate, old или large
	Category Category `json:"category"`
	// Reason: пояснение классификатора
	Reason string `json:"reason"`
	// Confidence: уверенность в диапазоне [0, 1]
	Confidence float64 `json:"confidence"`
}

// ClampConfidence приводит уверенность к диапазону [0, 1]. NaN считается нулём.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
