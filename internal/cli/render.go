package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Цвета и стили терминального вывода.
var (
	colorAccent  = lipgloss.Color("#F97316")
	colorMuted   = lipgloss.Color("#6B7280")
	colorOK      = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#EAB308")
	colorError   = lipgloss.Color("#EF4444")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle      = lipgloss.NewStyle().Foreground(colorOK)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	cursorStyle  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1)
)

// formatSize форматирует размер в двоичных единицах. nil: размер неизвестен.
func formatSize(size *int64) string {
	if size == nil {
		return "?"
	}
	return formatBytes(*size)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatTotals: «N файлов, X (+M неизвестного размера)».
func formatTotals(t model.SizeTotals) string {
	s := fmt.Sprintf("%d файлов, %s", t.Known+t.Unknown, formatBytes(t.Bytes))
	if t.Unknown > 0 {
		s += fmt.Sprintf(" (+%d неизвестного размера)", t.Unknown)
	}
	return s
}

// fileIndex строит индекс файлов сессии по id.
func fileIndex(files []model.FileRecord) map[string]model.FileRecord {
	idx := make(map[string]model.FileRecord, len(files))
	for _, f := range files {
		idx[f.ID] = f
	}
	return idx
}

// selectedSet: множество выбранных id снимка сессии.
func selectedSet(st audit.State) map[string]bool {
	set := make(map[string]bool, len(st.Selection))
	for _, id := range st.Selection {
		set[id] = true
	}
	return set
}

// printCandidates выводит кандидатов без интерактивного режима.
func printCandidates(w io.Writer, st audit.State) {
	files := fileIndex(st.Files)
	selected := selectedSet(st)

	fmt.Fprintf(w, "Просканировано файлов: %d, кандидатов: %d, порог: %.2f\n",
		len(st.Files), len(st.Candidates), st.Threshold)
	for _, c := range st.Candidates {
		mark := "[ ]"
		if selected[c.ID] {
			mark = "[x]"
		}
		f := files[c.ID]
		fmt.Fprintf(w, "%s %-9s %4.0f%%  %10s  %s  (%s)\n",
			mark, c.Category, c.Confidence*100, formatSize(f.SizeBytes), f.Name, c.Reason)
	}
	fmt.Fprintf(w, "Выбрано: %s\n", formatTotals(st.Selected))
}

// printResult выводит итог удаления.
func printResult(w io.Writer, files []model.FileRecord, result *model.RemediationResult) {
	if result == nil {
		return
	}
	report := model.NewAuditReport("", "", "", "", files, result)
	fmt.Fprintf(w, "Удалено: %d из %d, освобождено %s\n",
		report.Succeeded, report.Attempted, formatBytes(report.FreedBytes))

	if len(result.Failed) == 0 {
		return
	}
	idx := fileIndex(files)
	ids := make([]string, 0, len(result.Failed))
	for id := range result.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		failure := result.Failed[id]
		name := idx[id].Name
		if name == "" {
			name = id
		}
		fmt.Fprintf(w, "  не удалён %s: %s %s\n", name, failure.Code, strings.TrimSpace(failure.Message))
	}
}
