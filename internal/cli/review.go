package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// --- Клавиши ---

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Toggle    key.Binding
	SelectAll key.Binding
	Clear     key.Binding
	Purge     key.Binding
	Resume    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "вверх")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "вниз")),
		Toggle:    key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "выбрать")),
		SelectAll: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "выбрать все")),
		Clear:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "снять выбор")),
		Purge:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d d", "в корзину")),
		Resume:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "к просмотру")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "справка")),
		Quit:      key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "выход")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.SelectAll, k.Clear, k.Purge, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.SelectAll, k.Clear},
		{k.Purge, k.Resume, k.Help, k.Quit},
	}
}

// --- Сообщения ---

type remediateDoneMsg struct {
	result *model.RemediationResult
	err    error
}

func remediate(ctx context.Context, s *audit.Session) tea.Cmd {
	return func() tea.Msg {
		result, err := s.Remediate(ctx)
		return remediateDoneMsg{result: result, err: err}
	}
}

// --- Модель ---

// reviewModel: экран просмотра кандидатов.
// Удаление требует двух нажатий d подряд.
type reviewModel struct {
	ctx     context.Context
	session *audit.Session
	state   audit.State

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	cursor int
	offset int
	width  int
	height int

	confirmPurge bool
	purging      bool
	// purged: файлы сессии на момент последнего удаления
	purged   []model.FileRecord
	quitting bool
	err      error
}

func newReviewModel(ctx context.Context, s *audit.Session) reviewModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	return reviewModel{
		ctx:     ctx,
		session: s,
		state:   s.State(),
		keys:    newKeyMap(),
		help:    help.New(),
		spinner: sp,
		width:   80,
		height:  24,
	}
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ensureVisible()
		return m, nil

	case spinner.TickMsg:
		if !m.purging {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case remediateDoneMsg:
		m.purging = false
		m.err = msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m reviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if m.purging {
		return m, nil
	}

	// Второе нажатие d подтверждает удаление, любая другая клавиша отменяет
	if m.confirmPurge {
		m.confirmPurge = false
		if key.Matches(msg, m.keys.Purge) {
			m.purging = true
			m.purged = m.state.Files
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, remediate(m.ctx, m.session))
		}
		return m, nil
	}

	m.err = nil
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.state.Candidates)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if m.cursor < len(m.state.Candidates) {
			m.err = m.session.ToggleSelection(m.state.Candidates[m.cursor].ID)
		}
	case key.Matches(msg, m.keys.SelectAll):
		m.err = m.session.SelectAll()
	case key.Matches(msg, m.keys.Clear):
		m.err = m.session.ClearSelection()
	case key.Matches(msg, m.keys.Purge):
		switch {
		case m.state.Phase != audit.PhaseReviewing:
			m.err = fmt.Errorf("удаление недоступно в фазе %s", m.state.Phase)
		case len(m.state.Selection) == 0:
			m.err = errors.New("ничего не выбрано")
		default:
			m.confirmPurge = true
		}
	case key.Matches(msg, m.keys.Resume):
		m.err = m.session.ResumeReview()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	m.refresh()
	return m, nil
}

// refresh перечитывает снимок сессии и удерживает курсор в границах списка.
func (m *reviewModel) refresh() {
	m.state = m.session.State()
	if m.cursor >= len(m.state.Candidates) {
		m.cursor = max(len(m.state.Candidates)-1, 0)
	}
	m.ensureVisible()
}

func (m *reviewModel) ensureVisible() {
	vh := m.viewportHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+vh {
		m.offset = m.cursor - vh + 1
	}
}

func (m reviewModel) viewportHeight() int {
	return max(m.height-12, 3)
}

// --- Отрисовка ---

func (m reviewModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(m.renderHeader())
	s.WriteString("\n")
	s.WriteString(m.renderList())
	s.WriteString("\n\n")
	s.WriteString(m.renderFooter())
	return s.String()
}

func (m reviewModel) renderHeader() string {
	title := titleStyle.Render("Очистка хранилища")
	origin := "хранилище"
	if m.state.Origin == model.OriginDemo {
		origin = "демо"
	}
	info := mutedStyle.Render(fmt.Sprintf("%s · файлов %d · кандидатов %d · порог %.2f · %s",
		origin, len(m.state.Files), len(m.state.Candidates), m.state.Threshold, m.state.Phase))
	return boxStyle.Width(max(m.width-2, 40)).Render(lipgloss.JoinVertical(lipgloss.Left, title, info))
}

func (m reviewModel) renderList() string {
	if len(m.state.Candidates) == 0 {
		return mutedStyle.Italic(true).Render("  Кандидатов на очистку нет")
	}

	files := fileIndex(m.state.Files)
	selected := selectedSet(m.state)
	end := min(m.offset+m.viewportHeight(), len(m.state.Candidates))

	lines := make([]string, 0, end-m.offset+1)
	for i := m.offset; i < end; i++ {
		c := m.state.Candidates[i]
		f := files[c.ID]

		mark := "[ ]"
		if selected[c.ID] {
			mark = okStyle.Render("[x]")
		}
		line := fmt.Sprintf("%s %-9s %4.0f%% %10s  %s", mark, c.Category, c.Confidence*100, formatSize(f.SizeBytes), f.Name)
		if i == m.cursor {
			line = cursorStyle.Render("›") + " " + line
			if c.Reason != "" {
				line += "\n" + mutedStyle.Render("      "+c.Reason)
			}
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	if len(m.state.Candidates) > end-m.offset {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("  ── %d/%d ──", end, len(m.state.Candidates))))
	}
	return strings.Join(lines, "\n")
}

func (m reviewModel) renderFooter() string {
	var s strings.Builder
	s.WriteString("Выбрано: " + formatTotals(m.state.Selected) + "\n")

	switch {
	case m.purging:
		s.WriteString(m.spinner.View() + " Перемещение в корзину...\n")
	case m.confirmPurge:
		s.WriteString(warningStyle.Render(fmt.Sprintf("Переместить в корзину %d файлов? Нажмите d ещё раз для подтверждения", len(m.state.Selection))) + "\n")
	case m.state.LastError != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("%s: %s", m.state.LastError.Kind, m.state.LastError.Message)) + "\n")
	case m.state.StatusMessage != "":
		s.WriteString(mutedStyle.Render(m.state.StatusMessage) + "\n")
	}
	if r := m.state.LastResult; r != nil && !m.purging {
		s.WriteString(okStyle.Render(fmt.Sprintf("Удалено %d из %d", len(r.Succeeded), r.Attempted)))
		if len(r.Failed) > 0 {
			s.WriteString(errorStyle.Render(fmt.Sprintf(", ошибок %d", len(r.Failed))))
		}
		s.WriteString("\n")
	}
	if m.err != nil {
		s.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}
	s.WriteString(m.help.View(m.keys))
	return s.String()
}

// runReview запускает интерактивный экран просмотра.
func runReview(ctx context.Context, in io.Reader, out io.Writer, s *audit.Session) error {
	p := tea.NewProgram(newReviewModel(ctx, s),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("интерактивный режим: %w", err)
	}
	if rm, ok := final.(reviewModel); ok && rm.state.LastResult != nil {
		printResult(out, rm.purged, rm.state.LastResult)
	}
	return nil
}
