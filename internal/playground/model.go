package playground

import (
	"fmt"
	"strings"
	"time"

	"github.com/atinylittleshell/autotab/pkg/ghost"
	"github.com/atinylittleshell/autotab/pkg/page"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
)

const (
	refreshInterval = 100 * time.Millisecond
	headerHeight    = 2
	fieldHeight     = 6
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	ghostStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	helpText    = "tab accept · esc dismiss · pgup/pgdn scroll · ctrl+o click away · ctrl+f focus · ctrl+c quit"
)

type refreshMsg struct{}

// Model is the bubbletea program standing in for a web page with a single
// text area. Every keystroke reaches the observer through the page.
type Model struct {
	session  *Session
	textarea textarea.Model
	stats    func() string
	snapshot Snapshot
	width    int
	quitting bool
}

// NewModel wraps a started session. stats, when set, feeds the status line.
func NewModel(session *Session, stats func() string) Model {
	ta := textarea.New()
	ta.Placeholder = "Start typing..."
	ta.ShowLineNumbers = false
	ta.SetHeight(fieldHeight)
	ta.Focus()

	return Model{
		session:  session,
		textarea: ta,
		stats:    stats,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, refresh())
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	doc := m.session.Doc
	field := m.session.Field

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.textarea.SetWidth(msg.Width)
		field.SetRect(page.Rect{
			Top:    headerHeight,
			Width:  float64(msg.Width),
			Height: fieldHeight,
		})
		return m, nil

	case refreshMsg:
		m.snapshot = m.session.Snapshot()
		return m, refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			if doc.KeyDown(string(ghost.KeyTab)) {
				m.syncFromField()
			}
			m.snapshot = m.session.Snapshot()
			return m, nil
		case "esc":
			doc.KeyDown(string(ghost.KeyEscape))
			m.snapshot = m.session.Snapshot()
			return m, nil
		case "pgup":
			doc.Scroll(0, -fieldHeight)
			return m, nil
		case "pgdown":
			doc.Scroll(0, fieldHeight)
			return m, nil
		case "ctrl+o":
			doc.Click(nil)
			return m, nil
		case "ctrl+f":
			if doc.Active() == field {
				doc.Focus(nil)
				m.textarea.Blur()
				return m, nil
			}
			doc.Focus(field)
			return m, m.textarea.Focus()
		}

		if doc.Active() != field {
			return m, nil
		}
		doc.KeyDown(msg.String())

		before := m.textarea.Value()
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)

		offset := cursorOffset(m.textarea)
		if m.textarea.Value() != before {
			field.Replace(m.textarea.Value(), offset)
			field.DispatchInput()
		} else if offset != field.Cursor() {
			field.SetCursor(offset)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

// syncFromField copies an accepted suggestion back into the text area.
func (m *Model) syncFromField() {
	text := m.session.Field.Text()
	row, col := rowCol(text, m.session.Field.Cursor())

	m.textarea.SetValue(text)
	for i := len(text); i > 0 && m.textarea.Line() > row; i-- {
		m.textarea.CursorUp()
	}
	m.textarea.SetCursor(col)
}

// cursorOffset returns the caret as a rune offset into the whole value.
func cursorOffset(ta textarea.Model) int {
	lines := strings.Split(ta.Value(), "\n")
	offset := 0
	for i := 0; i < ta.Line() && i < len(lines); i++ {
		offset += len([]rune(lines[i])) + 1
	}
	info := ta.LineInfo()
	return offset + info.StartColumn + info.ColumnOffset
}

// rowCol converts a rune offset into a line and column.
func rowCol(text string, offset int) (int, int) {
	row, col := 0, 0
	for i, r := range []rune(text) {
		if i == offset {
			break
		}
		if r == '\n' {
			row++
			col = 0
			continue
		}
		col++
	}
	return row, col
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("autotab playground"))
	b.WriteString("\n\n")
	b.WriteString(m.textarea.View())
	b.WriteString("\n")
	b.WriteString(m.renderGhost())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.truncate(m.statusLine())))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.truncate(helpText)))
	return b.String()
}

// renderGhost draws the overlay node the observer placed on the page, if
// any, indented to its left offset.
func (m Model) renderGhost() string {
	nodes := m.session.Doc.Nodes(ghost.OverlayClass)
	if len(nodes) == 0 {
		return ""
	}
	node := nodes[0]

	width := m.width
	if width <= 0 {
		width = 80
	}
	indent := int(node.Left)
	if indent >= width {
		indent = 0
	}

	wrapped := wordwrap.String(node.Text, width-indent)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		lines[i] = strings.Repeat(" ", indent) + ghostStyle.Render(runewidth.Truncate(line, width-indent, "…"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) statusLine() string {
	parts := []string{
		m.snapshot.State.String(),
		fmt.Sprintf("request #%d", m.snapshot.RequestID),
	}
	if m.stats != nil {
		parts = append(parts, m.stats())
	}
	return strings.Join(parts, " · ")
}

func (m Model) truncate(s string) string {
	if m.width <= 0 {
		return s
	}
	return runewidth.Truncate(s, m.width, "…")
}

// Run shows the playground until the user quits.
func Run(session *Session, stats func() string) error {
	p := tea.NewProgram(NewModel(session, stats), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
