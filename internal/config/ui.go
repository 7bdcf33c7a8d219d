package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
)

var (
	docStyle          = lipgloss.NewStyle().Margin(1, 2)
	titleStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	statusStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Store is the part of settings.Store the form needs.
type Store interface {
	Snapshot() (settings.Snapshot, error)
	Set(values map[string]string) (settings.Snapshot, error)
	Reset() (settings.Snapshot, error)
}

type model struct {
	store         Store
	current       settings.Snapshot
	list          list.Model
	selectionList list.Model
	state         state
	textInput     textinput.Model
	activeSetting *settingItem
	status        string
	err           error
	quitting      bool
	width         int
	height        int
}

type state int

const (
	stateList state = iota
	stateEditing
	stateSelection
)

type settingType int

const (
	typeText settingType = iota
	typeSecret
	typeList
	typeToggle
	typeAction
)

type settingItem struct {
	title       string
	description string
	key         string
	itemType    settingType
	options     []string
}

func (s settingItem) Title() string       { return s.title }
func (s settingItem) Description() string { return s.description }
func (s settingItem) FilterValue() string { return s.title }

type simpleItem string

func (s simpleItem) Title() string       { return string(s) }
func (s simpleItem) Description() string { return "" }
func (s simpleItem) FilterValue() string { return string(s) }

func settingItems() []settingItem {
	return []settingItem{
		{title: "Enabled", key: settings.KeyEnabled, itemType: typeToggle},
		{title: "API Key", key: settings.KeyAPIKey, itemType: typeSecret},
		{title: "Model", key: settings.KeyModel, itemType: typeList, options: settings.Models},
		{title: "Temperature", key: settings.KeyTemperature, itemType: typeText},
		{title: "Max Tokens", key: settings.KeyMaxTokens, itemType: typeText},
		{title: "Cache Completions", key: settings.KeyCacheEnabled, itemType: typeToggle},
		{title: "Reset", description: "Restore every setting to its default", itemType: typeAction},
	}
}

func initialModel(store Store) model {
	items := lo.Map(settingItems(), func(s settingItem, _ int) list.Item { return s })

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = selectedItemStyle
	delegate.Styles.SelectedDesc = selectedItemStyle.Foreground(lipgloss.Color("240"))

	l := list.New(items, delegate, 0, 0)
	l.Title = "autotab settings"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = titleStyle

	selL := list.New([]list.Item{}, delegate, 0, 0)
	selL.SetShowStatusBar(false)
	selL.SetFilteringEnabled(false)
	selL.Styles.Title = titleStyle

	ti := textinput.New()
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	ti.Focus()

	m := model{
		store:         store,
		list:          l,
		selectionList: selL,
		state:         stateList,
		textInput:     ti,
	}
	m.current, m.err = store.Snapshot()
	m.refreshDescriptions()
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 2)
		m.selectionList.SetWidth(msg.Width)
		m.selectionList.SetHeight(msg.Height - 2)

	case tea.KeyMsg:
		if m.state == stateEditing {
			switch msg.Type {
			case tea.KeyEsc:
				m.textInput.EchoMode = textinput.EchoNormal
				m.state = stateList
				return m, nil
			case tea.KeyEnter:
				m.save(m.activeSetting.key, m.textInput.Value())
				m.textInput.EchoMode = textinput.EchoNormal
				m.state = stateList
				return m, nil
			}
			m.textInput, cmd = m.textInput.Update(msg)
			return m, cmd
		}

		if m.state == stateSelection {
			switch msg.Type {
			case tea.KeyEsc:
				m.state = stateList
				return m, nil
			case tea.KeyEnter:
				if i, ok := m.selectionList.SelectedItem().(simpleItem); ok {
					m.save(m.activeSetting.key, string(i))
					m.state = stateList
					return m, nil
				}
			}
			m.selectionList, cmd = m.selectionList.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(settingItem); ok {
				m.activeSetting = &item
				m.handleSettingAction(&item)
				return m, nil
			}
		}
	}

	if m.state == stateList {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

// handleSettingAction processes the action for a setting item
func (m *model) handleSettingAction(s *settingItem) {
	switch s.itemType {
	case typeToggle:
		m.save(s.key, strconv.FormatBool(!currentBool(m.current, s.key)))

	case typeAction:
		snapshot, err := m.store.Reset()
		m.applyResult(snapshot, err, "settings reset to defaults")

	case typeList:
		options := s.options
		current := m.current.Values()[s.key]
		if current != "" && !lo.Contains(options, current) {
			options = append(lo.Without(options), current)
		}
		m.selectionList.SetItems(lo.Map(options, func(opt string, _ int) list.Item { return simpleItem(opt) }))
		m.selectionList.Title = "Select " + s.title
		if idx := lo.IndexOf(options, current); idx >= 0 {
			m.selectionList.Select(idx)
		}
		m.state = stateSelection

	default:
		m.textInput.SetValue(m.current.Values()[s.key])
		m.textInput.CursorEnd()
		if s.itemType == typeSecret {
			m.textInput.EchoMode = textinput.EchoPassword
		}
		m.state = stateEditing
	}
}

func (m *model) save(key, value string) {
	snapshot, err := m.store.Set(map[string]string{key: value})
	m.applyResult(snapshot, err, "saved")
}

func (m *model) applyResult(snapshot settings.Snapshot, err error, status string) {
	if err != nil {
		m.err = err
		m.status = ""
		return
	}
	m.current = snapshot
	m.err = nil
	m.status = status
	m.refreshDescriptions()
}

func (m *model) refreshDescriptions() {
	items := m.list.Items()
	for i, item := range items {
		s, ok := item.(settingItem)
		if !ok || s.itemType == typeAction {
			continue
		}
		s.description = "Current: " + displayValue(m.current, s)
		items[i] = s
	}
	m.list.SetItems(items)
}

func displayValue(snapshot settings.Snapshot, s settingItem) string {
	value := snapshot.Values()[s.key]
	switch {
	case s.itemType == typeSecret && value != "":
		return maskSecret(value)
	case value == "":
		return "(not set)"
	}
	return value
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func currentBool(snapshot settings.Snapshot, key string) bool {
	b, _ := strconv.ParseBool(snapshot.Values()[key])
	return b
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	if m.state == stateEditing {
		return fmt.Sprintf(
			"\n  Edit %s\n\n  %s\n\n  (esc to cancel, enter to save)",
			m.activeSetting.title,
			m.textInput.View(),
		)
	}

	if m.state == stateSelection {
		return docStyle.Render(m.selectionList.View())
	}

	footer := ""
	if m.err != nil {
		footer = errorStyle.Render("error: " + m.err.Error())
	} else if m.status != "" {
		footer = statusStyle.Render(m.status)
	}
	return docStyle.Render(m.list.View() + "\n" + footer)
}

// Run shows the settings form until the user quits.
func Run(store Store) error {
	p := tea.NewProgram(initialModel(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
