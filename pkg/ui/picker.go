package ui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/streamchat/pkg/recent"
)

var pickerSelectedStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(lipgloss.Color("205")).
	Foreground(lipgloss.Color("205"))

type conversationItem struct {
	item recent.Item
}

func (c conversationItem) Title() string { return c.item.ConversationID }
func (c conversationItem) Description() string {
	return "opened " + c.item.OpenedAt.Local().Format("2006-01-02 15:04")
}
func (c conversationItem) FilterValue() string { return c.item.ConversationID }

// WithRecent enables the ctrl+o conversation picker, listing what f returns.
func WithRecent(f func() []recent.Item) ModelOption {
	return func(m *Model) { m.recent = f }
}

func newPicker(items []recent.Item, width, height int) *list.Model {
	listItems := make([]list.Item, 0, len(items))
	for _, it := range items {
		listItems = append(listItems, conversationItem{item: it})
	}
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = pickerSelectedStyle
	delegate.Styles.SelectedDesc = pickerSelectedStyle

	l := list.New(listItems, delegate, width, height)
	l.Title = "Recent conversations"
	l.Styles.Title = headerStyle
	l.SetShowStatusBar(false)
	return &l
}

func (m Model) openPicker() (tea.Model, tea.Cmd) {
	if m.recent == nil {
		m.status = "no recent conversations"
		return m, nil
	}
	var items []recent.Item
	for _, it := range m.recent() {
		if it.ConversationID != m.convID {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		m.status = "no recent conversations"
		return m, nil
	}
	m.picker = newPicker(items, m.viewport.Width, m.viewport.Height)
	return m, nil
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picker.FilterState() != list.Filtering {
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc", "ctrl+o":
			m.picker = nil
			return m, nil
		case "enter":
			it, ok := m.picker.SelectedItem().(conversationItem)
			m.picker = nil
			if !ok {
				return m, nil
			}
			m.errText = ""
			m.status = "switching to " + it.item.ConversationID
			return m, m.backend.Switch(it.item.ConversationID)
		}
	}
	l, cmd := m.picker.Update(msg)
	m.picker = &l
	return m, cmd
}
