package ui

import (
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/list"
	bspinner "github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/recent"
	"github.com/go-go-golems/streamchat/pkg/session"
)

const footerLines = 3

type Model struct {
	backend  *SessionBackend
	viewport viewport.Model
	input    textinput.Model
	spinner  bspinner.Model
	markdown Renderer
	copyText func(string) error
	recent   func() []recent.Item
	picker   *list.Model

	convID  string
	state   string
	entries []history.Entry
	partial *assembler.PartialReply
	typing  bool
	status  string
	errText string
}

type ModelOption func(*Model)

// WithMarkdown renders finalized assistant text through r. nil disables it.
func WithMarkdown(r Renderer) ModelOption {
	return func(m *Model) { m.markdown = r }
}

func WithClipboard(copyText func(string) error) ModelOption {
	return func(m *Model) { m.copyText = copyText }
}

// NewMarkdownRenderer returns a glamour renderer wrapping at width.
func NewMarkdownRenderer(width int) (Renderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
}

func NewModel(backend *SessionBackend, opts ...ModelOption) Model {
	sp := bspinner.New()
	sp.Spinner = bspinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	in := textinput.New()
	in.Placeholder = "Message, /switch <id>, /copy, /quit or ctrl+o for recent conversations"
	in.CharLimit = 4000
	in.Width = 76
	in.Focus()

	m := Model{
		backend:  backend,
		viewport: viewport.New(80, 20),
		input:    in,
		spinner:  sp,
		copyText: clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.applySnapshot(backend.Snapshot())
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *Model) applySnapshot(s session.Snapshot) {
	m.convID = s.ConversationID
	m.state = s.State.String()
	m.entries = s.History
	m.partial = s.Partial
	m.typing = s.Typing
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.entries, m.partial, m.markdown))
	m.viewport.GotoBottom()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && m.picker != nil {
		return m.updatePicker(key)
	}

	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = ev.Width
		m.viewport.Height = max(ev.Height-footerLines-1, 3)
		m.input.Width = max(ev.Width-4, 10)
		if m.picker != nil {
			m.picker.SetSize(m.viewport.Width, m.viewport.Height)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+y":
			m.copyLast()
			return m, nil
		case "ctrl+o":
			return m.openPicker()
		case "enter":
			return m.submit()
		}

	case HistorySeededMsg:
		m.applySnapshot(m.backend.Snapshot())
		return m, nil

	case EntryAppendedMsg:
		if !m.current(ev.ConversationID) {
			return m, nil
		}
		if ev.Entry.Index != len(m.entries) {
			m.applySnapshot(m.backend.Snapshot())
			return m, nil
		}
		m.entries = append(m.entries, ev.Entry)
		if ev.Entry.Sender == history.SenderAssistant {
			m.partial = nil
		}
		m.refresh()
		return m, nil

	case PartialMsg:
		if !m.current(ev.ConversationID) {
			return m, nil
		}
		m.partial = ev.Partial
		m.refresh()
		return m, nil

	case TypingMsg:
		if !m.current(ev.ConversationID) {
			return m, nil
		}
		m.typing = ev.Typing
		if m.typing {
			return m, m.spinner.Tick
		}
		return m, nil

	case StateMsg:
		if ev.ConversationID != "" && ev.ConversationID != m.convID {
			m.convID = ev.ConversationID
			m.entries = nil
			m.partial = nil
			m.refresh()
		}
		m.state = ev.State
		return m, nil

	case StatusMsg:
		m.status = ev.Message
		return m, nil

	case TurnErrorMsg:
		m.errText = ev.Message
		if ev.Err != "" {
			m.errText += ": " + ev.Err
		}
		return m, nil

	case AnomalyMsg:
		m.errText = "protocol anomaly: " + ev.Message
		return m, nil

	case SessionFailedMsg:
		m.errText = "session failed: " + ev.Err
		return m, nil

	case TurnSentMsg:
		if ev.Err != nil {
			m.errText = ev.Err.Error()
		}
		return m, nil

	case SwitchedMsg:
		m.status = ""
		if ev.Err != nil {
			m.errText = ev.Err.Error()
		}
		m.applySnapshot(ev.Snapshot)
		return m, nil

	case bspinner.TickMsg:
		if !m.typing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// current reports whether a notification of convID belongs to the shown
// conversation. Notifications without an id are accepted.
func (m Model) current(convID string) bool {
	return convID == "" || convID == m.convID
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	c := ParseInput(m.input.Value())
	m.input.Reset()
	switch c.Kind {
	case CommandNone:
		return m, nil
	case CommandQuit:
		return m, tea.Quit
	case CommandCopy:
		m.copyLast()
		return m, nil
	case CommandSwitch:
		m.errText = ""
		m.status = "switching to " + c.Arg
		return m, m.backend.Switch(c.Arg)
	default:
		m.errText = ""
		return m, m.backend.Send(c.Arg)
	}
}

func (m *Model) copyLast() {
	text, ok := lastAssistantText(m.entries)
	if !ok {
		m.status = "nothing to copy"
		return
	}
	if err := m.copyText(text); err != nil {
		m.errText = "copy failed: " + err.Error()
		return
	}
	m.status = "copied last reply"
}

func (m Model) View() string {
	header := headerStyle.Render("streamchat") + " " + subHeaderStyle.Render(m.convID) + " " + statusStyle.Render("["+m.state+"]")

	footer := ""
	switch {
	case m.errText != "":
		footer = errorStyle.Render("Error: ") + m.errText
	case m.typing:
		footer = m.spinner.View() + " " + statusStyle.Render("assistant is typing")
	case m.status != "":
		footer = statusStyle.Render(m.status)
	}
	body := m.viewport.View()
	if m.picker != nil {
		body = m.picker.View()
	}
	return header + "\n" + body + "\n" + footer + "\n" + m.input.View()
}
