package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	mediaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	partialStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	statusStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("246"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Renderer formats markdown. *glamour.TermRenderer implements it.
type Renderer interface {
	Render(in string) (string, error)
}

func mediaLabel(mt protocol.MediaType, content string) string {
	return fmt.Sprintf("[%s] %s", mt, content)
}

func renderEntry(e history.Entry, md Renderer) string {
	if e.Sender == history.SenderUser {
		return userStyle.Render("You: ") + e.Content
	}

	label := assistantStyle.Render("Assistant: ")
	var body string
	switch {
	case e.MediaType.Whole():
		body = mediaStyle.Render(mediaLabel(e.MediaType, e.Content))
	case e.Content == "":
		body = statusStyle.Render("(empty reply)")
	case md != nil:
		out, err := md.Render(e.Content)
		if err != nil {
			body = e.Content
		} else {
			body = "\n" + strings.Trim(out, "\n")
		}
	default:
		body = e.Content
	}
	if st, _ := e.Metadata[protocol.MetadataKeyEndStatus].(string); st == string(protocol.EndStatusError) {
		body += " " + errorStyle.Render("(ended with error)")
	}
	return label + body
}

func renderPartial(p *assembler.PartialReply) string {
	if p == nil {
		return ""
	}
	if p.MediaType.Whole() {
		return assistantStyle.Render("Assistant: ") + partialStyle.Render(mediaLabel(p.MediaType, p.Content))
	}
	return assistantStyle.Render("Assistant: ") + partialStyle.Render(p.Content)
}

func renderTranscript(entries []history.Entry, partial *assembler.PartialReply, md Renderer) string {
	lines := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		lines = append(lines, renderEntry(e, md))
	}
	if p := renderPartial(partial); p != "" {
		lines = append(lines, p)
	}
	return strings.Join(lines, "\n")
}

// lastAssistantText returns the content of the newest assistant entry.
func lastAssistantText(entries []history.Entry) (string, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Sender == history.SenderAssistant && entries[i].Content != "" {
			return entries[i].Content, true
		}
	}
	return "", false
}
