package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/maximbilan/vaultai/internal/provider"
)

// transcriptRenderer draws the conversation, rendering assistant replies as
// markdown. Renderers are cached per wrap width.
type transcriptRenderer struct {
	style     string
	renderers map[int]*glamour.TermRenderer
}

func newTranscriptRenderer(style string) *transcriptRenderer {
	if style == "" {
		style = "notty"
	}
	return &transcriptRenderer{style: style, renderers: make(map[int]*glamour.TermRenderer)}
}

func (t *transcriptRenderer) markdown(text string, width int) string {
	r, ok := t.renderers[width]
	if !ok {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
		if t.style == "auto" {
			opts = append(opts, glamour.WithAutoStyle())
		} else {
			opts = append(opts, glamour.WithStandardStyle(t.style))
		}
		var err error
		r, err = glamour.NewTermRenderer(opts...)
		if err != nil {
			return text
		}
		t.renderers[width] = r
	}

	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (t *transcriptRenderer) render(messages []provider.Message, width int) string {
	if len(messages) == 0 {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Render("No messages yet. Ask about your links, notes or passwords.")
	}
	if width < 20 {
		width = 20
	}

	userStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	assistantStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))

	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case provider.RoleUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
		case provider.RoleAssistant:
			b.WriteString(assistantStyle.Render("Vault AI"))
			b.WriteString("\n")
			b.WriteString(t.markdown(msg.Content, width))
		}
	}
	return b.String()
}
