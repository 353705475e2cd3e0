package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/maximbilan/vaultai/internal/client"
	"github.com/maximbilan/vaultai/internal/clipboard"
	"github.com/maximbilan/vaultai/internal/provider"
)

// trimTrailingWhitespace removes trailing whitespace from text
func trimTrailingWhitespace(text string) string {
	return strings.TrimRight(text, " \t\n\r")
}

// Streamer opens a streamed chat reply; *client.Client satisfies it.
type Streamer interface {
	StreamChat(ctx context.Context, messages []provider.Message) <-chan client.Event
}

type Mode int

const (
	ModeChat Mode = iota
	ModeHelp
)

const readyStatus = "Ready. Enter to send, ctrl+y to copy, ? for help"

type Model struct {
	// State
	mode         Mode
	conversation client.Conversation
	isStreaming  bool
	error        string
	status       string

	// UI Components
	input    textarea.Model
	viewport viewport.Model
	renderer *transcriptRenderer

	// Services
	streamer Streamer
	copyText func(string) error

	// Active stream
	events <-chan client.Event
	cancel context.CancelFunc

	// Dimensions
	width  int
	height int
}

// Messages
type streamEventMsg struct {
	event client.Event
}

type streamClosedMsg struct{}

type statusMsg string

type Option func(*Model)

// WithCopy replaces the clipboard writer.
func WithCopy(fn func(string) error) Option {
	return func(m *Model) { m.copyText = fn }
}

// WithGlamourStyle picks the markdown style for replies, e.g. "dark" or "notty".
func WithGlamourStyle(style string) Option {
	return func(m *Model) { m.renderer = newTranscriptRenderer(style) }
}

func NewModel(streamer Streamer, opts ...Option) Model {
	input := textarea.New()
	input.Placeholder = "Ask about your vault..."
	input.CharLimit = 0
	input.ShowLineNumbers = false
	input.SetWidth(80)
	input.SetHeight(3)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	m := Model{
		mode:     ModeChat,
		input:    input,
		viewport: viewport.New(80, 20),
		renderer: newTranscriptRenderer(""),
		streamer: streamer,
		copyText: clipboard.Copy,
		status:   readyStatus,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		width := msg.Width - 4
		if width < 20 {
			width = 20
		}
		m.input.SetWidth(width)
		m.viewport.Width = width
		m.viewport.Height = max(msg.Height-10, 5)
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		if m.mode == ModeHelp {
			if msg.Type == tea.KeyEsc || msg.String() == "?" || msg.String() == "q" {
				m.mode = ModeChat
			}
			return m, nil
		}
		return m.handleKey(msg)

	case streamEventMsg:
		return m.handleStreamEvent(msg.event)

	case streamClosedMsg:
		if m.isStreaming {
			m.finishStream("✓ Done")
		}
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case "esc":
		if m.isStreaming && m.cancel != nil {
			m.cancel()
			m.status = "Cancelling..."
		}
		return m, nil

	case "enter":
		return m.send()

	case "ctrl+y":
		reply := trimTrailingWhitespace(m.conversation.LastReply())
		if reply == "" {
			m.status = "Nothing to copy yet"
			return m, nil
		}
		if err := m.copyText(reply); err != nil {
			m.error = fmt.Sprintf("failed to copy: %v", err)
			return m, nil
		}
		m.status = "✓ Copied last reply"
		return m, nil

	case "ctrl+l":
		if m.isStreaming {
			return m, nil
		}
		m.conversation.Reset()
		m.error = ""
		m.status = readyStatus
		m.refreshTranscript()
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "?":
		if m.input.Value() == "" {
			m.mode = ModeHelp
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send starts streaming a reply to the typed message.
func (m Model) send() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.isStreaming {
		return m, nil
	}

	m.input.Reset()
	m.error = ""
	m.conversation.AddUser(text)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = m.streamer.StreamChat(ctx, m.conversation.History())
	m.isStreaming = true
	m.status = "[●] Thinking..."
	m.refreshTranscript()
	return m, waitForEvent(m.events)
}

// waitForEvent turns the next stream event into a tea message.
func waitForEvent(events <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return streamEventMsg{event: ev}
	}
}

func (m Model) handleStreamEvent(ev client.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case client.EventDelta:
		m.conversation.AppendDelta(ev.Text)
		m.status = "[●] Streaming..."
		m.refreshTranscript()
		return m, waitForEvent(m.events)

	case client.EventError:
		m.error = describeError(ev.Err)
		m.finishStream("✗ Error")
		return m, nil
	}

	m.finishStream("✓ Done")
	return m, nil
}

func (m *Model) finishStream(status string) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.events = nil
	m.isStreaming = false
	m.status = status
	m.refreshTranscript()
}

// describeError adds the next step for errors the user can fix.
func describeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotAuthenticated):
		return "Not authenticated. Run: vault login <token>"
	case errors.As(err, &apiErr) && apiErr.NotConfigured():
		return apiErr.Message + " Or run: vault keys add <provider> <key>"
	}
	return err.Error()
}

func (m *Model) refreshTranscript() {
	m.viewport.SetContent(m.renderer.render(m.conversation.Messages, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if m.mode == ModeHelp {
		return m.renderHelp()
	}

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("6")).
		Padding(0, 1)

	statusStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Padding(0, 1)

	var b strings.Builder
	b.WriteString(headerStyle.Render("vault chat"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.error != "" {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Padding(0, 1)
		b.WriteString(errorStyle.Render("✗ " + m.error))
		b.WriteString("\n")
	}

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8"))
	b.WriteString(boxStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	return b.String()
}

func (m Model) renderHelp() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	rows := [][2]string{
		{"enter", "send message"},
		{"esc", "stop the reply being streamed"},
		{"ctrl+y", "copy the last reply"},
		{"ctrl+l", "clear the conversation"},
		{"pgup/pgdown", "scroll"},
		{"ctrl+c", "quit"},
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Keys"))
	b.WriteString("\n\n")
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %s  %s\n", keyStyle.Render(fmt.Sprintf("%-12s", r[0])), r[1]))
	}
	b.WriteString("\nPress ? or esc to return")
	return b.String()
}

// Run starts the chat TUI.
func Run(streamer Streamer) error {
	model := NewModel(streamer, WithGlamourStyle("auto"))

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("program error: %w", err)
	}

	return nil
}
