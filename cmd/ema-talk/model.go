package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-talk/core"
	"github.com/koscakluka/ema-talk/core/llms"
	"github.com/muesli/reflow/wordwrap"
)

type conversation interface {
	SendMessage(content string) error
	ToggleMicrophone()
	ClearConversation()
	IsMicrophoneMuted() bool
}

type audioUnlocker interface {
	Initialize(ctx context.Context) error
	Restore(ctx context.Context) error
	Revalidate(ctx context.Context) error
	IsInitialized() bool
	IsSupported() bool
}

type (
	stateMsg      struct{ state orchestration.TurnState }
	partialMsg    struct{ segment string }
	chatMsg       struct{ message llms.ChatMessage }
	transcriptMsg struct {
		text  string
		final bool
	}
	errMsg       struct{ err error }
	clearedMsg   struct{}
	audioInitMsg struct{ err error }
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	partialStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const helpText = "space: mic • ctrl+a: enable audio • ctrl+l: clear • enter: send • ctrl+c: quit"

type model struct {
	ctx          context.Context
	conversation conversation
	speaker      audioUnlocker
	canListen    bool

	input    textinput.Model
	viewport viewport.Model
	ready    bool
	width    int

	messages   []llms.ChatMessage
	partial    string
	transcript string
	state      orchestration.TurnState
	lastErr    error
}

func newModel(ctx context.Context, conversation conversation, speaker audioUnlocker, canListen bool) model {
	input := textinput.New()
	input.Placeholder = "Type a message or press space to talk"
	input.CharLimit = 2000
	input.Focus()

	return model{
		ctx:          ctx,
		conversation: conversation,
		speaker:      speaker,
		canListen:    canListen,
		input:        input,
		viewport:     viewport.New(80, 20),
		width:        80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.restoreAudio())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 4
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-5, 1)
		m.ready = true

	case tea.FocusMsg:
		cmds = append(cmds, m.revalidateAudio())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.conversation.ClearConversation()
			return m, nil
		case tea.KeyCtrlA:
			return m, m.initializeAudio()
		case tea.KeyEnter:
			content := strings.TrimSpace(m.input.Value())
			if content == "" {
				return m, nil
			}
			if err := m.conversation.SendMessage(content); err != nil {
				m.lastErr = err
			} else {
				m.input.SetValue("")
				m.lastErr = nil
			}
			m.refresh()
			return m, nil
		case tea.KeySpace:
			// Space only toggles the microphone while nothing is typed.
			if m.input.Value() == "" {
				if m.canListen {
					m.conversation.ToggleMicrophone()
				}
				return m, nil
			}
		}

	case stateMsg:
		m.state = msg.state
		if msg.state == orchestration.TurnStateSending {
			m.transcript = ""
		}

	case partialMsg:
		m.partial += msg.segment
		m.refresh()

	case chatMsg:
		m.messages = append(m.messages, msg.message)
		if msg.message.Role == llms.RoleAssistant {
			m.partial = ""
		}
		m.refresh()

	case transcriptMsg:
		m.transcript = msg.text
		if msg.final {
			m.transcript = ""
		}

	case errMsg:
		m.lastErr = msg.err
		m.partial = ""
		m.refresh()

	case clearedMsg:
		m.messages = nil
		m.partial = ""
		m.transcript = ""
		m.lastErr = nil
		m.refresh()

	case audioInitMsg:
		m.lastErr = msg.err
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ema-talk"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(m.status()))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.transcript != "" {
		b.WriteString(partialStyle.Render("… " + m.transcript))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(errorStyle.Render(describeError(m.lastErr)))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(helpText))
	return b.String()
}

func (m model) status() string {
	mic := "mic on"
	switch {
	case !m.canListen:
		mic = "mic unavailable"
	case m.conversation.IsMicrophoneMuted():
		mic = "mic muted"
	}

	audio := "audio locked"
	switch {
	case !m.speaker.IsSupported():
		audio = "audio unavailable"
	case m.speaker.IsInitialized():
		audio = "audio on"
	}
	return fmt.Sprintf("%s • %s • %s", m.state, mic, audio)
}

func (m *model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m model) renderHistory() string {
	width := max(m.width-2, 10)
	var b strings.Builder
	for _, message := range m.messages {
		b.WriteString(renderMessage(message.Role, message.Content, width))
		b.WriteString("\n")
	}
	if m.partial != "" {
		b.WriteString(assistantStyle.Render("ema: "))
		b.WriteString(partialStyle.Render(wordwrap.String(m.partial, width)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderMessage(role llms.Role, content string, width int) string {
	label := userStyle.Render("you: ")
	if role == llms.RoleAssistant {
		label = assistantStyle.Render("ema: ")
	}
	return label + wordwrap.String(content, width)
}

func describeError(err error) string {
	if errors.Is(err, orchestration.ErrSendInFlight) {
		return "Still waiting for the previous reply."
	}
	return "Error: " + err.Error()
}

func (m model) initializeAudio() tea.Cmd {
	speaker, ctx := m.speaker, m.ctx
	return func() tea.Msg {
		err := speaker.Initialize(ctx)
		if err != nil {
			slog.Warn("failed to initialize audio", "error", err)
		}
		return audioInitMsg{err: err}
	}
}

func (m model) restoreAudio() tea.Cmd {
	speaker, ctx := m.speaker, m.ctx
	return func() tea.Msg {
		if err := speaker.Restore(ctx); err != nil {
			slog.Warn("failed to restore audio", "error", err)
		}
		return nil
	}
}

func (m model) revalidateAudio() tea.Cmd {
	speaker, ctx := m.speaker, m.ctx
	return func() tea.Msg {
		if err := speaker.Revalidate(ctx); err != nil {
			slog.Warn("failed to revalidate audio", "error", err)
		}
		return nil
	}
}
