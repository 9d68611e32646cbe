package uiclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/victorarias/jelly-j/internal/protocol"
)

// Model is the bubbletea program: a scrolling transcript viewport plus a
// single-line input editor, driven by frames arriving on the Session's
// event channel (§4.9).
type Model struct {
	sess  *Session
	theme *Theme

	viewport viewport.Model
	input    textinput.Model
	ready    bool

	lines []string

	currentAlias    string
	availableModels map[string]string

	awaiting        bool
	activeRequest   string
	activeAssistant int // index into m.lines of the in-progress assistant line, -1 if none
}

// NewModel builds the initial transcript from the history snapshot
// replayed at handshake time.
func NewModel(sess *Session, registered *protocol.Registered, snapshot *protocol.HistorySnapshot) Model {
	ti := textinput.New()
	ti.Placeholder = "say something..."
	ti.Prompt = "> "
	ti.Focus()

	m := Model{
		sess:            sess,
		theme:           DefaultTheme,
		input:           ti,
		currentAlias:    registered.Model,
		activeAssistant: -1,
	}
	for _, e := range snapshot.Entries {
		m.lines = append(m.lines, m.theme.Muted.Render(fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Role, e.Text)))
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.sess))
}

// eventMsg wraps a decoded daemon frame (or connClosedMsg) for bubbletea.
type eventMsg struct{ frame interface{} }

func waitForEvent(sess *Session) tea.Cmd {
	return func() tea.Msg {
		frame, ok := <-sess.Events()
		if !ok {
			return connClosedMsg{}
		}
		if cc, ok := frame.(connClosedMsg); ok {
			return cc
		}
		return eventMsg{frame: frame}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 0
		footerHeight := 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.refreshContent()
		return m, nil

	case eventMsg:
		m.applyFrame(msg.frame)
		m.refreshContent()
		return m, waitForEvent(m.sess)

	case connClosedMsg:
		m.appendLine(m.theme.Error.Render("daemon connection closed"))
		m.refreshContent()
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.appendLine(m.theme.Muted.Render("(interrupted; press the pane hotkey to hide this client)"))
			m.refreshContent()
			return m, nil
		case tea.KeyEnter:
			return m.handleSubmit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
}

func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "initializing...\n"
	}
	return m.viewport.View() + "\n" + m.theme.Input.Render(m.input.View())
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")

	if text == "" {
		return m, nil
	}

	switch strings.ToLower(text) {
	case "exit", "quit", "bye", "q":
		m.appendLine(m.theme.Muted.Render("explicit exit is disabled; use the pane hotkey to hide this client"))
		m.refreshContent()
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.handleCommand(text)
	}

	if m.awaiting {
		m.appendLine(m.theme.Muted.Render("a request is already in flight; wait for chat_end before sending another"))
		m.refreshContent()
		return m, nil
	}

	requestID := uuid.NewString()
	m.appendLine(m.theme.Prompt.Render("you: ") + text)
	if err := m.sess.SendChat(requestID, text); err != nil {
		m.appendLine(m.theme.Error.Render("failed to send: " + err.Error()))
	} else {
		m.awaiting = true
		m.activeRequest = requestID
		m.activeAssistant = -1
	}
	m.refreshContent()
	return m, nil
}

func (m Model) handleCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/model":
		if len(fields) == 1 {
			var known []string
			for alias := range m.availableModels {
				known = append(known, alias)
			}
			m.appendLine(m.theme.Muted.Render(fmt.Sprintf("current model: %s (available: %s)", m.currentAlias, strings.Join(known, ", "))))
			m.refreshContent()
			return m, nil
		}
		alias := fields[1]
		if alias == m.currentAlias {
			m.appendLine(m.theme.Muted.Render(fmt.Sprintf("already using %s", alias)))
			m.refreshContent()
			return m, nil
		}
		if err := m.sess.SendSetModel(uuid.NewString(), alias); err != nil {
			m.appendLine(m.theme.Error.Render("failed to send set_model: " + err.Error()))
			m.refreshContent()
		}
		return m, nil

	case "/new":
		if m.awaiting {
			m.appendLine(m.theme.Muted.Render("cannot start a new session while a turn is in flight"))
			m.refreshContent()
			return m, nil
		}
		if err := m.sess.SendNewSession(uuid.NewString()); err != nil {
			m.appendLine(m.theme.Error.Render("failed to send new_session: " + err.Error()))
		} else {
			m.appendLine(m.theme.Muted.Render("started a new conversation"))
		}
		m.refreshContent()
		return m, nil

	default:
		m.appendLine(m.theme.Error.Render(fmt.Sprintf("unrecognized command %q", cmd)))
		m.refreshContent()
		return m, nil
	}
}

func (m *Model) applyFrame(frame interface{}) {
	switch f := frame.(type) {
	case *protocol.StatusNote:
		m.appendLine(m.theme.Muted.Render(f.Message))

	case *protocol.ChatStart:
		m.appendLine(m.theme.Muted.Render(fmt.Sprintf("(%s thinking, %d ahead)", f.Model, f.QueuedAhead)))
		m.appendLine(m.theme.Assistant.Render("assistant: "))
		m.activeAssistant = len(m.lines) - 1
		m.activeRequest = f.RequestID
		m.awaiting = true

	case *protocol.ChatDelta:
		if f.RequestID == m.activeRequest && m.activeAssistant >= 0 && m.activeAssistant < len(m.lines) {
			m.lines[m.activeAssistant] += f.Text
		} else {
			m.appendLine(m.theme.Assistant.Render(f.Text))
		}

	case *protocol.ToolUse:
		m.appendLine(m.theme.Tool.Render(fmt.Sprintf("[tool] %s", f.Name)))

	case *protocol.ResultError:
		m.appendLine(m.theme.Error.Render(fmt.Sprintf("error (%s): %s", f.Subtype, strings.Join(f.Errors, "; "))))

	case *protocol.ChatEnd:
		marker := "done"
		if !f.OK {
			marker = "failed"
		}
		m.appendLine(m.theme.EndMarker.Render(fmt.Sprintf("— %s (%s) —", marker, f.Model)))
		m.awaiting = false
		m.activeAssistant = -1

	case *protocol.ModelUpdated:
		m.currentAlias = f.Alias
		m.appendLine(m.theme.Muted.Render(fmt.Sprintf("model set to %s", f.Alias)))

	case *protocol.Config:
		m.availableModels = f.Models

	case *protocol.ErrorFrame:
		m.appendLine(m.theme.Error.Render("error: " + f.Message))

	case *protocol.Pong:
		// handshake/keepalive noise; nothing to render
	}
}

// Run starts the bubbletea program against an already-handshaken Session.
func Run(ctx context.Context, sess *Session, registered *protocol.Registered, snapshot *protocol.HistorySnapshot) error {
	m := NewModel(sess, registered, snapshot)
	_ = sess.SendGetConfig(uuid.NewString())

	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
