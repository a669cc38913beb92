package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rag_assistant/internal/chat"
)

// answeredMsg carries the assistant reply back into the update loop.
type answeredMsg struct {
	msg chat.Message
}

// Model is the Bubble Tea model for the terminal chat.
type Model struct {
	ctx      context.Context
	session  *chat.Session
	summary  string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	waiting  bool
	ready    bool
}

// New creates a chat model over session. summary is shown under the title.
func New(ctx context.Context, session *chat.Session, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Задайте вопрос и нажмите Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:      ctx,
		session:  session,
		summary:  summary,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
	}
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, session *chat.Session, summary string) error {
	p := tea.NewProgram(New(ctx, session, summary), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, qh := inputStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, input box
		vh := msg.Height - reserved - th
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = vh
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter && !m.waiting {
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		}
		if msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answeredMsg:
		m.waiting = false
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the question off the update loop.
func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		msg, _ := m.session.Submit(m.ctx, q)
		return answeredMsg{msg: msg}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.session.Messages(), m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Загрузка..."
	}
	header := titleStyle.Render("Ассистент по внутренним документам")
	summary := dimStyle.Render(m.summary)
	status := statusStyle.Render("Enter: отправить, PgUp/PgDn: прокрутка, Ctrl+C: выход")
	if m.waiting {
		status = m.spinner.View() + " Ищу ответ..."
	}
	return header + "\n" + summary + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" + status
}

func renderTranscript(msgs []chat.Message, width int) string {
	wrap := lipgloss.NewStyle().Width(max(10, width-2))
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.Role == chat.User {
			b.WriteString(userStyle.Render("Вы: "))
		} else {
			b.WriteString(assistantStyle.Render("Ассистент: "))
		}
		b.WriteString(wrap.Render(msg.Content))
	}
	return b.String()
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
