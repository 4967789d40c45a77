package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gamma-omg/pdf-qa/rag"
)

// Asker is the chat-facing subset of the pipeline.
type Asker interface {
	Ask(ctx context.Context, question string, history *rag.History) (rag.Answer, error)
}

var quitWords = map[string]struct{}{"sair": {}, "exit": {}, "quit": {}}

type entry struct {
	question string
	answer   string
	sources  []string
	failed   bool
}

type answerMsg struct {
	answer rag.Answer
	err    error
}

// Model is the Bubble Tea model of one chat session. The history belongs to
// the session and is only touched by one question at a time.
type Model struct {
	ctx      context.Context
	asker    Asker
	history  *rag.History
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	entries  []entry
	summary  string
	status   string
	busy     bool
	ready    bool
}

// New builds the chat model. Questions are asked under ctx, so cancelling it
// aborts the one in flight.
func New(ctx context.Context, asker Asker, summary string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about your documents ('sair' to quit)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)

	return Model{
		ctx:      ctx,
		asker:    asker,
		history:  &rag.History{},
		timeout:  timeout,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready.",
	}
}

func (m Model) History() *rag.History { return m.history }

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		last := &m.entries[len(m.entries)-1]
		if msg.err != nil {
			last.answer = msg.err.Error()
			last.failed = true
			m.status = "Error, try again."
		} else {
			last.answer = msg.answer.Text
			last.sources = msg.answer.Sources
			if msg.answer.UsedContext {
				m.status = fmt.Sprintf("Answered from %d source(s).", len(msg.answer.Sources))
			} else {
				m.status = "No matching passages found."
			}
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if _, ok := quitWords[strings.ToLower(q)]; ok {
		return m, tea.Quit
	}
	if q == "" {
		m.status = "Please ask a question."
		return m, nil
	}
	if m.busy {
		return m, nil
	}

	m.busy = true
	m.status = "Thinking..."
	m.input.Reset()
	m.entries = append(m.entries, entry{question: q})
	m.refresh()

	return m, m.ask(q)
}

func (m Model) ask(q string) tea.Cmd {
	ctx, asker, history, timeout := m.ctx, m.asker, m.history, m.timeout
	return func() tea.Msg {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		ans, err := asker.Ask(ctx, q, history)
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("PDF Q&A")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return "No questions yet."
	}

	var sb strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(questionStyle.Render("Q: " + e.question))
		sb.WriteString("\n")

		switch {
		case e.answer == "" && !e.failed:
			sb.WriteString(sourceStyle.Render("..."))
		case e.failed:
			sb.WriteString(errorStyle.Render("Error: " + e.answer))
		default:
			sb.WriteString(e.answer)
			if len(e.sources) > 0 {
				sb.WriteString("\n")
				sb.WriteString(sourceStyle.Render("sources: " + strings.Join(e.sources, ", ")))
			}
		}
	}

	return sb.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
