package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"wraith/internal/domain"
	"wraith/internal/service"
)

// ExitCommand ends the interactive query loop (case-insensitive).
const ExitCommand = "exit"

// QueryPort is the TUI-facing subset of the query service.
type QueryPort interface {
	Run(ctx context.Context, question string) (service.QueryResult, error)
}

type answerMsg struct {
	question string
	result   service.QueryResult
	err      error
}

// QueryModel prompts for questions until "exit" and shows each answer with
// its sources. Up/down page between the answer and the retrieved chunks.
type QueryModel struct {
	ctx      context.Context
	service  QueryPort
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	result   *service.QueryResult
	question string
	cursor   int // 0 shows the answer, i > 0 shows result i
	status   string
	failed   bool
	busy     bool
	ready    bool
}

func NewQuery(ctx context.Context, svc QueryPort) QueryModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = `Ask a question, or type "exit"`
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return QueryModel{
		ctx:      ctx,
		service:  svc,
		input:    ti,
		viewport: viewport.New(80, 10),
		spinner:  sp,
		status:   "Ready. Ask a question.",
	}
}

func (m QueryModel) Init() tea.Cmd { return textinput.Blink }

func (m QueryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.render())
		return m, nil

	case answerMsg:
		m.busy = false
		m.question = msg.question
		if msg.err != nil {
			m.failed = true
			m.status = "Error: " + describeError(msg.err)
		} else {
			m.failed = false
			res := msg.result
			m.result = &res
			m.cursor = 0
			m.status = fmt.Sprintf("Answered %q from %d chunks", msg.question, len(res.Results))
		}
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyUp, tea.KeyDown:
			if m.result != nil && len(m.result.Results) > 0 {
				n := len(m.result.Results) + 1
				if msg.Type == tea.KeyDown {
					m.cursor = (m.cursor + 1) % n
				} else {
					m.cursor = (m.cursor - 1 + n) % n
				}
				m.viewport.SetContent(m.render())
				m.viewport.GotoTop()
				return m, nil
			}
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m QueryModel) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if strings.EqualFold(q, ExitCommand) {
		return m, tea.Quit
	}
	if q == "" {
		m.failed = true
		m.status = `Please enter a question, or type "exit" to quit.`
		return m, nil
	}
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.failed = false
	m.status = fmt.Sprintf("Thinking about %q", q)
	m.input.Reset()
	return m, tea.Batch(m.spinner.Tick, m.ask(q))
}

func (m QueryModel) ask(q string) tea.Cmd {
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		res, err := svc.Run(ctx, q)
		return answerMsg{question: q, result: res, err: err}
	}
}

func (m QueryModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	status := statusStyle.Render(m.status)
	if m.failed {
		status = errorStyle.Render(m.status)
	}
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return headerStyle.Render("wraith") + "\n" +
		resultBoxStyle.Render(m.viewport.View()) + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		status
}

func (m QueryModel) render() string {
	if m.result == nil {
		return mutedStyle.Render("No answer yet.")
	}
	if m.cursor == 0 {
		var b strings.Builder
		b.WriteString(headerStyle.Render("Answer"))
		b.WriteString("\n\n")
		b.WriteString(m.result.Answer)
		b.WriteString("\n\n")
		b.WriteString(FormatSources(m.result.Sources))
		if len(m.result.Results) > 0 {
			b.WriteString("\n")
			b.WriteString(mutedStyle.Render("↑/↓ to browse the retrieved chunks"))
		}
		return b.String()
	}
	r := m.result.Results[m.cursor-1]
	title := fmt.Sprintf("Result %d/%d  similarity=%.3f  %s#%d",
		m.cursor, len(m.result.Results), r.Similarity, filepath.Base(r.Source), r.ChunkIndex)
	return headerStyle.Render(title) + "\n\n" + highlightBestSentence(r.Content, m.question)
}

// FormatSources renders a source list the way the query views print it.
func FormatSources(sources []string) string {
	if len(sources) == 0 {
		return "Sources: none"
	}
	var b strings.Builder
	b.WriteString("Sources:")
	for _, s := range sources {
		b.WriteString("\n  - ")
		b.WriteString(s)
	}
	return b.String()
}

func describeError(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return err.Error()
	case errors.Is(err, domain.ErrEmbedding):
		return "could not embed the question: " + err.Error()
	case errors.Is(err, domain.ErrGeneration):
		return "could not generate an answer: " + err.Error()
	case errors.Is(err, domain.ErrStorage):
		return "vector store unavailable: " + err.Error()
	}
	return err.Error()
}
