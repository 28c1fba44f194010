package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"wraith/internal/service"
)

// IngestFunc runs one ingestion of path, reporting progress through progress.
type IngestFunc func(ctx context.Context, path string, progress func(service.IngestEvent)) (service.IngestReport, error)

type (
	eventMsg service.IngestEvent
	doneMsg  struct {
		report service.IngestReport
		err    error
	}
)

// IngestModel asks for a path when none was given, then shows a spinner and
// one line per finished file until the run completes.
type IngestModel struct {
	ctx    context.Context
	cancel context.CancelFunc
	run    IngestFunc
	events chan service.IngestEvent

	input   textinput.Model
	spinner spinner.Model

	prompting bool
	running   bool
	done      bool
	current   string
	index     int
	total     int
	lines     []string

	report service.IngestReport
	err    error
}

// NewIngest returns a model that starts immediately when path is non-empty.
func NewIngest(ctx context.Context, run IngestFunc, path string) IngestModel {
	ctx, cancel := context.WithCancel(ctx)
	ti := textinput.New()
	ti.Prompt = "Path to a file or directory: "
	ti.Placeholder = "~/Documents/papers"
	ti.CharLimit = 0
	ti.Focus()
	if path != "" {
		ti.SetValue(path)
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return IngestModel{
		ctx:       ctx,
		cancel:    cancel,
		run:       run,
		events:    make(chan service.IngestEvent, 64),
		input:     ti,
		spinner:   sp,
		prompting: path == "",
	}
}

// Report returns the outcome once the program has exited.
func (m IngestModel) Report() (service.IngestReport, error) { return m.report, m.err }

func (m IngestModel) Init() tea.Cmd {
	if m.prompting {
		return textinput.Blink
	}
	return m.startCmd(m.input.Value())
}

func (m IngestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			m.cancel()
			if !m.running {
				m.err = context.Canceled
				return m, tea.Quit
			}
			m.current = "cancelling..."
			return m, nil
		case tea.KeyEnter:
			if m.prompting {
				path := strings.TrimSpace(m.input.Value())
				if path == "" {
					return m, nil
				}
				m.prompting = false
				return m, m.startCmd(path)
			}
		}
		if m.prompting {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil

	case startedMsg:
		m.running = true
		m.current = "scanning " + string(msg)
		return m, tea.Batch(m.spinner.Tick, m.waitForEvent(), m.runCmd(string(msg)))

	case eventMsg:
		m.apply(service.IngestEvent(msg))
		return m, m.waitForEvent()

	case doneMsg:
		// events still buffered when the run returned
		for drained := false; !drained; {
			select {
			case ev := <-m.events:
				m.apply(ev)
			default:
				drained = true
			}
		}
		m.running = false
		m.done = true
		m.report, m.err = msg.report, msg.err
		m.cancel()
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	if m.prompting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

type startedMsg string

func (m IngestModel) startCmd(path string) tea.Cmd {
	return func() tea.Msg { return startedMsg(path) }
}

func (m IngestModel) runCmd(path string) tea.Cmd {
	ctx, run, events := m.ctx, m.run, m.events
	return func() tea.Msg {
		report, err := run(ctx, path, func(ev service.IngestEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		return doneMsg{report: report, err: err}
	}
}

func (m IngestModel) waitForEvent() tea.Cmd {
	ctx, events := m.ctx, m.events
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *IngestModel) apply(ev service.IngestEvent) {
	name := filepath.Base(ev.Path)
	switch ev.Kind {
	case service.RunStarted:
		m.total = ev.Total
		m.current = fmt.Sprintf("found %d files", ev.Total)
	case service.FileStarted:
		m.index = ev.Index
		m.current = fmt.Sprintf("processing %s (%d/%d)", name, ev.Index, ev.Total)
	case service.FileIngested:
		line := statusStyle.Render("✓") + fmt.Sprintf(" %s: %d chunks", name, ev.Chunks)
		if ev.Summary != "" {
			line += "\n    " + mutedStyle.Render(ev.Summary)
		}
		m.lines = append(m.lines, line)
	case service.FileSkipped:
		line := warnStyle.Render("!") + fmt.Sprintf(" %s skipped (%s)", name, ev.Reason)
		if ev.Err != nil {
			line += ": " + mutedStyle.Render(ev.Err.Error())
		}
		m.lines = append(m.lines, line)
	case service.RunFinished:
		m.current = fmt.Sprintf("finished: %d ingested, %d skipped", ev.Successful, ev.Skipped)
	}
}

func (m IngestModel) View() string {
	if m.prompting {
		return headerStyle.Render("wraith ingest") + "\n\n" + m.input.View() + "\n\n" +
			mutedStyle.Render("enter to start, esc to quit") + "\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("wraith ingest"))
	b.WriteString("\n\n")
	for _, l := range m.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if m.running {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.current)
		b.WriteString("\n")
	}
	if m.done {
		b.WriteString("\n")
		b.WriteString(FormatReport(m.report, m.err))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatReport renders the final counts of an ingestion run.
func FormatReport(r service.IngestReport, err error) string {
	if err != nil && r.SuccessfulFiles == 0 && r.SkippedFiles == 0 {
		return errorStyle.Render("Ingestion failed: " + err.Error())
	}
	var b strings.Builder
	b.WriteString(statusStyle.Render(fmt.Sprintf("Successfully processed: %d files (%d chunks)", r.SuccessfulFiles, r.Chunks)))
	if r.SkippedFiles > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(fmt.Sprintf("Skipped: %d files", r.SkippedFiles)))
	}
	if err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(err.Error()))
	}
	return b.String()
}
