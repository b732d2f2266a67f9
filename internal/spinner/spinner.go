// Package spinner shows resolution progress on a terminal. Status lines
// written to the spinner replace each other in place next to a spinning
// indicator and a running count, so progress never ends up in redirected
// output.
package spinner

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Spinner draws a spinner with the latest status line. It is an io.Writer:
// every complete line written becomes the new status.
type Spinner struct {
	title  string
	output io.Writer

	mu      sync.Mutex
	partial []byte
	send    func(tea.Msg)
}

// Enabled reports whether progress should be drawn on f.
func Enabled(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// New creates a Spinner drawing to output (os.Stderr when nil). title is
// shown before the count and status line.
func New(output io.Writer, title string) *Spinner {
	if output == nil {
		output = os.Stderr
	}
	return &Spinner{title: title, output: output}
}

// Write implements io.Writer. Safe for concurrent use.
func (s *Spinner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
		if line != "" && s.send != nil {
			s.send(lineMsg(line))
		}
	}
	return len(p), nil
}

// Run shows the spinner while fn runs and clears it when fn returns.
// fn receives the spinner as its status writer.
func (s *Spinner) Run(fn func(status io.Writer) error) error {
	program := tea.NewProgram(newModel(s.title, terminalWidth(s.output)),
		tea.WithOutput(s.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	s.mu.Lock()
	s.send = program.Send
	s.mu.Unlock()

	drawn := make(chan struct{})
	go func() {
		defer close(drawn)
		// A spinner that cannot draw is not worth failing the run for.
		_, _ = program.Run()
	}()

	err := fn(s)

	s.mu.Lock()
	s.send = nil
	s.mu.Unlock()

	program.Send(doneMsg{})
	<-drawn
	return err
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

type model struct {
	spinner spinner.Model
	title   string
	status  string
	count   int
	width   int
	done    bool
}

// lineMsg carries one status line.
type lineMsg string

// doneMsg clears the spinner and quits.
type doneMsg struct{}

func newModel(title string, width int) model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return model{spinner: s, title: title, width: width}
}

// Init implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case lineMsg:
		m.status = string(msg)
		m.count++

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) View() string {
	if m.done {
		return ""
	}

	text := m.status
	if m.count > 0 {
		text = fmt.Sprintf("(%d) %s", m.count, text)
	}
	if m.title != "" {
		text = strings.TrimSpace(m.title + " " + text)
	}

	// Spinner glyph plus one space
	return m.spinner.View() + " " + truncate(text, max(m.width-3, 10))
}

// truncate shortens s to maxWidth, ending in "..." when cut.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return ""
	}
	if len(s) <= maxWidth {
		return s
	}
	return s[:maxWidth-3] + "..."
}
