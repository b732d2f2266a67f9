// Package prompt provides user interaction primitives using charmbracelet/huh.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Sentinel errors for prompts.
var (
	// ErrCanceled is returned when the user cancels a prompt.
	ErrCanceled = errors.New("canceled by user")

	// ErrNotInteractive is returned when a prompt needs a terminal and stdin is not one.
	ErrNotInteractive = errors.New("not running in an interactive terminal")
)

// Prompter abstracts user interaction for testability.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/prompter.go . Prompter
type Prompter interface {
	// Confirm prompts for yes/no confirmation.
	Confirm(title, description string) (bool, error)

	// Input prompts for a line of visible text.
	Input(prompt string) (string, error)

	// Secret prompts for secret input (no echo).
	Secret(prompt string) (string, error)
}

// HuhPrompter implements Prompter using charmbracelet/huh for interactive forms.
type HuhPrompter struct {
	in io.Reader
}

// New creates a new HuhPrompter reading from stdin.
func New() *HuhPrompter {
	return &HuhPrompter{in: os.Stdin}
}

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Confirm prompts for yes/no confirmation.
func (p *HuhPrompter) Confirm(title, description string) (bool, error) {
	var confirmed bool

	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()

	if err != nil {
		return false, wrap("confirm prompt", err)
	}

	return confirmed, nil
}

// Input prompts for a line of text.
func (p *HuhPrompter) Input(prompt string) (string, error) {
	var value string

	err := huh.NewInput().
		Title(prompt).
		Value(&value).
		Run()

	if err != nil {
		return "", wrap("input prompt", err)
	}

	return strings.TrimSpace(value), nil
}

// Secret prompts for secret input with masked display. When stdin is not a
// terminal the secret is read from its first line instead, so it can be piped.
func (p *HuhPrompter) Secret(prompt string) (string, error) {
	if f, ok := p.in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return readLine(p.in)
	}

	var value string

	err := huh.NewInput().
		Title(prompt).
		EchoMode(huh.EchoModePassword).
		Value(&value).
		Run()

	if err != nil {
		return "", wrap("secret prompt", err)
	}

	return strings.TrimSpace(value), nil
}

// readLine reads one line from r.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("%w: no secret on stdin", ErrNotInteractive)
	}
	return value, nil
}

func wrap(what string, err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrCanceled
	}
	return fmt.Errorf("%s: %w", what, err)
}
