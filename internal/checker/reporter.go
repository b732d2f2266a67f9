package checker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmgilman/digestpin/internal/updater"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned by NewReporter for an unsupported format.
var ErrUnknownFormat = errors.New("unknown output format")

// Reporter receives results as a run progresses.
type Reporter interface {
	// Reference is called once per reference, in file and line order.
	Reference(ref *ReferenceResult) error

	// Finish is called once with the complete report.
	Finish(report *Report) error
}

// NewReporter returns the reporter for format writing to w.
func NewReporter(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "", FormatText:
		return &TextReporter{w: w}, nil
	case FormatJSON:
		return &jsonReporter{w: w}, nil
	case FormatYAML:
		return &yamlReporter{w: w}, nil
	default:
		return nil, fmt.Errorf("%w: %s (valid: %s, %s, %s)", ErrUnknownFormat, format, FormatText, FormatJSON, FormatYAML)
	}
}

// TextReporter prints one status block per reference as it is processed.
type TextReporter struct {
	w io.Writer
}

// NewTextReporter creates a TextReporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Reference(ref *ReferenceResult) error {
	if ref.Err != nil {
		_, err := fmt.Fprintf(r.w, "Failed to resolve %s: %s\n", ref.Image, ref.Err)
		return err
	}

	if _, err := fmt.Fprintf(r.w, "Latest tag with digest:->%s<-\n", ref.Canonical); err != nil {
		return err
	}

	var err error
	switch {
	case ref.Skipped:
		_, err = fmt.Fprintf(r.w, "Skipped file: %s\n", ref.File)
	case ref.Update != nil:
		err = r.update(ref.Update)
	case ref.Outdated:
		_, err = fmt.Fprintf(r.w, "File: %s is outdated\n", ref.File)
	}
	return err
}

func (r *TextReporter) update(res *updater.Result) error {
	var err error
	switch res.Status {
	case updater.StatusUpdated:
		_, err = fmt.Fprintf(r.w, "Updated file: %s with version: %s (was %s)\n",
			res.Path, res.Canonical, strings.Join(res.Old, ", "))
	case updater.StatusNoChangeNeeded:
		_, err = fmt.Fprintf(r.w, "File: %s does not need updating\n", res.Path)
	case updater.StatusFailed:
		_, err = fmt.Fprintf(r.w, "Unexpected error updating file: %s with version: %s: %s\n",
			res.Path, res.Canonical, res.Err)
	}
	return err
}

func (r *TextReporter) Finish(report *Report) error {
	for _, fe := range report.FileErrors {
		if _, err := fmt.Fprintf(r.w, "Failed to read file: %s: %s\n", fe.File, fe.Error); err != nil {
			return err
		}
	}
	return nil
}

type jsonReporter struct {
	w io.Writer
}

func (r *jsonReporter) Reference(*ReferenceResult) error { return nil }

func (r *jsonReporter) Finish(report *Report) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

type yamlReporter struct {
	w io.Writer
}

func (r *yamlReporter) Reference(*ReferenceResult) error { return nil }

func (r *yamlReporter) Finish(report *Report) error {
	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
