package checker

import (
	"github.com/jmgilman/digestpin/internal/resolver"
	"github.com/jmgilman/digestpin/internal/updater"
)

// Exit codes reported by a run.
const (
	ExitOK                = 0
	ExitDirectoryNotFound = 1
	ExitRegistryFailure   = 2
	ExitUpdateFailure     = 3
)

// ReferenceResult is the outcome for one image reference found in a file.
type ReferenceResult struct {
	// File is the path of the file the reference was found in.
	File string `json:"file" yaml:"file"`

	// Line is the 1-based line number.
	Line int `json:"line" yaml:"line"`

	// Image is the reference as extracted from the line.
	Image string `json:"image" yaml:"image"`

	// BareImage is Image without tag or digest.
	BareImage string `json:"bare_image,omitempty" yaml:"bare_image,omitempty"`

	// Resolved is the latest version, nil when resolution failed.
	Resolved *resolver.ResolvedVersion `json:"resolved,omitempty" yaml:"resolved,omitempty"`

	// Canonical is Resolved in bare:tag@digest form.
	Canonical string `json:"canonical,omitempty" yaml:"canonical,omitempty"`

	// Outdated is set in dry-run mode when the file lacks Canonical.
	Outdated bool `json:"outdated,omitempty" yaml:"outdated,omitempty"`

	// Skipped is set when an update was declined at the confirmation prompt.
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`

	// Update is the file update outcome in update mode.
	Update *updater.Result `json:"update,omitempty" yaml:"update,omitempty"`

	// Error describes a resolution failure.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Err is the resolution failure.
	Err error `json:"-" yaml:"-"`
}

// FileError records a file that could not be read.
type FileError struct {
	File  string `json:"file" yaml:"file"`
	Error string `json:"error" yaml:"error"`
}

// Summary counts outcomes across a run.
type Summary struct {
	Files          int `json:"files" yaml:"files"`
	References     int `json:"references" yaml:"references"`
	Resolved       int `json:"resolved" yaml:"resolved"`
	ResolveFailed  int `json:"resolve_failed" yaml:"resolve_failed"`
	Outdated       int `json:"outdated" yaml:"outdated"`
	Updated        int `json:"updated" yaml:"updated"`
	NoChangeNeeded int `json:"no_change_needed" yaml:"no_change_needed"`
	UpdateFailed   int `json:"update_failed" yaml:"update_failed"`
	Skipped        int `json:"skipped" yaml:"skipped"`
	FileErrors     int `json:"file_errors" yaml:"file_errors"`
}

// Report collects everything a run did.
type Report struct {
	Directory  string             `json:"directory" yaml:"directory"`
	Update     bool               `json:"update" yaml:"update"`
	Files      []string           `json:"files" yaml:"files"`
	References []*ReferenceResult `json:"references" yaml:"references"`
	FileErrors []FileError        `json:"file_errors,omitempty" yaml:"file_errors,omitempty"`
	Cache      *resolver.Stats    `json:"cache,omitempty" yaml:"cache,omitempty"`
	Summary    Summary            `json:"summary" yaml:"summary"`
}

// ExitCode maps the run outcome to a process exit code. Update failures
// take precedence over resolution failures.
func (r *Report) ExitCode() int {
	switch {
	case r.Summary.UpdateFailed > 0 || r.Summary.FileErrors > 0:
		return ExitUpdateFailure
	case r.Summary.ResolveFailed > 0:
		return ExitRegistryFailure
	default:
		return ExitOK
	}
}

func (r *Report) add(ref *ReferenceResult) {
	r.References = append(r.References, ref)
	r.Summary.References++

	if ref.Err != nil {
		r.Summary.ResolveFailed++
		return
	}
	r.Summary.Resolved++

	switch {
	case ref.Skipped:
		r.Summary.Skipped++
	case ref.Update != nil:
		switch ref.Update.Status {
		case updater.StatusUpdated:
			r.Summary.Updated++
		case updater.StatusNoChangeNeeded:
			r.Summary.NoChangeNeeded++
		case updater.StatusFailed:
			r.Summary.UpdateFailed++
		}
	case ref.Outdated:
		r.Summary.Outdated++
	}
}
