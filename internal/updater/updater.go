// Package updater rewrites pinned image references in pipeline files.
package updater

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jmgilman/digestpin/internal/imageref"
)

// Sentinel errors for file updates.
var (
	// ErrUpdateFailed is returned when a file could not be rewritten.
	ErrUpdateFailed = errors.New("update failed")

	// ErrLockTimeout is returned when another process holds the file lock for too long.
	ErrLockTimeout = errors.New("failed to acquire file lock")
)

// versionDigestPattern matches the pinned part that follows the image name.
const versionDigestPattern = `:[0-9]{0,1}\.[0-9]{0,1}@sha256:[0-9,a-f]{6,}`

// Status is the outcome of an update.
type Status string

// Update outcomes.
const (
	StatusUpdated        Status = "updated"
	StatusNoChangeNeeded Status = "no_change_needed"
	StatusFailed         Status = "failed"
)

// Result describes what Apply did to a file.
type Result struct {
	Path      string   `json:"path" yaml:"path"`
	Canonical string   `json:"canonical" yaml:"canonical"`
	Status    Status   `json:"status" yaml:"status"`
	Old       []string `json:"old,omitempty" yaml:"old,omitempty"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`

	// Err is the failure for StatusFailed.
	Err error `json:"-" yaml:"-"`
}

// NeedsUpdate reports whether contents lacks the canonical reference.
func NeedsUpdate(contents, canonical string) bool {
	return !strings.Contains(contents, canonical)
}

// SearchBase returns the image name used to find outdated references of
// canonical. The digest is dropped; when the tag has a "-" everything from
// the last "-" is dropped as well; then the tag is dropped.
func SearchBase(canonical string) string {
	name, _, _ := strings.Cut(canonical, imageref.DigestSeparator)

	if _, tag := imageref.SplitTag(name); strings.Contains(tag, "-") {
		name = name[:strings.LastIndex(name, "-")]
	}
	base, _ := imageref.SplitTag(name)
	return base
}

// Pattern returns the expression matching any pinned single-digit
// "major.minor@sha256:..." reference of the image in canonical.
func Pattern(canonical string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(SearchBase(canonical)) + versionDigestPattern)
}

// Rewrite replaces every match of Pattern(canonical) in contents with
// canonical. It returns the new contents and the replaced strings.
func Rewrite(contents, canonical string) (string, []string) {
	re := Pattern(canonical)
	old := re.FindAllString(contents, -1)
	if len(old) == 0 {
		return contents, nil
	}
	return re.ReplaceAllLiteralString(contents, canonical), old
}
