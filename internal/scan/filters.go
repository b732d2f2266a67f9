package scan

import "strings"

// Filters selects which files are scanned and which images are checked.
// Every field is a plain substring; empty fields do not filter.
type Filters struct {
	// FileInclude keeps only file names containing it.
	FileInclude string `json:"file_include,omitempty" yaml:"file_include,omitempty"`

	// FileExclude drops file names containing it. Checked before FileInclude.
	FileExclude string `json:"file_exclude,omitempty" yaml:"file_exclude,omitempty"`

	// ImageInclude keeps only references containing it.
	ImageInclude string `json:"image_include,omitempty" yaml:"image_include,omitempty"`

	// ImageExclude drops references containing it. Checked before ImageInclude.
	ImageExclude string `json:"image_exclude,omitempty" yaml:"image_exclude,omitempty"`

	// LinePattern marks lines carrying references. Defaults to DefaultLinePattern.
	LinePattern string `json:"line_pattern,omitempty" yaml:"line_pattern,omitempty"`
}

// Pattern returns the effective line pattern.
func (f Filters) Pattern() string {
	if f.LinePattern == "" {
		return DefaultLinePattern
	}
	return f.LinePattern
}

// FileApplies reports whether a file with the given base name is scanned.
func (f Filters) FileApplies(name string) bool {
	return applies(name, f.FileInclude, f.FileExclude)
}

// ImageApplies reports whether an extracted reference is checked.
func (f Filters) ImageApplies(image string) bool {
	return applies(image, f.ImageInclude, f.ImageExclude)
}

func applies(s, include, exclude string) bool {
	if exclude != "" && strings.Contains(s, exclude) {
		return false
	}
	if include != "" && !strings.Contains(s, include) {
		return false
	}
	return true
}
