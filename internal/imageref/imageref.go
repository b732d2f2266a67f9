// Package imageref parses the image references embedded in pipeline files.
//
// References take the form repo[:tag][@digest]. Parsing is deliberately
// lenient about the tag and digest parts, which are carried through verbatim,
// while the repository part must be a valid docker repository name.
package imageref

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// Separators used in image reference strings.
const (
	TagSeparator    = ":"
	DigestSeparator = "@"
)

// Sentinel errors for reference parsing.
var (
	ErrEmpty          = errors.New("empty image reference")
	ErrInvalidRepo    = errors.New("invalid repository name")
	ErrMissingRepoTag = errors.New("reference has no repository")
)

// Reference is an image reference split into its components.
type Reference struct {
	// Registry is the registry host (and optional port), e.g. "quay.io".
	// Empty when the reference has no explicit registry.
	Registry string `json:"registry,omitempty" yaml:"registry,omitempty"`

	// Repository is the path below the registry, e.g. "konflux-ci/tekton-catalog/task-foo".
	Repository string `json:"repository" yaml:"repository"`

	// Tag is the tag, if any, e.g. "0.2".
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`

	// Digest is the digest, if any, e.g. "sha256:...".
	Digest string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// Parse splits s into a Reference. The digest is everything after the first
// "@"; the tag is everything after the last ":" that is not followed by a
// "/", so registry ports are not mistaken for tags.
func Parse(s string) (*Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}

	name, dgst, _ := strings.Cut(s, DigestSeparator)

	name, tag := SplitTag(name)
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingRepoTag, s)
	}

	if _, err := reference.ParseNormalizedNamed(name); err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidRepo, name, err)
	}

	ref := &Reference{Tag: tag, Digest: dgst}
	ref.Registry, ref.Repository = splitRegistry(name)
	return ref, nil
}

// Bare returns the reference without tag or digest.
func (r *Reference) Bare() string {
	if r.Registry == "" {
		return r.Repository
	}
	return r.Registry + "/" + r.Repository
}

// String formats the reference as bare[:tag][@digest].
func (r *Reference) String() string {
	var b strings.Builder
	b.WriteString(r.Bare())
	if r.Tag != "" {
		b.WriteString(TagSeparator)
		b.WriteString(r.Tag)
	}
	if r.Digest != "" {
		b.WriteString(DigestSeparator)
		b.WriteString(r.Digest)
	}
	return b.String()
}

// Canonical formats a fully pinned reference, bare:tag@digest.
func Canonical(bare, tag, digest string) string {
	return bare + TagSeparator + tag + DigestSeparator + digest
}

// SplitTag separates a trailing tag from name. The tag follows the last ":"
// that is not followed by a "/", so registry ports are not mistaken for tags.
func SplitTag(name string) (string, string) {
	i := strings.LastIndex(name, TagSeparator)
	if i < 0 || strings.Contains(name[i+1:], "/") {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// splitRegistry separates the registry host from the repository path. The
// first path component is a registry when it looks like a host name.
func splitRegistry(name string) (string, string) {
	first, rest, ok := strings.Cut(name, "/")
	if !ok {
		return "", name
	}
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first, rest
	}
	return "", name
}
