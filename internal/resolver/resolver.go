// Package resolver finds the most recently built tag of an image and pins it
// to a digest.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmgilman/digestpin/internal/imageref"
	"github.com/jmgilman/digestpin/internal/registry"
	"github.com/jmgilman/digestpin/internal/slogger"
)

// Sentinel errors for resolution.
var (
	// ErrNoTags is returned when an image has no tags at all.
	ErrNoTags = errors.New("image has no tags")

	// ErrMetadata is returned when no tag of an image carries a creation
	// time, or the chosen tag has no digest.
	ErrMetadata = registry.ErrMetadata
)

// TagInfo is a tag together with the creation time of the image it points to.
type TagInfo struct {
	Tag       string    `json:"tag" yaml:"tag"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// ResolvedVersion is the outcome of resolving a bare image.
type ResolvedVersion struct {
	// BareImage is the image without tag or digest.
	BareImage string `json:"image" yaml:"image"`

	// Tag is the display tag: the published tag up to its first "-".
	Tag string `json:"tag" yaml:"tag"`

	// SourceTag is the tag as published in the registry.
	SourceTag string `json:"source_tag" yaml:"source_tag"`

	// Digest is the manifest digest of SourceTag.
	Digest string `json:"digest" yaml:"digest"`

	// CreatedAt is when SourceTag was built.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// String returns the canonical reference, bare:tag@digest.
func (v *ResolvedVersion) String() string {
	return imageref.Canonical(v.BareImage, v.Tag, v.Digest)
}

// Resolver resolves bare images to their latest pinned version.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/resolver.go . Resolver
type Resolver interface {
	Resolve(ctx context.Context, bare string) (*ResolvedVersion, error)
}

// TagResolver resolves images by querying a registry. It holds no state
// between calls; wrap it with NewCached to memoize.
type TagResolver struct {
	client registry.Client
}

// New creates a TagResolver backed by client.
func New(client registry.Client) *TagResolver {
	return &TagResolver{client: client}
}

// Resolve lists the tags of bare, picks the most recently created one and
// looks up its digest with a second inspect call.
func (r *TagResolver) Resolve(ctx context.Context, bare string) (*ResolvedVersion, error) {
	log := slogger.L(ctx).With("image", bare)

	tags, err := r.client.ListTags(ctx, bare)
	if err != nil {
		return nil, fmt.Errorf("list tags of %s: %w", bare, err)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTags, bare)
	}
	log.Debug("listed tags", "count", len(tags))

	latest, err := r.MostRecent(ctx, bare, tags)
	if err != nil {
		return nil, err
	}
	log.Info("most recent tag", "tag", latest.Tag, "created", latest.CreatedAt)

	ref := bare + imageref.TagSeparator + latest.Tag
	info, err := r.client.Inspect(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get digest of %s: %w", ref, err)
	}
	if info.Digest == "" {
		return nil, fmt.Errorf("%w: %s has no digest", ErrMetadata, ref)
	}

	return &ResolvedVersion{
		BareImage: bare,
		Tag:       DisplayTag(latest.Tag),
		SourceTag: latest.Tag,
		Digest:    info.Digest,
		CreatedAt: latest.CreatedAt,
	}, nil
}

// MostRecent inspects every tag and returns the one with the latest creation
// time. Ties go to the tag listed last. Tags that cannot be inspected are
// logged and skipped.
func (r *TagResolver) MostRecent(ctx context.Context, bare string, tags []string) (*TagInfo, error) {
	log := slogger.L(ctx).With("image", bare)

	var (
		best    *TagInfo
		lastErr error
	)
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := r.client.Inspect(ctx, bare+imageref.TagSeparator+tag)
		if err != nil {
			log.Warn("skipping tag", "tag", tag, "error", err)
			lastErr = err
			continue
		}
		log.Debug("inspected tag", "tag", tag, "created", info.Created)

		if best == nil || !info.Created.Before(best.CreatedAt) {
			best = &TagInfo{Tag: tag, CreatedAt: info.Created}
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: no tag of %s could be inspected: %w", ErrMetadata, bare, lastErr)
		}
		return nil, fmt.Errorf("%w: no tag of %s has a creation time", ErrMetadata, bare)
	}
	return best, nil
}

// DisplayTag returns tag up to its first "-" ("0.2-abc123" becomes "0.2").
func DisplayTag(tag string) string {
	display, _, _ := strings.Cut(tag, "-")
	return display
}
