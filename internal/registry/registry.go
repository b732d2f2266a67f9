// Package registry queries container registries for image tags and metadata.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/opencontainers/go-digest"
)

// Sentinel errors for registry operations. Every query failure wraps
// ErrRegistry; the more specific errors are wrapped alongside it.
var (
	// ErrRegistry is returned when a tag-list or inspect query fails.
	ErrRegistry = errors.New("registry query failed")

	// ErrMetadata is returned when a query succeeds but required fields are missing.
	ErrMetadata = errors.New("missing image metadata")

	// ErrTimeout is returned when a query exceeds its deadline.
	ErrTimeout = errors.New("registry query timed out")

	// ErrImageNotFound is returned when the requested image does not exist.
	ErrImageNotFound = errors.New("image not found")

	// ErrUnauthorized is returned when authentication fails.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRef is returned when the image reference is malformed.
	ErrInvalidRef = errors.New("invalid image reference")
)

// Backend names accepted by New.
const (
	BackendRemote = "remote"
	BackendSkopeo = "skopeo"
)

// ImageInfo holds the fields of an inspected image that tag resolution needs.
type ImageInfo struct {
	// Created is when the image was built.
	Created time.Time

	// Digest is the manifest digest (e.g., "sha256:...").
	Digest string
}

// ClientConfig configures a registry client.
type ClientConfig struct {
	// Insecure allows HTTP (non-TLS) connections to registries.
	Insecure bool

	// Keychain resolves registry credentials. Defaults to authn.DefaultKeychain.
	Keychain authn.Keychain
}

// Client queries a container registry.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/client.go . Client
type Client interface {
	// ListTags returns every tag of a bare image (e.g., "quay.io/ns/repo").
	// An image without tags yields an empty slice and no error.
	ListTags(ctx context.Context, image string) ([]string, error)

	// Inspect fetches creation time and digest for an image reference,
	// by tag (e.g., "quay.io/ns/repo:0.1") or by digest.
	Inspect(ctx context.Context, ref string) (*ImageInfo, error)
}

// queryError wraps err as a registry failure of the given kind.
func queryError(kind, err error) error {
	if kind == nil || errors.Is(kind, ErrRegistry) {
		return fmt.Errorf("%w: %s", ErrRegistry, err)
	}
	return fmt.Errorf("%w: %w: %s", ErrRegistry, kind, err)
}

// validateInfo checks that both required fields are present and that the
// digest is well formed.
func validateInfo(ref string, info *ImageInfo) error {
	if info.Created.IsZero() {
		return fmt.Errorf("%w: %s has no creation time", ErrMetadata, ref)
	}
	if info.Digest == "" {
		return fmt.Errorf("%w: %s has no digest", ErrMetadata, ref)
	}
	if _, err := digest.Parse(info.Digest); err != nil {
		return fmt.Errorf("%w: %s has invalid digest %q: %s", ErrMetadata, ref, info.Digest, err)
	}
	return nil
}
