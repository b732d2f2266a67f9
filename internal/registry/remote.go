package registry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// remoteClient implements Client by talking to the registry API directly
// using go-containerregistry.
type remoteClient struct {
	config ClientConfig
}

// NewRemoteClient creates a registry client backed by go-containerregistry.
func NewRemoteClient(cfg ClientConfig) Client {
	if cfg.Keychain == nil {
		cfg.Keychain = authn.DefaultKeychain
	}
	return &remoteClient{config: cfg}
}

// ListTags lists all tags of a repository.
func (c *remoteClient) ListTags(ctx context.Context, image string) ([]string, error) {
	repo, err := name.NewRepository(image, c.nameOptions()...)
	if err != nil {
		return nil, queryError(ErrInvalidRef, err)
	}

	tags, err := remote.List(repo, c.remoteOptions(ctx)...)
	if err != nil {
		return nil, c.mapError(err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// Inspect fetches the manifest digest and config creation time of ref.
func (c *remoteClient) Inspect(ctx context.Context, ref string) (*ImageInfo, error) {
	parsedRef, err := name.ParseReference(ref, c.nameOptions()...)
	if err != nil {
		return nil, queryError(ErrInvalidRef, err)
	}

	// The descriptor digest is the top-level manifest (or index) digest,
	// which is what a pinned reference must point at.
	desc, err := remote.Get(parsedRef, c.remoteOptions(ctx)...)
	if err != nil {
		return nil, c.mapError(err)
	}

	// For an index this selects the manifest for the configured platform.
	img, err := desc.Image()
	if err != nil {
		return nil, queryError(ErrRegistry, fmt.Errorf("resolve image %s: %w", ref, err))
	}

	configFile, err := img.ConfigFile()
	if err != nil {
		return nil, queryError(ErrRegistry, fmt.Errorf("get image config %s: %w", ref, err))
	}

	info := &ImageInfo{Digest: desc.Digest.String()}
	if !configFile.Created.IsZero() {
		info.Created = configFile.Created.Time
	}

	if err := validateInfo(ref, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *remoteClient) nameOptions() []name.Option {
	var opts []name.Option
	if c.config.Insecure {
		opts = append(opts, name.Insecure)
	}
	return opts
}

func (c *remoteClient) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithAuthFromKeychain(c.config.Keychain),
		remote.WithContext(ctx),
		// Use current platform to handle multi-arch images
		remote.WithPlatform(v1.Platform{
			Architecture: runtime.GOARCH,
			OS:           "linux",
		}),
	}

	// Allow insecure (HTTP and skip TLS verify) connections if configured
	if c.config.Insecure {
		// Clone http.DefaultTransport to preserve proxy, keep-alive, and timeout settings.
		var insecureTransport *http.Transport
		if defaultTransport, ok := http.DefaultTransport.(*http.Transport); ok {
			insecureTransport = defaultTransport.Clone()
		} else {
			insecureTransport = &http.Transport{}
		}
		insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // intentional for insecure mode
		opts = append(opts, remote.WithTransport(insecureTransport))
	}

	return opts
}

// mapError converts go-containerregistry errors to sentinel errors.
func (c *remoteClient) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return queryError(ErrTimeout, err)
	}

	// Check for transport errors (HTTP status codes)
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		for _, diagnostic := range transportErr.Errors {
			switch diagnostic.Code {
			case transport.UnauthorizedErrorCode, transport.DeniedErrorCode:
				return queryError(ErrUnauthorized, err)
			case transport.ManifestUnknownErrorCode, transport.NameUnknownErrorCode:
				return queryError(ErrImageNotFound, err)
			}
		}
		// Check HTTP status code as fallback
		switch transportErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return queryError(ErrUnauthorized, err)
		case http.StatusNotFound:
			return queryError(ErrImageNotFound, err)
		}
	}

	return queryError(ErrRegistry, err)
}
