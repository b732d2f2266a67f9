package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/ratelimit"

	"github.com/jmgilman/digestpin/internal/exec"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown registry backend")

// Options configures the client built by New.
type Options struct {
	// Backend selects the implementation: BackendRemote (default) or BackendSkopeo.
	Backend string

	// Timeout bounds every registry call. Zero disables the bound.
	Timeout time.Duration

	// RateLimit caps registry calls per second. Zero disables throttling.
	RateLimit int

	// Executor runs skopeo for BackendSkopeo. Defaults to exec.New().
	Executor exec.Executor
}

// New builds a Client for the selected backend and wraps it with the
// configured rate limit and timeout.
func New(cfg ClientConfig, opts Options) (Client, error) {
	var c Client
	switch opts.Backend {
	case "", BackendRemote:
		c = NewRemoteClient(cfg)
	case BackendSkopeo:
		e := opts.Executor
		if e == nil {
			e = exec.New()
		}
		c = NewSkopeoClient(e, cfg)
	default:
		return nil, fmt.Errorf("%w: %s (valid: %s, %s)", ErrUnknownBackend, opts.Backend, BackendRemote, BackendSkopeo)
	}

	if opts.RateLimit > 0 {
		c = WithRateLimit(c, opts.RateLimit)
	}
	if opts.Timeout > 0 {
		c = WithTimeout(c, opts.Timeout)
	}
	return c, nil
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every call to next with timeout. A call that runs out
// of time fails with ErrTimeout.
func WithTimeout(next Client, timeout time.Duration) Client {
	return &timeoutClient{next: next, timeout: timeout}
}

func (c *timeoutClient) ListTags(ctx context.Context, image string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tags, err := c.next.ListTags(ctx, image)
	if err != nil {
		return nil, c.wrap(ctx, err)
	}
	return tags, nil
}

func (c *timeoutClient) Inspect(ctx context.Context, ref string) (*ImageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	info, err := c.next.Inspect(ctx, ref)
	if err != nil {
		return nil, c.wrap(ctx, err)
	}
	return info, nil
}

func (c *timeoutClient) wrap(ctx context.Context, err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return queryError(ErrTimeout, fmt.Errorf("after %s: %w", c.timeout, err))
	}
	return err
}

type rateLimitedClient struct {
	next    Client
	limiter ratelimit.Limiter
}

// WithRateLimit throttles calls to next to perSecond calls per second.
func WithRateLimit(next Client, perSecond int) Client {
	return &rateLimitedClient{
		next:    next,
		limiter: ratelimit.New(perSecond, ratelimit.WithoutSlack),
	}
}

func (c *rateLimitedClient) ListTags(ctx context.Context, image string) ([]string, error) {
	c.limiter.Take()
	return c.next.ListTags(ctx, image)
}

func (c *rateLimitedClient) Inspect(ctx context.Context, ref string) (*ImageInfo, error) {
	c.limiter.Take()
	return c.next.Inspect(ctx, ref)
}
