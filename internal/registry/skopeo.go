package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmgilman/digestpin/internal/exec"
)

// skopeoBinary is the executable used by the skopeo backend.
const skopeoBinary = "skopeo"

// skopeoClient implements Client by shelling out to skopeo.
type skopeoClient struct {
	exec   exec.Executor
	config ClientConfig
}

// NewSkopeoClient creates a registry client that runs skopeo through e.
// Credentials come from skopeo's own auth files; cfg.Keychain is not used.
func NewSkopeoClient(e exec.Executor, cfg ClientConfig) Client {
	return &skopeoClient{exec: e, config: cfg}
}

// skopeoListTags is the JSON output of `skopeo list-tags`.
type skopeoListTags struct {
	Repository string    `json:"Repository"`
	Tags       *[]string `json:"Tags"`
}

// skopeoInspect is the subset of `skopeo inspect` output used here.
type skopeoInspect struct {
	Name    string     `json:"Name"`
	Digest  string     `json:"Digest"`
	Created *time.Time `json:"Created"`
}

func (c *skopeoClient) ListTags(ctx context.Context, image string) ([]string, error) {
	out, err := c.run(ctx, "list-tags", "docker://"+image)
	if err != nil {
		return nil, err
	}

	var parsed skopeoListTags
	if err := decode(out, &parsed); err != nil {
		return nil, queryError(ErrRegistry, fmt.Errorf("decode list-tags output for %s: %w", image, err))
	}
	if parsed.Tags == nil {
		return nil, queryError(ErrRegistry, fmt.Errorf("list-tags output for %s has no Tags field", image))
	}
	return *parsed.Tags, nil
}

func (c *skopeoClient) Inspect(ctx context.Context, ref string) (*ImageInfo, error) {
	// -n skips the tag listing that inspect performs by default.
	out, err := c.run(ctx, "inspect", "-n", "docker://"+ref)
	if err != nil {
		return nil, err
	}

	var parsed skopeoInspect
	if err := decode(out, &parsed); err != nil {
		return nil, queryError(ErrRegistry, fmt.Errorf("decode inspect output for %s: %w", ref, err))
	}

	info := &ImageInfo{Digest: parsed.Digest}
	if parsed.Created != nil {
		info.Created = *parsed.Created
	}
	if err := validateInfo(ref, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *skopeoClient) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.config.Insecure {
		args = append([]string{args[0], "--tls-verify=false"}, args[1:]...)
	}

	result, err := c.exec.Run(ctx, &exec.RunOptions{
		Name: skopeoBinary,
		Args: args,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, queryError(ErrTimeout, err)
		}
		return nil, queryError(ErrRegistry, err)
	}
	return result.Stdout, nil
}

// decode unmarshals skopeo output, rejecting empty output explicitly so it
// is not mistaken for a valid empty document.
func decode(out []byte, v any) error {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return errors.New("empty output")
	}
	return json.Unmarshal(out, v)
}
