package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/digestpin/internal/registry"
	regmocks "github.com/jmgilman/digestpin/internal/registry/mocks"
	"github.com/jmgilman/digestpin/internal/resolver"
	"github.com/jmgilman/digestpin/internal/resolver/mocks"
	"github.com/jmgilman/digestpin/internal/scan"
	"github.com/jmgilman/digestpin/internal/updater"
)

const (
	buildah   = "quay.io/konflux-ci/tekton-catalog/task-buildah"
	gitClone  = "quay.io/konflux-ci/tekton-catalog/task-git-clone"
	newDigest = "sha256:9be2a5c2c4e0b7d6b8f8c1f2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6"
)

const pushPipeline = `spec:
  tasks:
    - name: build
      taskRef:
        params:
          - name: bundle
            value: quay.io/konflux-ci/tekton-catalog/task-buildah:0.2@sha256:1111111111aaaa
`

// konfluxRegistry serves task-buildah with tags 0.2-abc and 0.3-def, the
// latter being newer, and no tags for task-git-clone.
func konfluxRegistry() *regmocks.ClientMock {
	created := map[string]time.Time{
		"0.2-abc": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"0.3-def": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	digests := map[string]string{
		"0.2-abc": "sha256:1111111111aaaa",
		"0.3-def": newDigest,
	}

	return &regmocks.ClientMock{
		ListTagsFunc: func(_ context.Context, image string) ([]string, error) {
			if image == buildah {
				return []string{"0.2-abc", "0.3-def"}, nil
			}
			return []string{}, nil
		},
		InspectFunc: func(_ context.Context, ref string) (*registry.ImageInfo, error) {
			tag := ref[strings.LastIndex(ref, ":")+1:]
			return &registry.ImageInfo{Created: created[tag], Digest: digests[tag]}, nil
		},
	}
}

func newChecker(fs afero.Fs, client registry.Client) *Checker {
	return New(fs, resolver.NewCached(resolver.New(client)), updater.New(fs))
}

func writeFiles(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(".tekton", 0o755))
	for name, contents := range files {
		require.NoError(t, afero.WriteFile(fs, ".tekton/"+name, []byte(contents), 0o644))
	}
	return fs
}

func TestChecker_Run_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fs := writeFiles(t, map[string]string{"push.yaml": pushPipeline})
	client := konfluxRegistry()
	c := newChecker(fs, client)

	var out bytes.Buffer
	report, err := c.Run(ctx, Options{
		Directory: ".tekton",
		Update:    true,
		Reporter:  NewTextReporter(&out),
	})

	require.NoError(t, err)
	want := buildah + ":0.3@" + newDigest
	require.Len(t, report.References, 1)
	assert.Equal(t, want, report.References[0].Canonical)
	assert.Equal(t, updater.StatusUpdated, report.References[0].Update.Status)
	assert.Equal(t, ExitOK, report.ExitCode())

	data, err := afero.ReadFile(fs, ".tekton/push.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), want)

	wantOut := "Latest tag with digest:->" + want + "<-\n" +
		"Updated file: .tekton/push.yaml with version: " + want +
		" (was " + buildah + ":0.2@sha256:1111111111aaaa)\n"
	if diff := cmp.Diff(wantOut, out.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	t.Run("rerun needs no change", func(t *testing.T) {
		var out bytes.Buffer
		report, err := newChecker(fs, client).Run(ctx, Options{
			Directory: ".tekton",
			Update:    true,
			Reporter:  NewTextReporter(&out),
		})

		require.NoError(t, err)
		assert.Equal(t, updater.StatusNoChangeNeeded, report.References[0].Update.Status)
		assert.Contains(t, out.String(), "File: .tekton/push.yaml does not need updating\n")
	})
}

func TestChecker_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("missing directory aborts", func(t *testing.T) {
		_, err := newChecker(afero.NewMemMapFs(), konfluxRegistry()).Run(ctx, Options{Directory: ".tekton"})

		assert.ErrorIs(t, err, scan.ErrDirectoryNotFound)
	})

	t.Run("zero tags is reported and the run continues", func(t *testing.T) {
		contents := "a: " + gitClone + ":0.1@sha256:2222222222bbbb\n" +
			"b: " + buildah + ":0.2@sha256:1111111111aaaa\n"
		fs := writeFiles(t, map[string]string{"push.yaml": contents})

		var out bytes.Buffer
		report, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{
			Directory: ".tekton",
			Update:    true,
			Reporter:  NewTextReporter(&out),
		})

		require.NoError(t, err)
		require.Len(t, report.References, 2)
		assert.ErrorIs(t, report.References[0].Err, resolver.ErrNoTags)
		assert.Equal(t, updater.StatusUpdated, report.References[1].Update.Status)
		assert.Equal(t, 1, report.Summary.ResolveFailed)
		assert.Equal(t, ExitRegistryFailure, report.ExitCode())
		assert.True(t, strings.HasPrefix(out.String(), "Failed to resolve "+gitClone+":0.1@sha256:2222222222bbbb: "))
	})

	t.Run("dry run reports outdated files without writing", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{"push.yaml": pushPipeline})

		var out bytes.Buffer
		report, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{
			Directory: ".tekton",
			Reporter:  NewTextReporter(&out),
		})

		require.NoError(t, err)
		assert.True(t, report.References[0].Outdated)
		assert.Nil(t, report.References[0].Update)
		assert.Equal(t, 1, report.Summary.Outdated)
		assert.Contains(t, out.String(), "File: .tekton/push.yaml is outdated\n")

		data, err := afero.ReadFile(fs, ".tekton/push.yaml")
		require.NoError(t, err)
		assert.Equal(t, pushPipeline, string(data))
	})

	t.Run("failed update sets exit code 3", func(t *testing.T) {
		contents := "value: " + buildah + ":latest\n"
		fs := writeFiles(t, map[string]string{"push.yaml": contents})

		var out bytes.Buffer
		report, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{
			Directory: ".tekton",
			Update:    true,
			Reporter:  NewTextReporter(&out),
		})

		require.NoError(t, err)
		assert.Equal(t, updater.StatusFailed, report.References[0].Update.Status)
		assert.Equal(t, ExitUpdateFailure, report.ExitCode())
		assert.Contains(t, out.String(), "Unexpected error updating file: .tekton/push.yaml with version: ")
	})

	t.Run("applies file and image filters", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{
			"push.yaml":  pushPipeline,
			"notes.txt":  pushPipeline,
			"other.yaml": "value: " + gitClone + ":0.1@sha256:2222222222bbbb\n",
		})

		report, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{
			Directory: ".tekton",
			Filters:   scan.Filters{FileInclude: ".yaml", ImageExclude: "git-clone"},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{".tekton/other.yaml", ".tekton/push.yaml"}, report.Files)
		require.Len(t, report.References, 1)
		assert.Equal(t, ".tekton/push.yaml", report.References[0].File)
		assert.Equal(t, 7, report.References[0].Line)
	})

	t.Run("custom line pattern", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{"a.yaml": "image: ghcr.io/acme/tool:1.0@sha256:abcdef0\n"})
		res := &mocks.ResolverMock{
			ResolveFunc: func(_ context.Context, bare string) (*resolver.ResolvedVersion, error) {
				return &resolver.ResolvedVersion{BareImage: bare, Tag: "1.1", Digest: newDigest}, nil
			},
		}

		report, err := New(fs, res, updater.New(fs)).Run(ctx, Options{
			Directory: ".tekton",
			Filters:   scan.Filters{LinePattern: "ghcr.io/acme/"},
		})

		require.NoError(t, err)
		require.Len(t, res.ResolveCalls(), 1)
		assert.Equal(t, "ghcr.io/acme/tool", res.ResolveCalls()[0].Bare)
		assert.Equal(t, "ghcr.io/acme/tool:1.1@"+newDigest, report.References[0].Canonical)
	})

	t.Run("one image referenced twice is resolved once", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{
			"a.yaml": pushPipeline,
			"b.yaml": pushPipeline,
		})
		client := konfluxRegistry()

		report, err := newChecker(fs, client).Run(ctx, Options{Directory: ".tekton"})

		require.NoError(t, err)
		assert.Len(t, report.References, 2)
		assert.Len(t, client.ListTagsCalls(), 1)
		require.NotNil(t, report.Cache)
		assert.Equal(t, int64(1), report.Cache.Hits)
	})

	t.Run("declined confirmation skips the rewrite", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{"push.yaml": pushPipeline})
		var asked []string

		report, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{
			Directory: ".tekton",
			Update:    true,
			Confirm: func(_ context.Context, path string, old []string, _ string) (bool, error) {
				asked = append(asked, path)
				assert.Equal(t, []string{buildah + ":0.2@sha256:1111111111aaaa"}, old)
				return false, nil
			},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{".tekton/push.yaml"}, asked)
		assert.True(t, report.References[0].Skipped)
		assert.Equal(t, 1, report.Summary.Skipped)

		data, err := afero.ReadFile(fs, ".tekton/push.yaml")
		require.NoError(t, err)
		assert.Equal(t, pushPipeline, string(data))
	})

	t.Run("confirmation error stops the run", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{"push.yaml": pushPipeline})
		boom := errors.New("canceled")

		_, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{
			Directory: ".tekton",
			Update:    true,
			Confirm: func(context.Context, string, []string, string) (bool, error) {
				return false, boom
			},
		})

		assert.ErrorIs(t, err, boom)
	})

	t.Run("unparseable reference is a resolution failure", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{"a.yaml": "value: " + scan.DefaultLinePattern + "Task:0.1\n"})

		report, err := newChecker(fs, konfluxRegistry()).Run(ctx, Options{Directory: ".tekton"})

		require.NoError(t, err)
		require.Len(t, report.References, 1)
		assert.Error(t, report.References[0].Err)
		assert.Equal(t, ExitRegistryFailure, report.ExitCode())
	})

	t.Run("cancelled context stops between references", func(t *testing.T) {
		fs := writeFiles(t, map[string]string{"push.yaml": pushPipeline})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newChecker(fs, konfluxRegistry()).Run(cancelled, Options{Directory: ".tekton"})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestChecker_Run_Concurrency(t *testing.T) {
	ctx := context.Background()

	var files = map[string]string{}
	var images []string
	for _, name := range []string{"a", "b", "c", "d"} {
		image := "quay.io/konflux-ci/tekton-catalog/task-" + name
		images = append(images, image)
		files[name+".yaml"] = "value: " + image + ":0.1@sha256:1111111111aaaa\n" +
			"again: " + image + ":0.1@sha256:1111111111aaaa\n"
	}
	fs := writeFiles(t, files)

	var calls atomic.Int32
	inner := &mocks.ResolverMock{
		ResolveFunc: func(_ context.Context, bare string) (*resolver.ResolvedVersion, error) {
			calls.Add(1)
			return &resolver.ResolvedVersion{BareImage: bare, Tag: "0.2", SourceTag: "0.2", Digest: newDigest}, nil
		},
	}
	var progress bytes.Buffer

	report, err := New(fs, resolver.NewCached(inner), updater.New(fs)).Run(ctx, Options{
		Directory:   ".tekton",
		Update:      true,
		Concurrency: 4,
		Progress:    &syncWriter{w: &progress},
	})

	require.NoError(t, err)
	assert.Equal(t, int32(len(images)), calls.Load())
	require.Len(t, report.References, 8)
	for i, ref := range report.References {
		assert.Equal(t, images[i/2], ref.BareImage)
	}
	assert.Equal(t, 4, report.Summary.Updated)
	assert.Equal(t, 4, report.Summary.NoChangeNeeded)
	assert.Contains(t, progress.String(), "resolving "+images[0])
}

func TestReport_ExitCode(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    int
	}{
		{name: "clean", summary: Summary{Resolved: 2, Updated: 1}, want: ExitOK},
		{name: "resolve failure", summary: Summary{ResolveFailed: 1}, want: ExitRegistryFailure},
		{name: "update failure", summary: Summary{UpdateFailed: 1}, want: ExitUpdateFailure},
		{name: "update failure wins", summary: Summary{ResolveFailed: 1, UpdateFailed: 1}, want: ExitUpdateFailure},
		{name: "unreadable file", summary: Summary{FileErrors: 1}, want: ExitUpdateFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Report{Summary: tt.summary}
			assert.Equal(t, tt.want, r.ExitCode())
		})
	}
}

func TestReporters(t *testing.T) {
	ctx := context.Background()
	fs := writeFiles(t, map[string]string{"push.yaml": pushPipeline})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		reporter, err := NewReporter(FormatJSON, &out)
		require.NoError(t, err)

		_, err = newChecker(fs, konfluxRegistry()).Run(ctx, Options{Directory: ".tekton", Reporter: reporter})
		require.NoError(t, err)

		var decoded Report
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, ".tekton", decoded.Directory)
		require.Len(t, decoded.References, 1)
		assert.Equal(t, buildah+":0.3@"+newDigest, decoded.References[0].Canonical)
		assert.Equal(t, 1, decoded.Summary.Outdated)
	})

	t.Run("yaml", func(t *testing.T) {
		var out bytes.Buffer
		reporter, err := NewReporter(FormatYAML, &out)
		require.NoError(t, err)

		_, err = newChecker(fs, konfluxRegistry()).Run(ctx, Options{Directory: ".tekton", Reporter: reporter})
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, ".tekton", decoded["directory"])
		assert.Contains(t, out.String(), "canonical: "+buildah+":0.3@"+newDigest)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := NewReporter("xml", &bytes.Buffer{})
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})
}
