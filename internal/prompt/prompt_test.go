package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Piped(t *testing.T) {
	t.Run("reads the first line", func(t *testing.T) {
		p := &HuhPrompter{in: strings.NewReader("s3cret\nignored\n")}

		secret, err := p.Secret("Password")

		require.NoError(t, err)
		assert.Equal(t, "s3cret", secret)
	})

	t.Run("accepts a missing trailing newline", func(t *testing.T) {
		p := &HuhPrompter{in: strings.NewReader("  token  ")}

		secret, err := p.Secret("Password")

		require.NoError(t, err)
		assert.Equal(t, "token", secret)
	})

	t.Run("empty input is an error", func(t *testing.T) {
		p := &HuhPrompter{in: strings.NewReader("")}

		_, err := p.Secret("Password")

		assert.ErrorIs(t, err, ErrNotInteractive)
	})
}

func TestWrap(t *testing.T) {
	assert.ErrorIs(t, wrap("confirm prompt", huh.ErrUserAborted), ErrCanceled)

	boom := errors.New("boom")
	err := wrap("confirm prompt", boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "confirm prompt: boom", err.Error())
}
