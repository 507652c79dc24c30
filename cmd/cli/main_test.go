package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/offload"
	"github.com/vk/offload/internal/cli"
)

func TestRunNoArgsShowsUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Usage:")
}

func TestRunInvalidFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, []string{"--bogus"})
	require.Error(t, err)

	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestRunExecutesConfig(t *testing.T) {
	t.Cleanup(func() { offload.ClearRunnerMap() })

	path := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
program "neg" {
  args = [5]
  input "a" {}
  node "out" {
    op     = "num::neg"
    inputs = ["a"]
  }
  outputs = ["out"]
}
`), 0o644))

	var out bytes.Buffer
	err := run(&out, []string{"-c", path})
	require.NoError(t, err)
}
