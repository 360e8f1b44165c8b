package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ngalluzzo/gooi-sub004/internal/compiler"
)

var (
	chatSpec     = filepath.Join("..", "compiler", "testdata", "chat")
	chatFixtures = filepath.Join("..", "semantic", "testdata", "chat.yaml")
	chatCatalog  = filepath.Join("..", "binding", "testdata", "catalog.yaml")
)

// execute runs the root command with args and returns stdout, stderr, and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// chatBundle compiles the chat spec into a bundle file under a temp dir.
func chatBundle(t *testing.T) string {
	t.Helper()
	res := compiler.CompileDir(chatSpec)
	require.True(t, res.OK, "diagnostics: %v", res.Diagnostics)

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, writeBundle(res.Bundle, path))
	return path
}
