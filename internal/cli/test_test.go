package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioDir = filepath.Join("..", "harness", "testdata", "scenarios")

// writeFailingScenario writes a scenario whose expectation cannot hold.
func writeFailingScenario(t *testing.T, dir string) string {
	t.Helper()
	spec, err := filepath.Abs(chatSpec)
	require.NoError(t, err)
	fixtures, err := filepath.Abs(chatFixtures)
	require.NoError(t, err)

	src := fmt.Sprintf(`name: wrong_expectation
spec: %s
fixtures: %s
principal:
  subject: alice
steps:
  - invoke: query:list_messages
    input: { channel: general }
    expect:
      ok: false
`, spec, fixtures)
	path := filepath.Join(dir, "wrong_expectation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func decodeTestResult(t *testing.T, out string) (CLIResponse, TestResult) {
	t.Helper()
	var raw struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	return CLIResponse{Status: raw.Status, Error: raw.Error}, raw.Data
}

func TestTestCommandPassingScenarios(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ chat_refresh")
	assert.Contains(t, out, "✓ replay_window")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandGoldenStatus(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", scenarioDir)
	require.NoError(t, err)

	resp, result := decodeTestResult(t, out)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, result.Scenarios, 2)

	golden := map[string]string{}
	for _, sr := range result.Scenarios {
		assert.True(t, sr.Pass, "%s: %v", sr.Name, sr.Errors)
		golden[sr.Name] = sr.Golden
	}
	assert.Equal(t, "match", golden["chat_refresh"])
	assert.Equal(t, "missing", golden["replay_window"])
}

func TestTestCommandUpdateThenMatch(t *testing.T) {
	goldenDir := t.TempDir()

	out, _, err := execute(t, "test", scenarioDir, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ chat_refresh (golden updated)")
	assert.FileExists(t, filepath.Join(goldenDir, "chat_refresh.golden"))
	assert.FileExists(t, filepath.Join(goldenDir, "replay_window.golden"))

	out, _, err = execute(t, "--format", "json", "test", scenarioDir, "--golden-dir", goldenDir)
	require.NoError(t, err)
	_, result := decodeTestResult(t, out)
	for _, sr := range result.Scenarios {
		assert.Equal(t, "match", sr.Golden, sr.Name)
	}
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	goldenDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "replay_window.golden"), []byte("stale\n"), 0o644))

	out, _, err := execute(t, "test", scenarioDir, "--golden-dir", goldenDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ replay_window")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir, "--filter", "chat_*")
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "replay_window")

	out, _, err = execute(t, "test", scenarioDir, "--filter", "nothing_*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	out, _, err = execute(t, "test", scenarioDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "invalid filter pattern")
}

func TestTestCommandFailingScenario(t *testing.T) {
	path := writeFailingScenario(t, t.TempDir())

	t.Run("text", func(t *testing.T) {
		out, _, err := execute(t, "test", path)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "✗ wrong_expectation")
		assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "--format", "json", "test", path)
		require.Error(t, err)

		resp, result := decodeTestResult(t, out)
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Scenarios, 1)
		assert.NotEmpty(t, result.Scenarios[0].Errors)
	})
}

func TestTestCommandNonexistentPath(t *testing.T) {
	out, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestTestCommandNoArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
}
