package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios. These serve as
// end-to-end validation of the kernel and as reference scenarios.
func TestScenarios(t *testing.T) {
	paths, err := DiscoverScenarios([]string{filepath.Join("testdata", "scenarios")})
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	suite := RunSuite(context.Background(), paths)
	assert.Equal(t, len(paths), suite.Total)
	assert.Equal(t, len(paths), suite.Passed, "failures: %+v", suite.Failures)
	assert.Zero(t, suite.Failed)
	assert.Len(t, suite.Results, len(paths))
}

func TestDiscoverScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "_shared.yaml", "notes.txt", "nested/c.yaml", "golden/x.yaml"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("name: x\n"), 0o644))
	}

	paths, err := DiscoverScenarios([]string{dir, filepath.Join(dir, "b.yaml")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, paths)
}

func TestDiscoverScenarios_MissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := DiscoverScenarios([]string{missing})

	var notFound *ScenarioNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing, notFound.Path)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRunSuite_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("name: broken\n"), 0o644))

	failing := filepath.Join(dir, "failing.yaml")
	spec, err := filepath.Abs(chatSpec)
	require.NoError(t, err)
	fixtures, err := filepath.Abs(chatFixtures)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(failing, []byte(`
name: failing
description: expects the wrong author
spec: `+spec+`
fixtures: `+fixtures+`
principal: { subject: alice }
steps:
  - invoke: mutation:submit_message
    input: { channel: general, body: hi }
    expect:
      output: { author: bob }
`), 0o644))

	suite := RunSuite(context.Background(), []string{broken, failing, filepath.Join("testdata", "scenarios", "replay_window.yaml")})

	assert.Equal(t, 3, suite.Total)
	assert.Equal(t, 1, suite.Passed)
	assert.Equal(t, 2, suite.Failed)
	require.Len(t, suite.Failures, 2)

	assert.Equal(t, broken, suite.Failures[0].Path)
	assert.Contains(t, suite.Failures[0].Error, "failed to load scenario")

	assert.Equal(t, "failing", suite.Failures[1].Scenario)
	assert.Equal(t, "scenario expectations failed", suite.Failures[1].Error)
	require.Len(t, suite.Failures[1].Details, 1)
	assert.Contains(t, suite.Failures[1].Details[0], "output.author")
}
