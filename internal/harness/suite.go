package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a named scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// DiscoverScenarios expands paths into scenario files. A file is taken as
// is; a directory contributes every .yaml or .yml file beneath it whose
// name does not start with an underscore. Results are sorted and unique.
func DiscoverScenarios(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: root}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}

		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != root && d.Name() == "golden" {
					return filepath.SkipDir
				}
				return nil
			}
			if isScenarioFile(d.Name()) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	slices.Sort(out)
	return out, nil
}

func isScenarioFile(name string) bool {
	if strings.HasPrefix(name, "_") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// SuiteResult summarizes a batch of scenario runs.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`

	// Results holds every completed run by scenario path.
	Results map[string]*Result `json:"-"`
}

// ScenarioFailure is one scenario that failed to load, run, or pass.
type ScenarioFailure struct {
	Path     string   `json:"path"`
	Scenario string   `json:"scenario,omitempty"`
	Error    string   `json:"error"`
	Details  []string `json:"details,omitempty"`
}

// RunSuite loads and runs every scenario file in order. A scenario that
// fails to load or run counts as failed; the suite keeps going.
//
// For each path:
// 1. Load the scenario (strict YAML, relative paths resolved)
// 2. Run it via Run
// 3. Record pass or failure
func RunSuite(ctx context.Context, paths []string, opts ...Option) *SuiteResult {
	result := &SuiteResult{Results: make(map[string]*Result)}

	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Path:  path,
				Error: fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		runResult, err := Run(ctx, scenario, opts...)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Path:     path,
				Scenario: scenario.Name,
				Error:    fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}
		result.Results[path] = runResult

		if !runResult.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Path:     path,
				Scenario: scenario.Name,
				Error:    "scenario expectations failed",
				Details:  runResult.Errors,
			})
			continue
		}

		result.Passed++
	}

	return result
}
