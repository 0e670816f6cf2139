package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoScenarios means a directory held no scenario files matching the
// filter.
var ErrNoScenarios = errors.New("no scenarios found")

// SuiteOptions controls RunDir.
type SuiteOptions struct {
	// GoldenDir holds {name}.golden snapshots. Empty disables comparison.
	GoldenDir string

	// Update rewrites golden files instead of comparing them.
	Update bool

	// Filter is a glob matched against file names without extension.
	Filter string

	// Harness options applied to every scenario.
	Options []Option
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int             `json:"total_scenarios"`
	Passed         int             `json:"passed"`
	Failed         int             `json:"failed"`
	Failures       []SuiteFailure  `json:"failures,omitempty"`
	Scenarios      []ScenarioEntry `json:"scenarios"`
}

// ScenarioEntry is one scenario's pass/fail line.
type ScenarioEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Pass bool   `json:"pass"`
}

// SuiteFailure represents a failed scenario.
type SuiteFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// DiscoverScenarios returns the *.yaml and *.yml files in dir, sorted.
func DiscoverScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir loads and runs every scenario in dir and returns a summary.
//
// For each scenario file:
// 1. Load the scenario
// 2. Run it via harness.Run
// 3. Compare (or update) its golden snapshot when GoldenDir is set
// 4. Collect and report results
func RunDir(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	paths, err := DiscoverScenarios(dir)
	if err != nil {
		return nil, err
	}
	if opts.Filter != "" {
		paths, err = filterScenarios(paths, opts.Filter)
		if err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoScenarios, dir)
	}

	result := &SuiteResult{Scenarios: []ScenarioEntry{}}
	for _, path := range paths {
		result.TotalScenarios++
		name, err := runSuiteScenario(ctx, path, opts)
		entry := ScenarioEntry{Name: name, Path: path, Pass: err == nil}
		result.Scenarios = append(result.Scenarios, entry)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				ScenarioPath: path,
				Error:        err.Error(),
			})
			continue
		}
		result.Passed++
	}

	return result, nil
}

func runSuiteScenario(ctx context.Context, path string, opts SuiteOptions) (string, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return "", fmt.Errorf("failed to load scenario: %w", err)
	}

	runResult, err := Run(ctx, scenario, opts.Options...)
	if err != nil {
		return scenario.Name, fmt.Errorf("scenario execution failed: %w", err)
	}
	if !runResult.Pass {
		return scenario.Name, fmt.Errorf("scenario assertions failed: %s", strings.Join(runResult.Errors, "; "))
	}

	if opts.GoldenDir == "" {
		return scenario.Name, nil
	}
	data, err := Snapshot(scenario.Name, runResult)
	if err != nil {
		return scenario.Name, err
	}
	golden := filepath.Join(opts.GoldenDir, scenario.Name+GoldenSuffix)
	if _, err := os.Stat(golden); os.IsNotExist(err) && !opts.Update {
		// No golden file: assertion-based validation only.
		return scenario.Name, nil
	}
	if err := CheckGolden(golden, data, opts.Update); err != nil {
		return scenario.Name, err
	}
	return scenario.Name, nil
}

func filterScenarios(paths []string, pattern string) ([]string, error) {
	var out []string
	for _, path := range paths {
		base := filepath.Base(path)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, path)
		}
	}
	return out, nil
}
