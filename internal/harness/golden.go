package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/neftyr/raffle-deploy/internal/record"
)

// GoldenSuffix is the file extension of golden traces.
const GoldenSuffix = ".golden"

// Snapshot renders the scenario's observable behavior as canonical JSON: the
// chain calls with their block heights and each run's step actions and error.
// Hashes are left out so the snapshot only changes when behavior does.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	calls := make([]any, len(result.Trace))
	for i, call := range result.Trace {
		calls[i] = call
	}

	runs := make([]any, len(result.Runs))
	for i, run := range result.Runs {
		steps := make([]any, len(run.Result.Steps))
		for j, s := range run.Result.Steps {
			steps[j] = map[string]any{
				"step":   string(s.Step),
				"action": string(s.Action),
			}
		}
		entry := map[string]any{
			"run_id": run.Result.RunID,
			"steps":  steps,
		}
		if run.Err != nil {
			entry["error"] = run.Err.Error()
		}
		runs[i] = entry
	}

	data, err := record.MarshalCanonical(map[string]any{
		"scenario": scenarioName,
		"calls":    calls,
		"runs":     runs,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", scenarioName, err)
	}
	return data, nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's snapshot against its golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(GoldenSuffix),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// CheckGolden compares data against the golden file at path outside of
// tests. With update set it writes data instead.
func CheckGolden(path string, data []byte, update bool) error {
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		return os.WriteFile(path, data, 0o644)
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("snapshot differs from %s (rerun with --update to accept)", path)
	}
	return nil
}
