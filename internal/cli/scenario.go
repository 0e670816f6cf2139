package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neftyr/raffle-deploy/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall scenario run result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenarios-dir>",
		Short: "Run provisioning scenarios against a simulated chain",
		Long: `Run YAML provisioning scenarios against an in-memory chain and store.

Each scenario seeds remote state, runs the provisioner one or more times
and checks the chain call trace, step outcomes and final state. When
<scenarios-dir>/golden/<name>.golden exists the run's snapshot must match
it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  raffle-deploy scenario ./scenarios
  raffle-deploy scenario ./scenarios --filter "durable_*"
  raffle-deploy scenario ./scenarios --update
  raffle-deploy scenario ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	w := cmd.OutOrStdout()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	suiteOpts := harness.SuiteOptions{
		GoldenDir: filepath.Join(dir, "golden"),
		Update:    opts.Update,
		Filter:    opts.Filter,
	}
	if opts.Verbose {
		suiteOpts.Options = append(suiteOpts.Options, harness.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	}

	suite, err := harness.RunDir(cmd.Context(), dir, suiteOpts)
	if errors.Is(err, harness.ErrNoScenarios) {
		if opts.Format == "json" {
			return formatter.Success(TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	result := toTestResult(suite)
	if opts.Format == "json" {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(cmd, result, opts.Update)
}

func toTestResult(suite *harness.SuiteResult) TestResult {
	failures := make(map[string]string, len(suite.Failures))
	for _, f := range suite.Failures {
		failures[f.ScenarioPath] = f.Error
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(suite.Scenarios)),
		Passed:    suite.Passed,
		Failed:    suite.Failed,
		Total:     suite.TotalScenarios,
	}
	for _, s := range suite.Scenarios {
		name := s.Name
		if name == "" {
			// Scenario failed to load.
			name = filepath.Base(s.Path)
		}
		sr := ScenarioResult{Name: name, Pass: s.Pass}
		if msg, ok := failures[s.Path]; ok {
			sr.Errors = strings.Split(msg, "; ")
		}
		result.Scenarios = append(result.Scenarios, sr)
	}
	return result
}

// outputTestJSON outputs the scenario result as JSON.
func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return formatter.Success(result)
	}

	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := formatter.Failure(ErrCodeScenario, msg, result); err != nil {
		return err
	}
	// Scenario failures = exit code 1
	return NewExitError(ExitFailure, msg)
}

// outputTestText outputs the scenario result as text.
func outputTestText(cmd *cobra.Command, result TestResult, updated bool) error {
	w := cmd.OutOrStdout()

	for _, s := range result.Scenarios {
		if !s.Pass {
			fmt.Fprintf(w, "✗ %s\n", s.Name)
			for _, e := range s.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
			continue
		}
		if updated {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", s.Name)
		} else {
			fmt.Fprintf(w, "✓ %s\n", s.Name)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Scenario failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
