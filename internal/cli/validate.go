package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neftyr/raffle-deploy/internal/network"
)

// ValidationIssue is one problem found in the config.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Ephemeral []string          `json:"ephemeral,omitempty"`
	Durable   []string          `json:"durable,omitempty"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate the network config without touching a chain",
		Long: `Validate a CUE network config against the schema.

Checks syntax, field types and ranges, and that every network has the
fields its environment needs: durable networks require a funding token.
Defaults to ./networks.cue.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfig
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	cfg, err := network.Load(path)
	if err != nil {
		var loadErr *network.LoadError
		if !errors.As(err, &loadErr) {
			return outputValidateError(formatter, network.ErrCodeGeneric, err.Error())
		}
		switch loadErr.Code {
		case network.ErrCodeNotFound, network.ErrCodeReadFailed:
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidationErrors(formatter, issuesFromLoadError(loadErr))
	}

	result := ValidationResult{Valid: true}
	for _, name := range cfg.Names() {
		if cfg.Policy(name).IsEphemeral() {
			result.Ephemeral = append(result.Ephemeral, name)
		} else {
			result.Durable = append(result.Durable, name)
		}
		formatter.VerboseLog("  %s: %s", name, cfg.Policy(name).Environment)
	}
	return outputValidateSuccess(formatter, result)
}

// issuesFromLoadError splits a LoadError into one issue per reported
// problem. Semantic errors are joined with newlines.
func issuesFromLoadError(loadErr *network.LoadError) []ValidationIssue {
	base := ValidationIssue{Code: loadErr.Code}
	if loadErr.Pos.IsValid() {
		base.File = loadErr.Pos.Filename()
		base.Line = loadErr.Pos.Line()
		base.Column = loadErr.Pos.Column()
	}
	if loadErr.Code != network.ErrCodeInvalid {
		base.Message = loadErr.Message
		return []ValidationIssue{base}
	}
	var issues []ValidationIssue
	for _, line := range strings.Split(loadErr.Message, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			issue := base
			issue.Message = line
			issues = append(issues, issue)
		}
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Config valid: %d ephemeral, %d durable network(s)\n",
		len(result.Ephemeral), len(result.Durable))
	return nil
}

// outputValidateError outputs an error that prevented validation.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Unreadable config = command error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs the problems found in the config.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		if err := formatter.Failure(issues[0].Code, issues[0].Message, ValidationResult{
			Valid:  false,
			Errors: issues,
		}); err != nil {
			return err
		}
		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", issue.File, issue.Line, issue.Column)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
