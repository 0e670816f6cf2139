package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neftyr/raffle-deploy/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Network  string
	Database string
	Limit    int
}

// DeploymentEntry is one stored deployment record.
type DeploymentEntry struct {
	Contract    string   `json:"contract"`
	Address     string   `json:"address"`
	TxHash      string   `json:"tx_hash"`
	BlockNumber uint64   `json:"block_number"`
	ArgsHash    string   `json:"args_hash"`
	Args        []string `json:"args"`
}

// RunEntry is one journaled run.
type RunEntry struct {
	ID          string       `json:"id"`
	Environment string       `json:"environment"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Steps       []StepReport `json:"steps"`
}

// StatusReport is the status command result.
type StatusReport struct {
	Network     string            `json:"network"`
	Deployments []DeploymentEntry `json:"deployments"`
	Runs        []RunEntry        `json:"runs"`
}

// WriteText implements TextRenderer.
func (r StatusReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Network: %s\n\n", r.Network)
	if len(r.Deployments) == 0 {
		fmt.Fprintln(w, "No deployments recorded.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONTRACT\tADDRESS\tBLOCK\tARGS HASH")
		for _, d := range r.Deployments {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Contract, d.Address, d.BlockNumber, d.ArgsHash)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	if len(r.Runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	fmt.Fprintln(w, "Recent runs:")
	for _, run := range r.Runs {
		actions := make([]string, len(run.Steps))
		for i, s := range run.Steps {
			actions[i] = s.Step + "=" + s.Action
		}
		fmt.Fprintf(w, "  %s  %-9s %s\n", run.ID, run.Status, strings.Join(actions, " "))
		if run.Error != "" {
			fmt.Fprintf(w, "      %s\n", run.Error)
		}
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored deployments and recent runs for a network",
		Long: `Show the deployment records and run journal kept in the local store.

The store is only read; nothing is sent to a chain.

Example:
  raffle-deploy status --network sepolia --db ./deployments.db --limit 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Network, "network", "", "network name (required)")
	cmd.Flags().StringVar(&opts.Database, "db", defaultDatabase, "path to the SQLite deployment store")
	cmd.Flags().IntVar(&opts.Limit, "limit", 5, "number of recent runs to show (0 for all)")
	_ = cmd.MarkFlagRequired("network")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty database; a missing file is an error.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		_ = formatter.Error(ErrCodeStore, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	records, err := st.ListDeployments(ctx, opts.Network)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read deployments", err)
	}
	runs, err := st.ListRuns(ctx, opts.Network, opts.Limit)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read runs", err)
	}

	report := StatusReport{
		Network:     opts.Network,
		Deployments: make([]DeploymentEntry, 0, len(records)),
		Runs:        make([]RunEntry, 0, len(runs)),
	}
	for _, rec := range records {
		report.Deployments = append(report.Deployments, DeploymentEntry{
			Contract:    rec.ContractName,
			Address:     rec.Address.Hex(),
			TxHash:      rec.TxHash.Hex(),
			BlockNumber: rec.BlockNumber,
			ArgsHash:    rec.Args.Hash(),
			Args:        rec.Args.Strings(),
		})
	}
	for _, run := range runs {
		report.Runs = append(report.Runs, runEntry(run))
	}
	return formatter.Success(report)
}

func runEntry(run store.Run) RunEntry {
	entry := RunEntry{
		ID:          run.ID,
		Environment: run.Environment,
		Status:      run.Status,
		Error:       run.Error,
		Steps:       make([]StepReport, len(run.Steps)),
	}
	for i, s := range run.Steps {
		entry.Steps[i] = StepReport{Step: s.Step, Action: s.Action}
	}
	return entry
}
