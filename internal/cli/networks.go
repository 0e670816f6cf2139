package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neftyr/raffle-deploy/internal/network"
)

// NetworkEntry is one configured network with its classification.
type NetworkEntry struct {
	Name           string `json:"name"`
	ChainID        uint64 `json:"chain_id"`
	Environment    string `json:"environment"`
	Confirmations  uint64 `json:"confirmations"`
	MocksAvailable bool   `json:"mocks_available"`
	SubscriptionID uint64 `json:"subscription_id,omitempty"`
	Coordinator    string `json:"coordinator"`
	FundingToken   string `json:"funding_token,omitempty"`
	Verification   bool   `json:"verification"`
}

// NetworkList is the networks command result.
type NetworkList struct {
	Networks []NetworkEntry `json:"networks"`
}

// WriteText implements TextRenderer.
func (l NetworkList) WriteText(w io.Writer) error {
	if len(l.Networks) == 0 {
		_, err := fmt.Fprintln(w, "No networks configured.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NETWORK\tCHAIN ID\tENVIRONMENT\tCONFIRMATIONS\tSUBSCRIPTION")
	for _, n := range l.Networks {
		sub := "-"
		if n.SubscriptionID != 0 {
			sub = fmt.Sprint(n.SubscriptionID)
		} else if n.Environment == network.Durable.String() {
			sub = "unset"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", n.Name, n.ChainID, n.Environment, n.Confirmations, sub)
	}
	return tw.Flush()
}

// NewNetworksCommand creates the networks command.
func NewNetworksCommand(rootOpts *RootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List configured networks and their classification",
		Long: `List every network in the config with the environment it classifies
as. Networks named in development_chains are ephemeral; all others are
durable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworks(rootOpts, configPath, cmd)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfig, "path to the CUE network config")

	return cmd
}

func runNetworks(opts *RootOptions, configPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := network.Load(configPath)
	if err != nil {
		return configError(formatter, err)
	}

	list := NetworkList{Networks: make([]NetworkEntry, 0, len(cfg.Networks))}
	for _, name := range cfg.Names() {
		n := cfg.Networks[name]
		p := cfg.Policy(name)
		entry := NetworkEntry{
			Name:           name,
			ChainID:        n.ChainID,
			Environment:    p.Environment.String(),
			Confirmations:  p.Confirmations,
			MocksAvailable: p.MocksAvailable,
			SubscriptionID: n.SubscriptionID,
			Coordinator:    n.Coordinator.Hex(),
			Verification:   !p.IsEphemeral() && n.VerifyAPIURL != "",
		}
		if !p.IsEphemeral() {
			entry.FundingToken = n.FundingToken.Hex()
		}
		list.Networks = append(list.Networks, entry)
	}
	return formatter.Success(list)
}
