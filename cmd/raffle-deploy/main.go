// Command raffle-deploy provisions a Raffle contract and its VRF
// subscription on an EVM network.
package main

import (
	"fmt"
	"os"

	"github.com/neftyr/raffle-deploy/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "raffle-deploy: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
