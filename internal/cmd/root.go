package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pelotonsync",
	Short: "Keep a GitHub ProjectV2 board in sync with its repositories",
	Long: `Pelotonsync keeps a Peloton-style GitHub project board in sync with the
issues, pull requests, and discussions of a configured set of repositories.
It collects every qualifying item over the GraphQL API, computes the board
field values each item should carry, and applies only the mutations needed
to bring the board into agreement.`,
	SilenceUsage: true,
}

// Execute runs the root command. Exit code 0 means full success;
// anything unrecoverable (bad credentials, total API unavailability)
// exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
