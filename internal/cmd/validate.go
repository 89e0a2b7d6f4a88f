package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pelotonsync/pkg/peloton"
)

var validateCmd = &cobra.Command{
	Use:   "validate <board-config.yaml>",
	Short: "Validate a board configuration file",
	Long: `Check a board configuration file for structural problems without
contacting GitHub: the project ID shape, repository name forms, the page
size bounds, team settings, and the discussion label pattern.

Examples:
  pelotonsync validate peloton-board.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, args []string) error {
	cfg, err := peloton.LoadBoardConfig(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s is valid\n", args[0])
	fmt.Printf("  Project:      %s\n", cfg.ProjectID)
	fmt.Printf("  Repositories: %d\n", len(cfg.Repositories))
	fmt.Printf("  Team:         %s/%s\n", cfg.Team.Organization, cfg.Team.Slug)
	fmt.Printf("  Page size:    %d\n", cfg.PageSize)
	return nil
}
