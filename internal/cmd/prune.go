package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pelotonsync/internal/logging"
	"pelotonsync/pkg/config"
	"pelotonsync/pkg/peloton"
)

var (
	pruneDryRun  bool
	pruneVerbose bool
	pruneLogFile string
)

var pruneCmd = &cobra.Command{
	Use:   "prune <board-config.yaml>",
	Short: "Remove board items that no longer match the search conditions",
	Long: `Delete project items whose source issue, pull request or discussion
no longer matches the board's search conditions, along with items that
carry no link back to a source at all.

Normal syncs never remove anything from the board. Prune is the explicit,
manually invoked cleanup for boards that have accumulated stale entries.

Examples:
  pelotonsync prune peloton-board.yaml --dry-run
  pelotonsync prune peloton-board.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be removed without deleting anything")
	pruneCmd.Flags().BoolVarP(&pruneVerbose, "verbose", "v", false, "enable verbose console output")
	pruneCmd.Flags().StringVar(&pruneLogFile, "log-file", "", "path to the append-only log file")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(_ *cobra.Command, args []string) error {
	boardCfg, err := peloton.LoadBoardConfig(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logPath := pruneLogFile
	if logPath == "" {
		logPath = cfg.LogFile()
	}
	log, closeLog, err := logging.Setup(logPath, pruneVerbose)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLog() //nolint:errcheck

	ctx := context.Background()

	authManager := peloton.NewAuthManager()
	tokenInfo, err := authManager.AuthenticateFromConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, peloton.GetAuthInstructions())
		return err
	}
	log.WithField("user", tokenInfo.User).Debug("authenticated with GitHub")

	client := peloton.NewClient(authManager.Token(), boardCfg)
	engine := peloton.NewEngine(client, boardCfg, log, pruneDryRun)
	return engine.Prune(ctx)
}
