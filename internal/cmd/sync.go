package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pelotonsync/internal/logging"
	"pelotonsync/pkg/config"
	"pelotonsync/pkg/peloton"
)

var (
	syncLoopMinutes     int
	syncIntervalSeconds int
	syncVerbose         bool
	syncLogFile         string
	syncDryRun          bool
	syncFailOnPartial   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <board-config.yaml>",
	Short: "Sync a project board with its repositories",
	Long: `Run one full collect → transform → reconcile cycle against the board
described by the given configuration file.

With --update-loop-minutes M > 0 the cycle repeats until M minutes have
elapsed, pausing between cycles; cycles after the first only look at items
updated since the previous cycle started. This keeps the board fresh during
a live meeting. The in-flight cycle always finishes before the loop exits.

Sync is additive: items already on the board whose upstream issue or
discussion no longer matches the query are left untouched (see "prune").

Item-level mutation failures are logged with the item and field involved
and do not abort the run; the process still exits 0 for a partially failed
cycle unless --fail-on-partial is set.

Examples:
  pelotonsync sync peloton-board.yaml
  pelotonsync sync peloton-board.yaml --update-loop-minutes 90
  pelotonsync sync peloton-board.yaml --dry-run --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncLoopMinutes, "update-loop-minutes", 0,
		"Keep re-running the sync cycle until this many minutes have elapsed (0 = run once)")
	syncCmd.Flags().IntVar(&syncIntervalSeconds, "interval-seconds", 0,
		"Pause between loop cycles (default 60, or sync.interval_seconds from config)")
	syncCmd.Flags().BoolVarP(&syncVerbose, "verbose", "v", false,
		"Mirror debug output (including every planned mutation) to the console")
	syncCmd.Flags().StringVar(&syncLogFile, "log-file", "",
		"Append cycle logs to this file (default peloton-sync.log, or sync.log_file from config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false,
		"Compute and log the plan without mutating the board")
	syncCmd.Flags().BoolVar(&syncFailOnPartial, "fail-on-partial", false,
		"Exit non-zero when any item-level mutation failed")
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, args []string) error {
	boardCfg, err := peloton.LoadBoardConfig(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load pelotonsync config: %w", err)
	}

	logFile := syncLogFile
	if logFile == "" {
		logFile = cfg.LogFile()
	}
	logger, closeLog, err := logging.Setup(logFile, syncVerbose)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	ctx := context.Background()

	authManager := peloton.NewAuthManager()
	tokenInfo, err := authManager.AuthenticateFromConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authentication failed: %v\n\n", err)
		fmt.Fprintf(os.Stderr, "%s\n", peloton.GetAuthInstructions())
		return err
	}
	logger.WithField("user", tokenInfo.User).Info("authenticated")

	client := peloton.NewClient(authManager.Token(), boardCfg)
	engine := peloton.NewEngine(client, boardCfg, logger, syncDryRun)

	interval := time.Duration(syncIntervalSeconds) * time.Second
	if syncIntervalSeconds == 0 && cfg.Sync.IntervalSeconds > 0 {
		interval = time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	}
	scheduler := peloton.NewScheduler(interval, logger)

	err = scheduler.Run(ctx, time.Duration(syncLoopMinutes)*time.Minute, engine.RunCycle)
	if err != nil {
		if partial, ok := err.(*peloton.PartialSyncFailure); ok {
			logger.WithField("failed", partial.FailedOperations()).
				Warn("sync finished with partial failures")
			if syncFailOnPartial {
				return partial
			}
			return nil
		}
		logger.WithError(err).Error("sync aborted")
		return err
	}

	logger.Info("sync finished")
	return nil
}
