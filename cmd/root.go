package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/maildir-archiver/config"
)

var rootCmd = &cobra.Command{
	Use:   "maildir-archiver",
	Short: "Archive or remove old messages from a maildir",
	Long: `Archive or remove old messages from a maildir.

Old read messages are either appended to an mbox file (gzip or zstd
compressed when the name ends in .gz or .zst), appended to an IMAP folder,
or removed. Flagged messages are never touched. Without --confirm the
command only reports what it would do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg.LogLevel, cfg.LogDir)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting maildir-archiver",
			"dir", cfg.MaildirPath,
			"mode", cfg.Mode(),
			"age", cfg.AgeDays,
			"new", cfg.IncludeNew,
			"dryRun", cfg.DryRun())

		if cfg.Schedule != "" {
			return runScheduled(cmd.Context(), cfg, logger)
		}
		return runOnce(cmd.Context(), cfg, logger)
	},
}

func init() {
	config.RegisterFlags(rootCmd)
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}
