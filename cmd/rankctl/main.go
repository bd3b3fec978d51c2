// Package main - административная утилита melon-rank.
//
// rankctl работает со снапшотом напрямую, без подключения к Discord:
// показывает прогресс участника и рейтинги, переносит снапшот между
// хранилищами и импортирует data.json старого бота.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/melon-hub/melon-rank/config"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

func main() {
	if err := newRootCmd(env.Options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	envOpts env.Options
	cfg     *config.Config
	log     *slog.Logger
	verbose bool
}

func newRootCmd(envOpts env.Options) *cobra.Command {
	a := &app{envOpts: envOpts}

	root := &cobra.Command{
		Use:   "rankctl",
		Short: "Inspect and maintain melon-rank progress snapshots",
		Long: `rankctl reads the storage settings from the same environment as the bot
(STORAGE_DRIVER, FILE_PATH, SQLITE_PATH, DATABASE_URL, REDIS_URL, ...).

Discord settings are not required; the member presence filter is not applied.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOffline(a.envOpts)
			if err != nil {
				return err
			}
			a.cfg = cfg

			opts := logger.DefaultOptions()
			opts.Output = cmd.ErrOrStderr()
			opts.Level = slog.LevelWarn
			if a.verbose {
				opts.Level = slog.LevelDebug
			}
			a.log = logger.New(opts)
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log store activity to stderr")

	root.AddCommand(
		newShowCmd(a),
		newTopCmd(a),
		newMigrateCmd(a),
		newImportLegacyCmd(a),
		newMigrationsCmd(a),
	)
	return root
}
