package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/file"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHOW
// ══════════════════════════════════════════════════════════════════════════════

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <member-id>",
		Short: "Print a member's chat and voice progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}

			dto, err := query.NewGetMemberProgressHandler(engine).Handle(cmd.Context(), query.GetMemberProgressQuery{
				MemberID:    args[0],
				IncludeRank: true,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !dto.Known {
				fmt.Fprintf(out, "%s has no record yet (defaults shown)\n", dto.MemberID)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tLEVEL\tXP\tREQUIRED\tTOTAL\tRANK")
			for _, kind := range progression.Kinds() {
				t := dto.Track(kind)
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", kind, t.Level, t.XP, t.Required, t.AccumulatedXP, rankLabel(t.Rank))
			}
			return w.Flush()
		},
	}
}

func rankLabel(rank int) string {
	if rank == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", rank)
}

// ══════════════════════════════════════════════════════════════════════════════
// TOP
// ══════════════════════════════════════════════════════════════════════════════

func newTopCmd(a *app) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print a leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := progression.ParseKind(kind)
			if err != nil {
				return err
			}
			engine, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}

			res, err := query.NewGetLeaderboardHandler(engine, nil).Handle(cmd.Context(), query.GetLeaderboardQuery{
				Kind:  k,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			return printBoard(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(progression.KindChat), "activity kind: chat or voice")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries (max 100)")
	return cmd
}

func printBoard(out io.Writer, res *query.GetLeaderboardResult) error {
	if len(res.Entries) == 0 {
		_, err := fmt.Fprintln(out, "no data")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tMEMBER\tLEVEL\tXP")
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d/%d\n", e.Rank, e.MemberID, e.Level, e.XP, e.Required)
	}
	return w.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the snapshot from one storage driver to another",
		Long: `Loads the full snapshot from --from and replaces the snapshot in --to.
Both drivers read their connection settings from the environment.
Records are normalized on the way, so a repaired copy is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from == to {
				return fmt.Errorf("--from and --to must differ")
			}
			ctx := cmd.Context()

			src, closeSrc, err := a.openDriver(ctx, from)
			if err != nil {
				return err
			}
			defer closeSrc()

			table, err := src.LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("load from %s: %w", from, err)
			}

			dst, closeDst, err := a.openDriver(ctx, to)
			if err != nil {
				return err
			}
			defer closeDst()

			return a.copyInto(cmd, dst, table, from)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source driver (file, sqlite, postgres, redis)")
	cmd.Flags().StringVar(&to, "to", "", "destination driver (file, sqlite, postgres, redis)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT LEGACY
// ══════════════════════════════════════════════════════════════════════════════

func newImportLegacyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy <data.json>",
		Short: "Import a data.json written by the previous bot into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			legacy, err := file.New(args[0], file.WithLogger(a.log))
			if err != nil {
				return err
			}
			table, err := legacy.LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			dst, closeDst, err := a.openDriver(ctx, a.cfg.Storage.Driver)
			if err != nil {
				return err
			}
			defer closeDst()

			return a.copyInto(cmd, dst, table, args[0])
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// POSTGRES MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

func newMigrationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "Inspect or roll back the PostgreSQL schema (DATABASE_URL)",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd.Context(), func(m *postgres.Migrator) error {
				migrations, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, mig := range migrations {
					applied := "pending"
					if mig.IsApplied {
						applied = mig.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%03d\t%s\t%s\n", mig.Version, mig.Name, applied)
				}
				return w.Flush()
			})
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recently applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd.Context(), func(m *postgres.Migrator) error {
				if err := m.Rollback(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back")
				return nil
			})
		},
	}

	cmd.AddCommand(status, rollback)
	return cmd
}

func (a *app) withMigrator(ctx context.Context, fn func(*postgres.Migrator) error) error {
	if a.cfg.Postgres.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	pgCfg := postgres.DefaultConfig(a.cfg.Postgres.URL)
	pgCfg.MaxConns = 1
	pgCfg.MinConns = 0

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(postgres.NewMigrator(conn))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// loadEngine restores the configured snapshot into a fresh engine. Unlike
// the bot, a failed load is an error here.
func (a *app) loadEngine(ctx context.Context) (*progression.Engine, error) {
	store, closeStore, err := a.openDriver(ctx, a.cfg.Storage.Driver)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	table, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", a.cfg.Storage.Driver, err)
	}
	engine := progression.NewEngine(a.cfg.Progression.Rules())
	engine.Restore(table)
	return engine, nil
}

func (a *app) openDriver(ctx context.Context, driver string) (persistence.NamedStore, func(), error) {
	cfg := *a.cfg
	cfg.Storage.Driver = driver
	return persistence.OpenRaw(ctx, &cfg, a.log)
}

// copyInto normalizes table and writes it to dst.
func (a *app) copyInto(cmd *cobra.Command, dst persistence.NamedStore, table progression.Table, source string) error {
	engine := progression.NewEngine(a.cfg.Progression.Rules())
	stats := engine.Restore(table)

	if err := dst.SaveAll(cmd.Context(), engine.Snapshot()); err != nil {
		return fmt.Errorf("save to %s: %w", dst.Name(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "copied %d records from %s to %s (repaired %d, dropped %d)\n",
		stats.Loaded, source, dst.Name(), stats.Repaired, stats.Dropped)
	return nil
}
