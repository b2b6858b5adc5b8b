package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/contactsync/internal/logging"
	"github.com/kimhsiao/contactsync/internal/models"
	syncpkg "github.com/kimhsiao/contactsync/internal/sync"
	"github.com/kimhsiao/contactsync/internal/sync/scheduler"
	"github.com/kimhsiao/contactsync/internal/ui"
)

var (
	syncAccounts   []string
	syncYes        bool
	syncAccessible bool
	daemonNoStart  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync over all enabled accounts",
	Long: `Run one sync cycle over every enabled account, or only the accounts
named with --account.

Deletions at or above sync.delete_threshold ask for confirmation. Declining
disables the account until it is re-enabled with "contactsync account enable".
Without a terminal, and without --yes, such deletions are declined.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app) error {
			orch := a.orchestrator(
				syncpkg.WithGate(syncGate()),
				syncpkg.WithNotifier(ui.NewAlertNotifier(cmd.OutOrStdout())),
			)
			opts := syncpkg.RunOptions{Manual: true}
			for _, id := range syncAccounts {
				opts.AccountIDs = append(opts.AccountIDs, models.UUID(id))
			}
			result, err := orch.RunAll(ctx, opts)
			if err != nil {
				return err
			}
			if result.Errors > 0 {
				return fmt.Errorf("sync finished with %d error(s)", result.Errors)
			}
			return nil
		})
	},
}

// syncGate picks the confirmation gate of a manual run.
func syncGate() syncpkg.Gate {
	if syncYes {
		return ui.StaticGate{Answer: true}
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !syncAccessible {
		return ui.StaticGate{Answer: false}
	}
	return ui.NewPromptGate(os.Stdin, os.Stderr, syncAccessible)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync on an interval until interrupted",
	Long: `Run sync cycles every sync.interval until SIGINT or SIGTERM.

SIGHUP requests an immediate run. Bulk deletions are always declined in the
daemon, so the affected account is disabled and reported in the log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app) error {
			orch := a.orchestrator(syncpkg.WithGate(ui.StaticGate{Answer: false}))
			sched := scheduler.NewScheduler(orch, &scheduler.SchedulerConfig{
				SyncInterval: cfg.Sync.Interval,
				RunTimeout:   cfg.Sync.Interval,
				RunOnStart:   !daemonNoStart,
			})
			sched.Start(ctx)
			defer sched.Stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			for {
				select {
				case <-ctx.Done():
					logging.Info("Shutting down", nil)
					return nil
				case <-hup:
					logging.Info("Sync requested by SIGHUP", nil)
					sched.Request()
				}
			}
		})
	},
}

func init() {
	syncCmd.Flags().StringSliceVarP(&syncAccounts, "account", "a", nil, "Account ID to sync (repeatable)")
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "Confirm bulk deletions without asking")
	syncCmd.Flags().BoolVar(&syncAccessible, "accessible", false, "Use plain prompts instead of the interactive form")
	daemonCmd.Flags().BoolVar(&daemonNoStart, "no-initial-run", false, "Wait one interval before the first run")
	rootCmd.AddCommand(syncCmd, daemonCmd)
}
