package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/contactsync/internal/backup"
	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore pre-delete backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list [ACCOUNT]",
	Short: "List backups, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var account models.UUID
		if len(args) == 1 {
			account = models.UUID(args[0])
		}
		return withBackups(cmd.Context(), func(ctx context.Context, a *app, m *backup.Manager) error {
			infos, err := m.List(ctx, account)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
				return nil
			}
			t := table.New().Headers("KEY", "ACCOUNT", "CREATED")
			for _, info := range infos {
				t.Row(info.Key, string(info.AccountID), info.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		})
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Show the contacts of a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackups(cmd.Context(), func(ctx context.Context, a *app, m *backup.Manager) error {
			snap, err := m.Restore(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account %s (%s), %d contact(s)\n", snap.AccountName, snap.AccountID, len(snap.Records))
			for _, r := range snap.Records {
				fmt.Fprintf(out, "  %s  %s\n", r.LocalID, r.DisplayName)
			}
			return nil
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore KEY",
	Short: "Put the contacts of a backup missing from the local store back",
	Long: `Restore the contacts of a backup that are no longer in the local store.

Restored contacts are unlinked from the remote account, so the next sync
uploads them as new contacts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackups(cmd.Context(), func(ctx context.Context, a *app, m *backup.Manager) error {
			snap, err := m.Restore(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.repo.GetAccount(ctx, snap.AccountID); err != nil {
				return err
			}
			n, err := restoreSnapshot(ctx, a, snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d contact(s) to %s\n", n, snap.AccountID)
			return nil
		})
	},
}

// restoreSnapshot upserts the snapshot records missing locally.
func restoreSnapshot(ctx context.Context, a *app, snap *backup.Snapshot) (int, error) {
	current, err := a.repo.ListAll(ctx, snap.AccountID)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(current))
	for _, r := range current {
		present[r.LocalID] = true
	}
	restored := 0
	for _, r := range snap.Records {
		if present[r.LocalID] {
			continue
		}
		r.ExternalID = ""
		r.RemotePhotoETag = ""
		r.SyncedPhotoHash = ""
		if _, err := a.repo.Upsert(ctx, snap.AccountID, r); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

func withBackups(ctx context.Context, fn func(ctx context.Context, a *app, m *backup.Manager) error) error {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		if a.backup == nil {
			return apperrors.New(apperrors.ErrConfig, "backups are disabled (backup.enabled is false)")
		}
		return fn(ctx, a, a.backup)
	})
}

func init() {
	backupCmd.AddCommand(backupListCmd, backupShowCmd, backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}
