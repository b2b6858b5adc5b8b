package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/sync/reconcile"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show accounts and their recent sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return printStatus(ctx, cmd.OutOrStdout(), a, statusHistory)
		})
	},
}

func printStatus(ctx context.Context, out io.Writer, a *app, history int) error {
	accounts, err := a.repo.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts.")
		return nil
	}
	fmt.Fprintln(out, accountTable(accounts))

	for _, acc := range accounts {
		logs, err := a.repo.ListSyncLogs(ctx, acc.ID, history)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			continue
		}
		count, err := a.repo.CountContacts(ctx, acc.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s: %d contact(s)\n", acc.Name, count)
		fmt.Fprintln(out, historyTable(logs))
	}
	return nil
}

func historyTable(logs []models.SyncLog) string {
	t := table.New().Headers("STARTED", "OUTCOME", "ERRORS", "CHANGES")
	for _, l := range logs {
		t.Row(time.Unix(l.StartedAt, 0).Local().Format("2006-01-02 15:04"), l.Outcome,
			fmt.Sprint(l.Errors), summaryLabel(l))
	}
	return t.Render()
}

// summaryLabel renders the stored plan summary, or the message when the
// cycle stopped before planning.
func summaryLabel(l models.SyncLog) string {
	var s reconcile.Summary
	if l.Summary == "" || json.Unmarshal([]byte(l.Summary), &s) != nil {
		return l.Message
	}
	return s.String()
}

func init() {
	statusCmd.Flags().IntVarP(&statusHistory, "history", "n", 5, "Sync log entries per account")
	rootCmd.AddCommand(statusCmd)
}
