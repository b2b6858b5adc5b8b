package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/remote/people"
)

var (
	addEmail         string
	addSource        string
	addReadOnly      bool
	addWriteOnly     bool
	addPolicy        string
	addGroupMode     string
	addTargetGroup   string
	authManual       bool
	authForceConsent bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage sync accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add an account and authorize access to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := newAccount(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var token string
			if account.Source == sourcePeople {
				token, err = authorize(ctx)
				if err != nil {
					return err
				}
			}
			if err := a.repo.CreateAccount(ctx, account); err != nil {
				return err
			}
			if token != "" {
				if err := a.vault.SaveRefreshToken(ctx, account.ID, token); err != nil {
					_ = a.repo.DeleteAccount(ctx, account.ID)
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added account %s (%s)\n", account.Name, account.ID)
			return nil
		})
	},
}

// newAccount builds an account from the add flags.
func newAccount(name string) (*models.SyncAccount, error) {
	policy, err := models.ParseConflictPolicy(addPolicy)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid --policy", err)
	}
	groupMode, err := models.ParseGroupMode(addGroupMode)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid --group-mode", err)
	}
	switch addSource {
	case sourcePeople, sourceMemory:
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown source %q (valid: people, memory)", addSource)
	}
	account := &models.SyncAccount{
		Name:        name,
		Email:       addEmail,
		Source:      addSource,
		Mode:        models.Mode{ReadOnly: addReadOnly, WriteOnly: addWriteOnly, Policy: policy},
		GroupMode:   groupMode,
		TargetGroup: addTargetGroup,
	}
	if err := account.Mode.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid account mode", err)
	}
	return account, nil
}

func authorize(ctx context.Context) (string, error) {
	return people.Authorize(ctx, people.AuthorizeOptions{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		Manual:       authManual,
		ForceConsent: authForceConsent,
		Timeout:      5 * time.Minute,
		In:           os.Stdin,
		Out:          os.Stderr,
	})
}

var accountReauthCmd = &cobra.Command{
	Use:   "reauth ID",
	Short: "Authorize an account again after its credentials were rejected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := models.UUID(args[0])
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if _, err := a.repo.GetAccount(ctx, id); err != nil {
				return err
			}
			token, err := authorize(ctx)
			if err != nil {
				return err
			}
			if err := a.vault.SaveRefreshToken(ctx, id, token); err != nil {
				return err
			}
			if err := a.repo.SetNeedsReauth(ctx, id, false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s authorized\n", id)
			return nil
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			accounts, err := a.repo.ListAccounts(ctx)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts. Add one with \"contactsync account add\".")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), accountTable(accounts))
			return nil
		})
	},
}

func accountTable(accounts []models.SyncAccount) string {
	t := table.New().Headers("ID", "NAME", "SOURCE", "MODE", "GROUPS", "LAST SYNC", "STATE")
	for _, acc := range accounts {
		t.Row(string(acc.ID), acc.Name, acc.Source, modeLabel(acc.Mode), string(acc.GroupMode),
			lastSyncLabel(acc.LastSyncTime), stateLabel(acc))
	}
	return t.Render()
}

func modeLabel(m models.Mode) string {
	dir := "two-way"
	switch {
	case m.ReadOnly:
		dir = "read-only"
	case m.WriteOnly:
		dir = "write-only"
	}
	return dir + ", " + string(m.Policy)
}

func lastSyncLabel(t models.Timestamp) string {
	if t <= 0 {
		return "never"
	}
	return t.Time().Local().Format("2006-01-02 15:04")
}

func stateLabel(acc models.SyncAccount) string {
	switch {
	case acc.Disabled && acc.DisabledReason != "":
		return "disabled (" + acc.DisabledReason + ")"
	case acc.Disabled:
		return "disabled"
	case acc.NeedsReauth:
		return "needs reauth"
	default:
		return "enabled"
	}
}

func accountStateCmd(use, short string, disabled bool, reason string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.repo.SetAccountDisabled(ctx, models.UUID(args[0]), disabled, reason)
			})
		},
	}
}

var accountResetCmd = &cobra.Command{
	Use:   "reset ID",
	Short: "Forget the sync state of an account so the next run is a first sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return a.repo.ResetAccount(ctx, models.UUID(args[0]))
		})
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove an account with its local contacts and credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			id := models.UUID(args[0])
			if err := a.vault.DeleteRefreshToken(ctx, id); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return err
			}
			return a.repo.DeleteAccount(ctx, id)
		})
	},
}

func init() {
	f := accountAddCmd.Flags()
	f.StringVar(&addEmail, "email", "", "Email address of the remote account")
	f.StringVar(&addSource, "source", sourcePeople, "Remote source: people or memory")
	f.BoolVar(&addReadOnly, "read-only", false, "Never write to the remote account")
	f.BoolVar(&addWriteOnly, "write-only", false, "Never change local contacts")
	f.StringVar(&addPolicy, "policy", "prefer-remote", "Conflict policy: prefer-remote or prefer-local")
	f.StringVar(&addGroupMode, "group-mode", "single", "Group handling: single or mirror")
	f.StringVar(&addTargetGroup, "target-group", "", "Remote group new contacts join in single mode")

	for _, c := range []*cobra.Command{accountAddCmd, accountReauthCmd} {
		c.Flags().BoolVar(&authManual, "manual", false, "Paste the redirect URL instead of using a local callback")
		c.Flags().BoolVar(&authForceConsent, "force-consent", false, "Ask Google for a new refresh token")
	}

	accountCmd.AddCommand(
		accountAddCmd,
		accountReauthCmd,
		accountListCmd,
		accountStateCmd("enable", "Enable an account", false, ""),
		accountStateCmd("disable", "Disable an account", true, models.DisabledByUser),
		accountResetCmd,
		accountRemoveCmd,
	)
	rootCmd.AddCommand(accountCmd)
}
