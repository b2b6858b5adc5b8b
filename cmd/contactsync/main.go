// Command contactsync keeps a local contact store in sync with remote
// address books.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/contactsync/internal/config"
	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "contactsync",
	Short:         "Synchronize local contacts with remote address books",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := logging.ParseLevel(cfg.Log.Level)
		if verbose {
			level = logging.LevelDebug
		}
		if cfg.Log.File != "" {
			logging.InitFile(cfg.Log.File, level, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
		} else {
			logging.Init(os.Stderr, level)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

// withApp opens the stores for the duration of fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrConfig, apperrors.ErrInvalid:
		return 2
	case apperrors.ErrAuth:
		return 3
	case apperrors.ErrSyncInProgress:
		return 4
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
