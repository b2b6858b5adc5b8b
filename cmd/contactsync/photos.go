package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "Maintain the local photo cache",
}

var photosVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Rehash every cached photo and report corrupted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			corrupted, err := a.photos.Verify(ctx)
			if err != nil {
				return err
			}
			for _, h := range corrupted {
				fmt.Fprintf(cmd.OutOrStdout(), "corrupted: %s\n", h)
			}
			if len(corrupted) > 0 {
				return fmt.Errorf("%d corrupted photo(s)", len(corrupted))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All photos verified.")
			return nil
		})
	},
}

var photosPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached photos no contact refers to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			keep, err := referencedPhotos(ctx, a)
			if err != nil {
				return err
			}
			removed, err := a.photos.Prune(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d unreferenced photo(s)\n", removed)
			return nil
		})
	},
}

// referencedPhotos collects the photo hashes of every account's contacts.
func referencedPhotos(ctx context.Context, a *app) (map[string]bool, error) {
	accounts, err := a.repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool)
	for _, acc := range accounts {
		records, err := a.repo.ListAll(ctx, acc.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.Contact.PhotoHash != "" {
				keep[r.Contact.PhotoHash] = true
			}
			if r.SyncedPhotoHash != "" {
				keep[r.SyncedPhotoHash] = true
			}
		}
	}
	return keep, nil
}

func init() {
	photosCmd.AddCommand(photosVerifyCmd, photosPruneCmd)
	rootCmd.AddCommand(photosCmd)
}
