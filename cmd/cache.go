package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the persistent response and folder caches",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired response cache rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredResponses(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		zap.L().Info("pruned expired responses", zap.Int("deleted", n))
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired rows\n", n)
		return nil
	},
}

var cacheFolderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Show or set the cached folder of a deal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dealID, _ := cmd.Flags().GetString("deal")
		folderType, _ := cmd.Flags().GetString("type")
		set, _ := cmd.Flags().GetString("set")
		format, _ := cmd.Flags().GetString("format")
		if dealID == "" || folderType == "" {
			return eris.New("cache folder: --deal and --type are required")
		}
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if set != "" {
			if err := st.SetFolder(ctx, model.FolderEntry{DealID: dealID, FolderType: folderType, FolderID: set}); err != nil {
				return eris.Wrap(err, "cache folder")
			}
		}
		entry, err := st.GetFolder(ctx, dealID, folderType)
		if err != nil {
			return eris.Wrap(err, "cache folder")
		}
		if entry == nil {
			return eris.Errorf("cache folder: no folder cached for deal %s (%s)", dealID, folderType)
		}
		return writeOutput(cmd.OutOrStdout(), format, entry)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the cache tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	cacheFolderCmd.Flags().String("deal", "", "CRM deal id")
	cacheFolderCmd.Flags().String("type", "", "folder type")
	cacheFolderCmd.Flags().String("set", "", "folder id to store before reading")
	cacheFolderCmd.Flags().String("format", "json", "output format: json or yaml")

	cacheCmd.AddCommand(cachePruneCmd, cacheFolderCmd)
	rootCmd.AddCommand(cacheCmd, migrateCmd)
}
