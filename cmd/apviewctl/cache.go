package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"apview/internal/app"
	"apview/internal/config"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Cache maintenance"}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries and enforce the size cap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, closeFn, err := app.OpenCache(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := store.Cleanup(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print entry count and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, closeFn, err := app.OpenCache(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backend:  %s\nentries:  %d\nbytes:    %d\nmax:      %d\n",
				cfg.CacheBackend, st.Entries, st.Bytes, st.MaxBytes)
			return nil
		},
	}

	cacheCmd.AddCommand(cleanupCmd, statsCmd)
	return cacheCmd
}
