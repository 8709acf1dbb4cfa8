package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/asis/internal/config"
	"github.com/basket/asis/internal/persistence"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dest.db>",
		Short: "Write a consistent copy of the database (safe while the daemon runs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			store, err := persistence.Open(cfg.DBPath, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			okStyle.Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "backed up %s to %s\n", cfg.DBPath, args[0])
			return nil
		},
	}
}
