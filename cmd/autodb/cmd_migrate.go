package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodb/autodb/internal/manager"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the notes table's schema",
	Long:  `Runs setup_db(Note), creating or migrating the notes table to match the current Go struct.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg := loadConfig()
	mgr := manager.New(cfg)

	ctx := context.Background()
	_, info, err := manager.ActorFor(ctx, mgr, newNote)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Printf("table %q is up to date (%d columns)\n", info.Name, len(info.Columns))
	return nil
}
