package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodb/autodb/internal/manager"
)

var inspectSchemaCmd = &cobra.Command{
	Use:   "inspect-schema",
	Short: "Print the derived schema for the notes table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspectSchema()
	},
}

func init() {
	rootCmd.AddCommand(inspectSchemaCmd)
}

func runInspectSchema() error {
	cfg := loadConfig()
	mgr := manager.New(cfg)

	ctx := context.Background()
	_, info, err := manager.ActorFor(ctx, mgr, newNote)
	if err != nil {
		return fmt.Errorf("inspect-schema: %w", err)
	}

	fmt.Printf("table: %s (settings_key=%s)\n", info.Name, info.SettingsKey)
	for _, col := range info.Columns {
		fmt.Printf("  %-20s %s\n", col.Name, col.SQLKind)
	}
	for _, idx := range info.Indexes {
		fmt.Printf("  index: %v\n", idx.Columns)
	}
	for _, idx := range info.UniqueIndexes {
		fmt.Printf("  unique index: %v\n", idx.Columns)
	}
	return nil
}
