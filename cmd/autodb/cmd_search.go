package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodb/autodb/internal/fts"
	"github.com/autodb/autodb/internal/manager"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <phrase>",
	Short: "Full-text search the notes table's Text column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(args[0])
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(phrase string) error {
	cfg := loadConfig()
	mgr := manager.New(cfg)
	ctx := context.Background()

	col := fts.NewColumn(mgr, newNote, "Text", 0, nil)
	results, err := col.Search(ctx, phrase, searchLimit, 0)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for _, m := range results {
		v := m.Value()
		fmt.Printf("%d: %s\n", m.ID(), v.Text)
	}
	fmt.Printf("%d result(s)\n", len(results))
	return nil
}
