package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/autodb/autodb/internal/api"
	"github.com/autodb/autodb/internal/manager"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inspection REST API over the notes table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg := loadConfig()
	mgr := manager.New(cfg)

	ctx := context.Background()
	if _, _, err := manager.ActorFor(ctx, mgr, newNote); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	server := api.NewServer(mgr, cfg)

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("listening on %s:%d\n", cfg.RestAPI.Host, cfg.RestAPI.Port)
	return server.StartWithContext(sigCtx, 5*time.Second)
}
