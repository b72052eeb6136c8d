package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/treesync/internal/config"
	"github.com/agentic-research/treesync/internal/server"
)

var settingsJSON string

func init() {
	config.RegisterFlags(serveCmd.Flags())
	serveCmd.Flags().StringVar(&settingsJSON, "settings", "", "settings as a JSON object, overridden by flags and environment")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the instance tree over stdin/stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags(), settingsJSON)
		if err != nil {
			return err
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}
		slog.Info("starting server",
			"sourcemap", cfg.SourcemapFile,
			"project", cfg.RojoProjectFile,
			"autogenerate", cfg.Autogenerate,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.Run(ctx, server.Options{
			Config: cfg,
			FS:     osfs.New("/"),
			In:     os.Stdin,
			Out:    os.Stdout,
		})
	},
}
