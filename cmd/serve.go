package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkcrawler/internal/server"
)

// newServeCmd creates the command that runs the HTTP crawl service.
func newServeCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawl service",
		Long: `Serves the HTTP API for submitting crawls and reading their reports.
Crawls run on a bounded pool of executors until the process receives
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := server.Build(cmd.Context(), state.cfg, state.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().Int("executors", 2, "crawls executed concurrently")
	_ = state.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = state.v.BindPFlag("service.executors", cmd.Flags().Lookup("executors"))
	return cmd
}
