// Package cmd defines the linkcrawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/config"
	"github.com/JakeFAU/linkcrawler/internal/logging"
)

// errBrokenResources marks a crawl that succeeded but found broken resources.
var errBrokenResources = errors.New("broken resources found")

// cliState carries the viper instance and the loaded settings from the root
// command's pre-run hook to the subcommands.
type cliState struct {
	cfgFile  string
	logLevel string
	v        *viper.Viper
	cfg      config.Config
	logger   *zap.Logger
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	state := &cliState{v: config.NewViper()}
	cmd := &cobra.Command{
		Use:   "linkcrawler",
		Short: "Finds broken links and resources on a website.",
		Long: `linkcrawler walks a site breadth-first from a base URL, checks every
link, image, script, and stylesheet it references, and reports the ones
that fail. It runs one-shot from the command line or as an HTTP service.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(*cobra.Command, []string) error {
			return state.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "",
		"config file (default is ./linkcrawler.yaml or $HOME/.linkcrawler/linkcrawler.yaml)")
	cmd.PersistentFlags().StringVar(&state.logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")
	_ = state.v.BindPFlag("logging.development", cmd.PersistentFlags().Lookup("dev"))

	cmd.AddCommand(newCrawlCmd(state))
	cmd.AddCommand(newServeCmd(state))
	return cmd
}

func (s *cliState) load() error {
	if s.cfgFile == "" {
		s.v.SetConfigName("linkcrawler")
		s.v.AddConfigPath(".")
		s.v.AddConfigPath("$HOME/.linkcrawler")
		if err := s.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}
	cfg, err := config.Load(s.v, s.cfgFile)
	if err != nil {
		return err
	}
	s.cfg = cfg

	logger, err := logging.NewWithLevel(cfg.Logging.Development, s.logLevel)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	s.logger = logger
	zap.ReplaceGlobals(logger)
	return nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errBrokenResources):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
