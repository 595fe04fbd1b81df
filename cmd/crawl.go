package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/checker"
	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/report"
)

// newCrawlCmd creates the one-shot crawl command.
func newCrawlCmd(state *cliState) *cobra.Command {
	var failOnBroken bool
	cmd := &cobra.Command{
		Use:   "crawl <base-url>",
		Short: "Crawls a site once and prints a broken-resource report",
		Long: `Crawls the site at base-url up to --depth levels of pages, checks every
referenced resource, and writes the report to stdout or --output. The
command exits with status 1 when broken resources are found unless
--fail-on-broken=false.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				state.cfg.Crawler.BaseURL = args[0]
			}
			return runCrawl(cmd, state, failOnBroken)
		},
	}

	flags := cmd.Flags()
	flags.Int("depth", checker.DefaultMaxDepth, "maximum crawl depth (0 checks only the base page)")
	flags.Int("workers", checker.DefaultMaxWorkers, "concurrent fetch workers")
	flags.Int("timeout", int(checker.DefaultTimeout.Seconds()), "per-request timeout in seconds")
	flags.Int("crawl-timeout", 0, "overall crawl timeout in seconds (0 disables)")
	flags.String("user-agent", checker.DefaultUserAgent, "User-Agent header")
	flags.String("username", "", "HTTP Basic auth username")
	flags.String("password", "", "HTTP Basic auth password")
	flags.Bool("include-subdomains", false, "treat subdomains of the base host as in scope")
	flags.StringSlice("allowed-host", nil, "additional in-scope host (repeatable)")
	flags.String("format", string(report.FormatText), "report format (text, json, csv, table)")
	flags.StringP("output", "o", "", "write the report to this file instead of stdout")
	flags.BoolVar(&failOnBroken, "fail-on-broken", true, "exit with status 1 when broken resources are found")

	for key, name := range map[string]string{
		"crawler.max_depth":             "depth",
		"crawler.max_workers":           "workers",
		"crawler.timeout_seconds":       "timeout",
		"crawler.crawl_timeout_seconds": "crawl-timeout",
		"crawler.user_agent":            "user-agent",
		"crawler.auth.username":         "username",
		"crawler.auth.password":         "password",
		"crawler.include_subdomains":    "include-subdomains",
		"crawler.allowed_hosts":         "allowed-host",
		"report.format":                 "format",
		"report.output":                 "output",
	} {
		_ = state.v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func runCrawl(cmd *cobra.Command, state *cliState, failOnBroken bool) error {
	cfg := state.cfg
	logger := state.logger
	if err := cfg.ValidateCrawl(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c, err := checker.New(cfg.CheckerConfig(), nil, nil, checker.WithLogger(logger.Named("checker")))
	if err != nil {
		return err
	}
	logger.Info("crawl starting",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.Int("max_depth", cfg.Crawler.MaxDepth),
		zap.Int("max_workers", cfg.Crawler.MaxWorkers),
	)
	_, crawlErr := c.Crawl(cmd.Context())
	result, err := c.Result()
	if err != nil {
		return errors.Join(crawlErr, err)
	}
	if err := writeReport(cmd.OutOrStdout(), cfg.Report.Output, cfg.ReportFormat(), result); err != nil {
		return err
	}
	logger.Info("crawl finished",
		zap.Int("broken", len(result.Broken)),
		zap.Int("urls_crawled", result.Stats.TotalURLsCrawled),
		zap.Bool("incomplete", result.Incomplete),
	)
	if crawlErr != nil {
		return crawlErr
	}
	if failOnBroken && len(result.Broken) > 0 {
		return errBrokenResources
	}
	return nil
}

func writeReport(stdout io.Writer, path string, format report.Format, result crawler.CrawlResult) error {
	if path == "" {
		return report.Write(stdout, format, result)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := report.Write(f, format, result); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	return nil
}
