package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/app"
	"github.com/JakeFAU/quote-crawler/internal/config"
	"github.com/JakeFAU/quote-crawler/internal/logging"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl and prints
// its summary as JSON.
func newCrawlCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and print its summary",
		Long: `Plans the configured topics, author, and start URLs, crawls them until the
pages run out or maxItems records were saved, and prints the run summary.`,
	}
	fs := cmd.Flags()
	keys := addInputFlags(fs)
	fs.Bool("prefer-api", true, "try the JSON endpoint before HTML for topic pages")
	fs.Bool("headless", false, "render markup pages with headless Chrome")
	fs.Int("concurrency", 1, "page sequences crawled in parallel")
	fs.StringSlice("sink", nil, "record sinks: memory, jsonl, gcs, postgres, pubsub")
	fs.String("output", "", "jsonl sink output path")
	fs.String("metrics-addr", "", "serve /metrics and /v1/progress on this address during the crawl")
	keys["input.preferApi"] = "prefer-api"
	keys["headless.enabled"] = "headless"
	keys["crawler.concurrency"] = "concurrency"
	keys["sink.kinds"] = "sink"
	keys["sink.jsonl.path"] = "output"
	keys["metrics.listen_addr"] = "metrics-addr"

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		return bindFlags(v, cmd.Flags(), keys)
	}
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runCrawl(cmd.Context(), v, opts, cmd.OutOrStdout())
	}
	return cmd
}

func runCrawl(ctx context.Context, v *viper.Viper, opts *rootOptions, out io.Writer) error {
	cfg, err := config.LoadWith(v, opts.configPath, opts.inputPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close failed", zap.Error(cerr))
		}
	}()

	summary, runErr := a.Run(ctx)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}
