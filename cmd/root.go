// Package cmd defines the CLI commands for the quote-crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	inputPath  string
}

// newRootCmd creates and configures the root command. Each invocation gets its
// own viper instance so flags bound by one command never leak into another.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "quote-crawler",
		Short: "Crawl quote listings into structured records.",
		Long: `quote-crawler walks topic, author, and ad-hoc listing pages of a quote site,
preferring the site's JSON endpoint and falling back to HTML, and writes
deduplicated quote records to the configured sinks until maxItems is reached.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.inputPath, "input", "", "input file holding the crawl request (YAML or JSON)")

	cmd.AddCommand(newCrawlCmd(v, opts))
	cmd.AddCommand(newPlanCmd(v, opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bindFlags maps viper keys to flags of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// addInputFlags registers the crawl request flags shared by crawl and plan.
func addInputFlags(fs *pflag.FlagSet) map[string]string {
	fs.StringSlice("topic", nil, "topic to crawl; repeat or comma-separate for several")
	fs.String("author", "", "author whose listing pages are crawled after the topics")
	fs.StringSlice("start-url", nil, "extra listing URL crawled once; repeatable")
	fs.Int("max-pages", 5, "pages per topic and author")
	fs.Int("max-items", 200, "stop after this many records")
	fs.String("base-url", "", "quote site base URL")
	return map[string]string{
		"input.topic":     "topic",
		"input.author":    "author",
		"input.startUrls": "start-url",
		"input.maxPages":  "max-pages",
		"input.maxItems":  "max-items",
		"site.base_url":   "base-url",
	}
}
