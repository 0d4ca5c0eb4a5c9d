package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/quote-crawler/internal/config"
	"github.com/JakeFAU/quote-crawler/internal/planner"
	"github.com/JakeFAU/quote-crawler/internal/site"
)

type plannedTask struct {
	URL    string `json:"url"`
	Origin string `json:"origin"`
	Topic  string `json:"topic,omitempty"`
	Author string `json:"author,omitempty"`
	Page   int    `json:"page"`
}

// newPlanCmd creates the 'plan' subcommand, a dry run that prints the page
// tasks a crawl would visit, one JSON object per line.
func newPlanCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the pages a crawl would visit without fetching them",
	}
	keys := addInputFlags(cmd.Flags())
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		return bindFlags(v, cmd.Flags(), keys)
	}
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runPlan(v, opts, cmd.OutOrStdout())
	}
	return cmd
}

func runPlan(v *viper.Viper, opts *rootOptions, out io.Writer) error {
	cfg, err := config.LoadWith(v, opts.configPath, opts.inputPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	req, err := cfg.Request()
	if err != nil {
		return err
	}
	target, err := site.New(cfg.Site.BaseURL)
	if err != nil {
		return err
	}
	tasks, err := planner.New(target).Plan(req.Plan)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, task := range tasks {
		if err := enc.Encode(plannedTask{
			URL:    task.URL,
			Origin: string(task.Origin),
			Topic:  task.Topic,
			Author: task.Author,
			Page:   task.Page,
		}); err != nil {
			return fmt.Errorf("write task: %w", err)
		}
	}
	return nil
}
