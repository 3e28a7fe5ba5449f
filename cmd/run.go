package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// newRunCmd creates the 'run' subcommand, which executes one harvest job and
// prints its report.
func newRunCmd() *cobra.Command {
	var in crawler.JobInput
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest job for a topic",
		Long: `Runs the sources registered for a topic in batches, stores qualifying
articles and prints the job report as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, in)
		},
	}
	cmd.Flags().StringVar(&in.TopicID, "topic", "", "topic id to harvest (required)")
	cmd.Flags().StringSliceVar(&in.SourceIDs, "sources", nil, "restrict the job to these source ids")
	cmd.Flags().BoolVar(&in.ForceRescrape, "force", false, "ignore scrape frequency")
	cmd.Flags().IntVar(&in.MaxSources, "max-sources", 0, "run at most this many sources")
	cmd.Flags().IntVar(&in.MaxAgeDays, "max-age-days", 0, "override the topic's article age limit")
	cmd.Flags().IntVar(&in.BatchSize, "batch-size", 0, "sources processed in parallel")
	cmd.Flags().BoolVar(&in.FastMode, "fast", false, "shorter per-source timeout")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runJob(cmd *cobra.Command, in crawler.JobInput) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	report, err := appInstance.Scheduler.Run(cmd.Context(), in)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger.Warn("job interrupted", zap.String("topic_id", in.TopicID))
		}
		return fmt.Errorf("run job: %w", err)
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.Status == crawler.JobStatusFailed {
		return fmt.Errorf("job %s failed: no source succeeded", report.JobID)
	}
	return nil
}
