package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	r "github.com/linkhop/linkhop/pkg/redis"
	"github.com/linkhop/linkhop/pkg/rollup"
)

// ErrWindowRequired is returned when a rerun is enqueued without a window
var ErrWindowRequired = errors.New("--start and --end are required to enqueue a rollup")

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	rerunType       string
	rerunStart      string
	rerunEnd        string
	rerunLinks      []int64
	rerunListFailed bool
	rerunRetryID    string
)

// rerunCmd represents the rerun command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rerunCmd = &cobra.Command{
	Use:   "rerun",
	Short: "Enqueue a rollup for a time window, or manage failed rollup jobs",
	Long: `Rerun enqueues an aggregation job for an explicit [start, end) window.
This is useful for backfilling stats after fixing issues or when click
data has been corrected. It can also list jobs whose retries are
exhausted and push one of them back onto the queue.

Examples:
  # Re-aggregate one day for every link
  linkhop rerun --type daily --start 2026-08-01T00:00:00Z --end 2026-08-02T00:00:00Z

  # Backfill a custom window for two links only
  linkhop rerun --start 2026-07-01T00:00:00Z --end 2026-08-01T00:00:00Z --links 42,77

  # Inspect failed jobs, then retry one
  linkhop rerun --list-failed
  linkhop rerun --retry <task-id>`,
	RunE: runRerun,
}

func init() {
	rootCmd.AddCommand(rerunCmd)

	rerunCmd.Flags().StringVar(&rerunType, "type", string(rollup.JobBackfill), "Job type (hourly, daily, weekly, monthly, backfill)")
	rerunCmd.Flags().StringVar(&rerunStart, "start", "", "Window start (RFC3339, inclusive)")
	rerunCmd.Flags().StringVar(&rerunEnd, "end", "", "Window end (RFC3339, exclusive)")
	rerunCmd.Flags().Int64SliceVar(&rerunLinks, "links", nil, "Restrict the rollup to these link IDs")
	rerunCmd.Flags().BoolVar(&rerunListFailed, "list-failed", false, "List failed rollup jobs instead of enqueueing")
	rerunCmd.Flags().StringVar(&rerunRetryID, "retry", "", "Re-run the failed job with this task ID")
}

func runRerun(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	// Load configuration
	cfg, err := LoadCLIConfig(cfgFile)
	if err != nil {
		return err
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return validationErr
	}

	redisOpt, err := r.NewAsynqOptions(&cfg.Redis)
	if err != nil {
		return err
	}

	queue, err := rollup.NewQueue(logger, redisOpt, &cfg.Redis, &cfg.Rollup)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close rollup queue")
		}
	}()

	ctx := context.Background()

	switch {
	case rerunListFailed:
		return listFailedJobs(ctx, cmd, queue)
	case rerunRetryID != "":
		if err := queue.RetryFailed(ctx, rerunRetryID); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", rerunRetryID)

		return nil
	default:
		return enqueueRollup(ctx, cmd, queue)
	}
}

func enqueueRollup(ctx context.Context, cmd *cobra.Command, queue rollup.Queue) error {
	if rerunStart == "" || rerunEnd == "" {
		return ErrWindowRequired
	}

	start, err := time.Parse(time.RFC3339, rerunStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}

	end, err := time.Parse(time.RFC3339, rerunEnd)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	job := &rollup.Job{
		Type:    rollup.JobType(rerunType),
		Start:   start,
		End:     end,
		LinkIDs: rerunLinks,
	}

	taskID, err := queue.Enqueue(ctx, job)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s\n", taskID)

	return nil
}

func listFailedJobs(ctx context.Context, cmd *cobra.Command, queue rollup.Queue) error {
	jobs, err := queue.FailedJobs(ctx)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No failed rollup jobs")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK ID\tTYPE\tWINDOW START\tWINDOW END\tRETRIED\tLAST FAILED\tLAST ERROR")

	for i := range jobs {
		j := &jobs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.TaskID,
			j.Job.Type,
			j.Job.Start.Format(time.RFC3339),
			j.Job.End.Format(time.RFC3339),
			j.Retried,
			j.MaxRetry,
			j.LastFailed.Format(time.RFC3339),
			j.LastError,
		)
	}

	return w.Flush()
}
