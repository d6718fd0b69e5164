package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethpandaops/medallion/pkg/pipeline"
	"github.com/ethpandaops/medallion/pkg/window"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ErrIntervalRequired is returned when run gets neither an interval nor a logical date
var ErrIntervalRequired = errors.New("either --start and --end or --logical-date is required")

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	runStages      []string
	runDatasets    []string
	runStart       string
	runEnd         string
	runLogicalDate string
)

// runCmd represents the run command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pipeline stages for one data interval",
	Long: `Run executes the bronze, silver and gold stages for the given datasets over
one data interval. The interval is given explicitly or derived from the
configured schedule and a logical date, the way the external scheduler
names its runs. An interval ending at or before the pipeline start is the
initial backfill.

Examples:
  # Initial backfill of every stage and dataset
  medallion run --start 1997-09-21T00:00:00Z --end 1997-09-28T00:00:00Z

  # The scheduled week starting 1997-10-05
  medallion run --logical-date 1997-10-05T00:00:00Z

  # Only reload ratings into the warehouse
  medallion run --stage gold --dataset ratings --logical-date 1997-10-05T00:00:00Z`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runStages, "stage", nil, "stages to run (bronze, silver, gold); all when omitted")
	runCmd.Flags().StringSliceVar(&runDatasets, "dataset", nil, "datasets to run (users, movies, ratings); all when omitted")
	runCmd.Flags().StringVar(&runStart, "start", "", "interval start (RFC3339)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "interval end (RFC3339)")
	runCmd.Flags().StringVar(&runLogicalDate, "logical-date", "", "logical date of a scheduled run (RFC3339)")

	runCmd.MarkFlagsRequiredTogether("start", "end")
	runCmd.MarkFlagsMutuallyExclusive("start", "logical-date")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	svc, cfg, err := loadEngine(cmd)
	if err != nil {
		return err
	}

	start, end, err := resolveInterval(cfg.Pipeline.Schedule, runStart, runEnd, runLogicalDate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if stopErr := svc.Stop(); stopErr != nil {
			logger.WithError(stopErr).Error("Failed to stop engine")
		}
	}()

	report, err := svc.Run(ctx, pipeline.Request{
		Stages:        runStages,
		Datasets:      runDatasets,
		IntervalStart: start,
		IntervalEnd:   end,
	})
	if report != nil {
		printReport(report)
	}

	return err
}

// resolveInterval picks the explicit interval or derives it from the schedule
func resolveInterval(schedule, start, end, logical string) (time.Time, time.Time, error) {
	if logical != "" {
		at, err := time.Parse(time.RFC3339, logical)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --logical-date: %w", err)
		}

		return window.FromSchedule(schedule, at)
	}

	if start == "" || end == "" {
		return time.Time{}, time.Time{}, ErrIntervalRequired
	}

	from, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}

	to, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
	}

	return from, to, nil
}

func printReport(report *pipeline.Report) {
	fmt.Fprintf(os.Stdout, "Run %s over %s\n", report.RunID, report.Window)

	for _, o := range report.Outcomes {
		line := fmt.Sprintf("  %-6s %-8s %-8s read=%d written=%d", o.Stage, o.Dataset, o.Status, o.Read, o.Written)

		if o.Watermark != "" {
			line += " watermark=" + o.Watermark
		}

		if o.Err != nil {
			line += " error=" + o.Err.Error()
		}

		fmt.Fprintln(os.Stdout, line)
	}

	if failed := report.Failed(); len(failed) > 0 {
		logger.WithFields(logrus.Fields{
			"run_id": report.RunID,
			"failed": len(failed),
		}).Error("Run finished with failed datasets")
	}
}
