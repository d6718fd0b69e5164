package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var watermarksCmd = &cobra.Command{
	Use:   "watermarks",
	Short: "List the current watermark of every stage and dataset",
	RunE:  runWatermarks,
}

func init() {
	rootCmd.AddCommand(watermarksCmd)
}

func runWatermarks(cmd *cobra.Command, _ []string) error {
	svc, _, err := loadEngine(cmd)
	if err != nil {
		return err
	}

	defer func() {
		if stopErr := svc.Stop(); stopErr != nil {
			logger.WithError(stopErr).Error("Failed to stop engine")
		}
	}()

	stages, err := svc.Watermarks(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tDATASET\tMAX VALUE\tRECORDS\tPROCESSED")

	for _, stage := range stages {
		for _, rec := range stage.Records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", stage.Stage, rec.Dataset, rec.MaxValue, rec.RecordsLoaded, rec.ProcessingTime.Format(time.RFC3339))
		}
	}

	return w.Flush()
}
