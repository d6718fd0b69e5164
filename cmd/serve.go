package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the watermark status API and metrics",
	Long: `Serve exposes the watermark status API, the Prometheus metrics endpoint and
the optional health and pprof servers until interrupted. Pipeline runs are
triggered separately with the run command.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	svc, _, err := loadEngine(cmd)
	if err != nil {
		return err
	}

	if err := svc.Start(cmd.Context()); err != nil {
		return err
	}

	if err := svc.Serve(cmd.Context()); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	return svc.Stop()
}
