// Package cmd contains the CLI commands for medallion
package cmd

import (
	"fmt"
	"os"

	"github.com/ethpandaops/medallion/pkg/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile string
	logger  *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "medallion",
	Short: "Incremental bronze, silver and gold pipeline for movie ratings",
	Long: `Medallion lands the movie catalog, user registry and rating events in a
bronze bucket, cleans them into monthly silver partitions and loads them
into a Postgres gold warehouse. Every stage keeps a watermark so re-runs
only process what is new.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level overriding the config (debug, info, warn, error, fatal, panic)")

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "./config.yaml"
	}
}

// loadEngine reads the config file, applies the log level and builds the
// engine
func loadEngine(cmd *cobra.Command) (*engine.Service, *engine.Config, error) {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := engine.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logLevel := cfg.Logging
	if flag, flagErr := rootCmd.PersistentFlags().GetString("log-level"); flagErr == nil && flag != "" {
		logLevel = flag
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	svc, err := engine.NewService(logger, cfg)
	if err != nil {
		return nil, nil, err
	}

	return svc, cfg, nil
}
