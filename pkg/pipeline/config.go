// Package pipeline runs the bronze, silver and gold stages over the movie,
// user and rating datasets
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/robfig/cron/v3"
)

// Define static errors
var (
	// ErrInvalidPipelineStart is returned when pipelineStart is not a timestamp
	ErrInvalidPipelineStart = errors.New("pipelineStart must be an RFC3339 timestamp")
	// ErrInvalidLookback is returned for a negative lookback
	ErrInvalidLookback = errors.New("lookbackMonths must not be negative")
	// ErrUnknownSource is returned for a source configured for an unknown dataset
	ErrUnknownSource = errors.New("source configured for unknown dataset")
)

// Config holds the pipeline settings
type Config struct {
	// PipelineStart is the cutoff of the initial backfill
	PipelineStart string `yaml:"pipelineStart" default:"1997-09-28T00:00:00Z"`
	// Schedule is the cron spec the external scheduler triggers runs on
	Schedule string `yaml:"schedule" default:"@weekly"`
	// LookbackMonths is how many months before the pipeline start a backfill
	// of the gold tier reads
	LookbackMonths int           `yaml:"lookbackMonths" default:"2"`
	WatermarkKey   string        `yaml:"watermarkKey" default:"watermarks/watermarks.csv"`
	LockTTL        time.Duration `yaml:"lockTTL" default:"30m"`
	FetchTimeout   time.Duration `yaml:"fetchTimeout" default:"5m"`
	// Sources maps dataset names to the URL or path of their extract
	Sources map[string]string `yaml:"sources"`

	start time.Time
}

// Validate checks the configuration and parses the pipeline start
func (c *Config) Validate() error {
	start, err := time.Parse(time.RFC3339, c.PipelineStart)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPipelineStart, c.PipelineStart)
	}

	c.start = start.UTC()

	if c.LookbackMonths < 0 {
		return ErrInvalidLookback
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}

	for name := range c.Sources {
		if !isDataset(name) {
			return fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
	}

	return nil
}

// Start returns the parsed pipeline start; Validate must have been called
func (c *Config) Start() time.Time {
	return c.start
}

func isDataset(name string) bool {
	switch name {
	case dataset.NameUsers, dataset.NameMovies, dataset.NameRatings:
		return true
	default:
		return false
	}
}
