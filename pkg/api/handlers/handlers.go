// Package handlers implements the request handlers of the watermark API
package handlers

import (
	"time"

	"github.com/ethpandaops/medallion/pkg/watermark"
	"github.com/sirupsen/logrus"
)

// Watermark is the JSON form of a watermark record
type Watermark struct {
	Stage          string    `json:"stage"`
	Dataset        string    `json:"dataset"`
	Kind           string    `json:"kind"`
	MaxValue       string    `json:"max_value"`
	RecordsLoaded  int64     `json:"records_loaded"`
	ProcessingTime time.Time `json:"processing_time"`
}

// WatermarksResponse lists watermarks
type WatermarksResponse struct {
	Watermarks []Watermark `json:"watermarks"`
	Total      int         `json:"total"`
}

// DatasetsResponse lists the pipeline's datasets and stages
type DatasetsResponse struct {
	Datasets []string `json:"datasets"`
	Stages   []string `json:"stages"`
}

// Server holds the state behind the API handlers
type Server struct {
	stores   map[string]watermark.Reader
	stages   []string
	datasets []string
	log      logrus.FieldLogger
}

// NewServer creates a new API server instance over the watermark stores,
// one per watermarked stage
func NewServer(stores []watermark.Reader, datasets []string, log logrus.FieldLogger) *Server {
	s := &Server{
		stores:   make(map[string]watermark.Reader, len(stores)),
		stages:   make([]string, 0, len(stores)),
		datasets: datasets,
		log:      log.WithField("component", "api.handlers"),
	}

	for _, store := range stores {
		s.stores[store.Stage()] = store
		s.stages = append(s.stages, store.Stage())
	}

	return s
}

func newWatermark(stage string, rec watermark.Record) Watermark {
	return Watermark{
		Stage:          stage,
		Dataset:        rec.Dataset,
		Kind:           rec.MaxValue.Kind().String(),
		MaxValue:       rec.MaxValue.String(),
		RecordsLoaded:  rec.RecordsLoaded,
		ProcessingTime: rec.ProcessingTime,
	}
}
