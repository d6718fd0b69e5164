package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ObjectKey returns the bronze object key of a dataset
func ObjectKey(datasetName string) string {
	return datasetName + ".csv"
}

// Schema is what ingestion checks a source against
type Schema struct {
	Name     string
	Columns  []string
	Required []string
}

// SchemaOf returns the ingestion schema of a dataset spec
func SchemaOf[T any](spec dataset.Spec[T]) Schema {
	return Schema{Name: spec.Name, Columns: spec.Columns, Required: spec.Required}
}

// Summary describes one landed source
type Summary struct {
	Dataset string
	Key     string
	Rows    int
	Bytes   int
	// Nulls counts empty values per expected column
	Nulls map[string]int
}

// Ingester fetches sources and lands them verbatim in the bronze bucket
type Ingester struct {
	log     logrus.FieldLogger
	fetcher Fetcher
	client  storage.ClientInterface
	bucket  string
}

// NewIngester creates an ingester writing to bucket
func NewIngester(log logrus.FieldLogger, fetcher Fetcher, client storage.ClientInterface, bucket string) *Ingester {
	return &Ingester{
		log:     log.WithField("component", "ingest"),
		fetcher: fetcher,
		client:  client,
		bucket:  bucket,
	}
}

// Ingest fetches location, checks it carries the schema's required columns
// and stores it unchanged. A source missing a required column is a
// dataset.SchemaError and nothing is written.
func (i *Ingester) Ingest(ctx context.Context, schema Schema, location string) (*Summary, error) {
	log := i.log.WithField("dataset", schema.Name)
	start := time.Now()

	data, err := i.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", schema.Name, err)
	}

	table, err := dataset.ReadCSV(data, dataset.RawNulls)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", schema.Name, err)
	}

	summary, err := inspect(schema, table)
	if err != nil {
		return nil, err
	}

	summary.Key = ObjectKey(schema.Name)
	summary.Bytes = len(data)

	if err := i.client.Put(ctx, i.bucket, summary.Key, data, storage.ContentTypeCSV); err != nil {
		return nil, fmt.Errorf("failed to land %s: %w", schema.Name, err)
	}

	observability.RecordRows("bronze", schema.Name, summary.Rows, summary.Rows)

	for column, n := range summary.Nulls {
		if n > 0 {
			log.WithFields(logrus.Fields{
				"column": column,
				"nulls":  n,
			}).Warn("Null values in source")
		}
	}

	log.WithFields(logrus.Fields{
		"rows":     summary.Rows,
		"bytes":    summary.Bytes,
		"key":      summary.Key,
		"duration": time.Since(start),
	}).Info("Landed source")

	return summary, nil
}

func inspect(schema Schema, table *dataset.Table) (*Summary, error) {
	index := make(map[string]int, len(table.Columns))
	for i, name := range table.Columns {
		index[dataset.CanonicalColumn(name)] = i
	}

	var missing []string

	for _, column := range schema.Required {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}

	if len(missing) > 0 {
		return nil, &dataset.SchemaError{Dataset: schema.Name, Missing: missing}
	}

	summary := &Summary{
		Dataset: schema.Name,
		Rows:    len(table.Rows),
		Nulls:   make(map[string]int, len(schema.Columns)),
	}

	for _, column := range schema.Columns {
		j, ok := index[column]
		if !ok {
			continue
		}

		for _, row := range table.Rows {
			if !row[j].Valid {
				summary.Nulls[column]++
			}
		}
	}

	return summary, nil
}
