// Package partition maintains the monthly partition objects and dimension
// snapshots of the silver tier
package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ObjectKey returns the object key of a dataset's monthly partition
func ObjectKey(datasetName, label string) string {
	return fmt.Sprintf("%s/%s.csv", datasetName, label)
}

// SnapshotKey returns the object key of a dataset's full snapshot
func SnapshotKey(datasetName string) string {
	return datasetName + ".csv"
}

// Merge combines the records already in a partition with incoming ones. For
// records sharing a natural key the newest occurrence wins, incoming records
// being newer than existing ones. The result is sorted by the spec's order.
func Merge[T any](spec dataset.Spec[T], existing, incoming []T) []T {
	merged := make([]T, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for _, batch := range [][]T{existing, incoming} {
		for _, rec := range batch {
			key := spec.Key(rec)

			if i, ok := index[key]; ok {
				merged[i] = rec

				continue
			}

			index[key] = len(merged)
			merged = append(merged, rec)
		}
	}

	dataset.Sort(spec, merged)

	return merged
}

// Result describes one partition object after a write
type Result struct {
	Label    string
	Key      string
	Existing int
	Incoming int
	Total    int
}

// Writer reads and overwrites the partitions of one dataset
type Writer[T any] struct {
	log    logrus.FieldLogger
	client storage.ClientInterface
	bucket string
	spec   dataset.Spec[T]
}

// NewWriter creates a partition writer for spec's dataset in bucket
func NewWriter[T any](log logrus.FieldLogger, client storage.ClientInterface, bucket string, spec dataset.Spec[T]) *Writer[T] {
	return &Writer[T]{
		log: log.WithFields(logrus.Fields{
			"component": "partition-writer",
			"dataset":   spec.Name,
		}),
		client: client,
		bucket: bucket,
		spec:   spec,
	}
}

// Read returns the records of one partition; a missing partition is empty
func (w *Writer[T]) Read(ctx context.Context, label string) ([]T, error) {
	return w.read(ctx, ObjectKey(w.spec.Name, label))
}

// ReadScope returns the records of every listed partition, in label order
func (w *Writer[T]) ReadScope(ctx context.Context, labels []string) ([]T, error) {
	var out []T

	for _, label := range labels {
		records, err := w.Read(ctx, label)
		if err != nil {
			return nil, err
		}

		out = append(out, records...)
	}

	return out, nil
}

// Write merges each batch into its partition and overwrites the object.
// Partitions are written in label order and the first failure stops the
// write; partitions already written stay consistent since each overwrite is
// idempotent.
func (w *Writer[T]) Write(ctx context.Context, parts map[string][]T) ([]Result, error) {
	labels := make([]string, 0, len(parts))
	for label := range parts {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	results := make([]Result, 0, len(labels))

	for _, label := range labels {
		res, err := w.writePartition(ctx, label, parts[label])
		if err != nil {
			return results, err
		}

		results = append(results, res)
	}

	return results, nil
}

func (w *Writer[T]) writePartition(ctx context.Context, label string, incoming []T) (Result, error) {
	key := ObjectKey(w.spec.Name, label)

	existing, err := w.read(ctx, key)
	if err != nil {
		return Result{}, err
	}

	merged := Merge(w.spec, existing, incoming)

	if err := w.put(ctx, key, merged); err != nil {
		return Result{}, err
	}

	res := Result{
		Label:    label,
		Key:      key,
		Existing: len(existing),
		Incoming: len(incoming),
		Total:    len(merged),
	}

	w.log.WithFields(logrus.Fields{
		"partition": label,
		"existing":  res.Existing,
		"incoming":  res.Incoming,
		"total":     res.Total,
	}).Info("Wrote partition")

	return res, nil
}

// ReadSnapshot returns the dataset's snapshot; a missing snapshot is empty
func (w *Writer[T]) ReadSnapshot(ctx context.Context) ([]T, error) {
	return w.read(ctx, SnapshotKey(w.spec.Name))
}

// WriteSnapshot overwrites the dataset's snapshot with records, sorted
func (w *Writer[T]) WriteSnapshot(ctx context.Context, records []T) error {
	sorted := Merge(w.spec, nil, records)

	if err := w.put(ctx, SnapshotKey(w.spec.Name), sorted); err != nil {
		return err
	}

	w.log.WithField("records", len(sorted)).Info("Wrote snapshot")

	return nil
}

func (w *Writer[T]) read(ctx context.Context, key string) ([]T, error) {
	data, err := w.client.Get(ctx, w.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	records, err := dataset.Unmarshal(w.spec, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	return records, nil
}

func (w *Writer[T]) put(ctx context.Context, key string, records []T) error {
	start := time.Now()

	data, err := dataset.Marshal(w.spec, records)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if err := w.client.Put(ctx, w.bucket, key, data, storage.ContentTypeCSV); err != nil {
		observability.RecordError("partition", "write")

		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	w.log.WithFields(logrus.Fields{
		"key":      key,
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Debug("Put object")

	return nil
}
