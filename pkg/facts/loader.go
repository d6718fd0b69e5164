// Package facts loads fact batches into monthly partitioned warehouse tables
package facts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	// ErrInvalidFact is returned for a fact definition that cannot be loaded
	ErrInvalidFact = errors.New("invalid fact")
	// ErrTimeValue is returned when a row's time column is not a time
	ErrTimeValue = errors.New("fact time column is not a timestamp")
)

// Fact describes a partitioned fact table
type Fact struct {
	Name    string
	Target  warehouse.Table
	Staging warehouse.Table
	Columns []string
	// Key is the natural key upserts conflict on
	Key []string
	// Mutable columns are overwritten when a key already exists
	Mutable []string
	// TimeColumn is the partitioning column
	TimeColumn string
}

// Validate checks that the fact's columns are consistent
func (f *Fact) Validate() error {
	if f.Name == "" || len(f.Columns) == 0 || len(f.Key) == 0 {
		return fmt.Errorf("%w: name, columns and key are required", ErrInvalidFact)
	}

	for _, c := range append(append([]string{f.TimeColumn}, f.Key...), f.Mutable...) {
		if !slices.Contains(f.Columns, c) {
			return fmt.Errorf("%w: %s column %q is not loaded", ErrInvalidFact, f.Name, c)
		}
	}

	return nil
}

// Result describes one load
type Result struct {
	Fact       string
	Staged     int64
	Upserted   int64
	Partitions []string
}

// Loader upserts fact batches through a staging table
type Loader struct {
	log      logrus.FieldLogger
	client   warehouse.ClientInterface
	renderer *warehouse.Renderer
}

// NewLoader creates a fact loader writing through client
func NewLoader(log logrus.FieldLogger, client warehouse.ClientInterface, renderer *warehouse.Renderer) *Loader {
	return &Loader{
		log:      log.WithField("component", "fact-loader"),
		client:   client,
		renderer: renderer,
	}
}

// Load stages rows, given in fact.Columns order, ensures a partition for
// every month they cover and upserts them into the target, all in one
// transaction. An empty batch touches nothing.
func (l *Loader) Load(ctx context.Context, fact Fact, rows [][]any) (*Result, error) {
	if err := fact.Validate(); err != nil {
		return nil, err
	}

	out := &Result{Fact: fact.Name}

	log := l.log.WithField("fact", fact.Name)

	if len(rows) == 0 {
		log.Info("Empty batch, nothing to load")

		return out, nil
	}

	months, err := l.months(&fact, rows)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	err = l.client.InTx(ctx, func(tx warehouse.Tx) error {
		if err := l.truncate(ctx, tx, fact.Staging); err != nil {
			return err
		}

		staged, err := tx.CopyFrom(ctx, fact.Staging, fact.Columns, rows)
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", fact.Name, err)
		}

		out.Staged = staged

		for _, month := range months {
			partition, sql, err := l.renderer.EnsureMonthlyPartition(fact.Target, month)
			if err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, sql); err != nil {
				return fmt.Errorf("failed to ensure partition %s: %w", partition, err)
			}

			out.Partitions = append(out.Partitions, partition.Name)
		}

		sql, err := l.renderer.Upsert(warehouse.UpsertParams{
			Target:  fact.Target,
			Source:  fact.Staging,
			Columns: fact.Columns,
			Key:     fact.Key,
			Mutable: fact.Mutable,
		})
		if err != nil {
			return err
		}

		upserted, err := tx.Exec(ctx, sql)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", fact.Name, err)
		}

		out.Upserted = upserted

		return l.truncate(ctx, tx, fact.Staging)
	})
	if err != nil {
		observability.RecordError("fact-loader", fact.Name)

		return nil, fmt.Errorf("failed to load %s: %w", fact.Name, err)
	}

	log.WithFields(logrus.Fields{
		"staged":     out.Staged,
		"upserted":   out.Upserted,
		"partitions": out.Partitions,
		"duration":   time.Since(start),
	}).Info("Loaded facts")

	return out, nil
}

func (l *Loader) truncate(ctx context.Context, tx warehouse.Tx, table warehouse.Table) error {
	sql, err := l.renderer.Truncate(table)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}

	return nil
}

// months returns the distinct calendar months of the time column, ascending
func (l *Loader) months(fact *Fact, rows [][]any) ([]time.Time, error) {
	pos := slices.Index(fact.Columns, fact.TimeColumn)
	seen := make(map[time.Time]struct{})

	for i, row := range rows {
		if pos >= len(row) {
			return nil, fmt.Errorf("%w: %s row %d is short", ErrTimeValue, fact.Name, i)
		}

		t, ok := row[pos].(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %s row %d has %T", ErrTimeValue, fact.Name, i, row[pos])
		}

		t = t.UTC()
		seen[time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)] = struct{}{}
	}

	months := make([]time.Time, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}

	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	return months, nil
}
