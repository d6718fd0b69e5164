// Package dataset cleans, types and encodes the pipeline's datasets
package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"
)

// Row gives access to one projected input row by canonical column name
type Row struct {
	index  map[string]int
	values []pgtype.Text
}

// Get returns the cell of column, null when the column is absent
func (r Row) Get(column string) pgtype.Text {
	i, ok := r.index[column]
	if !ok || i >= len(r.values) {
		return pgtype.Text{}
	}

	return r.values[i]
}

// Spec describes how one dataset is cleaned, typed and encoded
type Spec[T any] struct {
	Name string
	// Columns are the canonical output columns, in order
	Columns []string
	// Required columns must be present in the input and non-blank in a row
	Required []string
	// Clean rewrites present values of a column before validation
	Clean map[string]func(string) string
	// Coerce types a cleaned row; an error drops the row as invalid
	Coerce func(Row) (T, error)
	// Encode formats a record as tier fields, in Columns order
	Encode func(T) []string
	// Values returns a record as warehouse column values, in Columns order
	Values func(T) []any
	// Key is the record's natural key
	Key func(T) string
	// Less orders records deterministically
	Less func(a, b T) bool
	// EventTime is set for fact datasets partitioned by time
	EventTime func(T) time.Time
}

// Report counts what normalization did to one input. Everything in it is a
// data quality warning; none of it fails the run.
type Report struct {
	Dataset         string
	Read            int
	Ragged          int
	MissingRequired int
	Invalid         int
	Duplicates      int
	Cleaned         int
	ExtraColumns    []string
	MissingColumns  []string
	// NullValues counts nulls per column in the cleaned output
	NullValues map[string]int
	// Coerced counts present values that could not be typed and became null
	Coerced map[string]int
}

// Dropped returns the number of input rows not in the cleaned output
func (r *Report) Dropped() int {
	return r.MissingRequired + r.Invalid + r.Duplicates
}

// Log writes the report, at warn level when anything was dropped or nulled
func (r *Report) Log(log logrus.FieldLogger) {
	fields := logrus.Fields{
		"dataset":          r.Dataset,
		"read":             r.Read,
		"cleaned":          r.Cleaned,
		"missing_required": r.MissingRequired,
		"invalid":          r.Invalid,
		"duplicates":       r.Duplicates,
	}

	if len(r.ExtraColumns) > 0 {
		log.WithFields(fields).WithField("columns", r.ExtraColumns).Warn("Extra columns ignored")
	}

	if len(r.MissingColumns) > 0 {
		log.WithFields(fields).WithField("columns", r.MissingColumns).Warn("Optional columns missing, filled with nulls")
	}

	if r.Ragged > 0 {
		log.WithFields(fields).WithField("ragged", r.Ragged).Warn("Rows with unexpected field count")
	}

	for column, n := range r.Coerced {
		log.WithFields(fields).WithFields(logrus.Fields{
			"column": column,
			"count":  n,
		}).Warn("Unparseable values replaced with null")
	}

	nulls := 0
	for _, n := range r.NullValues {
		nulls += n
	}

	if nulls > 0 {
		log.WithFields(fields).WithField("nulls", r.NullValues).Warn("Null values in cleaned output")
	}

	if r.Dropped() > 0 {
		log.WithFields(fields).Warn("Dropped rows during normalization")

		return
	}

	log.WithFields(fields).Info("Normalized dataset")
}

// Record exports the report's counters as metrics
func (r *Report) Record(stage string) {
	observability.RecordRows(stage, r.Dataset, r.Read, r.Cleaned)
	observability.RecordDropped(r.Dataset, "missing_required", r.MissingRequired)
	observability.RecordDropped(r.Dataset, "invalid", r.Invalid)
	observability.RecordDropped(r.Dataset, "duplicate", r.Duplicates)
}

// Result is the cleaned output of Normalize
type Result[T any] struct {
	Records []T
	Report  *Report
}

// Normalize turns a raw table into cleaned, typed, deduplicated records.
// Columns are canonicalized first; a required column missing from the header
// is a SchemaError. Rows missing a required value, duplicating an earlier row
// after cleaning, or failing coercion are dropped and counted.
func Normalize[T any](spec Spec[T], table *Table) (*Result[T], error) {
	report := &Report{
		Dataset:    spec.Name,
		Read:       len(table.Rows),
		Ragged:     table.Ragged,
		NullValues: make(map[string]int),
		Coerced:    make(map[string]int),
	}

	source := make(map[string]int, len(table.Columns))
	for i, name := range table.Columns {
		canonical := CanonicalColumn(name)
		if _, dup := source[canonical]; !dup {
			source[canonical] = i
		}
	}

	var missing []string

	for _, column := range spec.Required {
		if _, ok := source[column]; !ok {
			missing = append(missing, column)
		}
	}

	if len(missing) > 0 {
		return nil, &SchemaError{Dataset: spec.Name, Missing: missing}
	}

	known := make(map[string]int, len(spec.Columns))
	for i, column := range spec.Columns {
		known[column] = i

		if _, ok := source[column]; !ok {
			report.MissingColumns = append(report.MissingColumns, column)
		}
	}

	for _, name := range table.Columns {
		if _, ok := known[CanonicalColumn(name)]; !ok {
			report.ExtraColumns = append(report.ExtraColumns, CanonicalColumn(name))
		}
	}

	seen := make(map[string]struct{}, len(table.Rows))
	out := &Result[T]{Report: report}

	for _, raw := range table.Rows {
		values := project(spec, source, raw)

		if !hasRequired(spec, known, values) {
			report.MissingRequired++

			continue
		}

		fingerprint := rowFingerprint(values)
		if _, dup := seen[fingerprint]; dup {
			report.Duplicates++

			continue
		}

		seen[fingerprint] = struct{}{}

		rec, err := spec.Coerce(Row{index: known, values: values})
		if err != nil {
			report.Invalid++

			continue
		}

		for i, field := range spec.Encode(rec) {
			if field != NullToken {
				continue
			}

			column := spec.Columns[i]
			report.NullValues[column]++

			if values[i].Valid {
				report.Coerced[column]++
			}
		}

		out.Records = append(out.Records, rec)
	}

	report.Cleaned = len(out.Records)

	return out, nil
}

// project picks the spec's columns out of a raw row and applies the cleaning
// rules to present values
func project[T any](spec Spec[T], source map[string]int, raw []pgtype.Text) []pgtype.Text {
	values := make([]pgtype.Text, len(spec.Columns))

	for i, column := range spec.Columns {
		j, ok := source[column]
		if !ok || j >= len(raw) || !raw[j].Valid {
			continue
		}

		v := raw[j].String
		if clean, ok := spec.Clean[column]; ok {
			v = clean(v)
		}

		values[i] = pgtype.Text{String: v, Valid: true}
	}

	return values
}

func hasRequired[T any](spec Spec[T], known map[string]int, values []pgtype.Text) bool {
	for _, column := range spec.Required {
		v := values[known[column]]
		if !v.Valid || strings.TrimSpace(v.String) == "" {
			return false
		}
	}

	return true
}

func rowFingerprint(values []pgtype.Text) string {
	var b strings.Builder

	for _, v := range values {
		if v.Valid {
			b.WriteByte('v')
			b.WriteString(v.String)
		} else {
			b.WriteByte('n')
		}

		b.WriteByte(0x1f)
	}

	return b.String()
}

// Marshal encodes records as a tier object with a header and NullToken nulls
func Marshal[T any](spec Spec[T], records []T) ([]byte, error) {
	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = spec.Encode(rec)
	}

	return WriteCSV(spec.Columns, rows)
}

// Unmarshal decodes a tier object written by Marshal. Tier objects are
// already clean, so any row that fails coercion is an error.
func Unmarshal[T any](spec Spec[T], data []byte) ([]T, error) {
	table, err := ReadCSV(data, TierNulls)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	if len(table.Columns) == 0 {
		return nil, nil
	}

	source := make(map[string]int, len(table.Columns))
	for i, name := range table.Columns {
		source[CanonicalColumn(name)] = i
	}

	var missing []string

	known := make(map[string]int, len(spec.Columns))
	for i, column := range spec.Columns {
		known[column] = i

		if _, ok := source[column]; !ok {
			missing = append(missing, column)
		}
	}

	if len(missing) > 0 {
		return nil, &SchemaError{Dataset: spec.Name, Missing: missing}
	}

	records := make([]T, 0, len(table.Rows))

	for n, raw := range table.Rows {
		values := make([]pgtype.Text, len(spec.Columns))
		for i, column := range spec.Columns {
			if j := source[column]; j < len(raw) {
				values[i] = raw[j]
			}
		}

		rec, err := spec.Coerce(Row{index: known, values: values})
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", spec.Name, n+2, err)
		}

		records = append(records, rec)
	}

	return records, nil
}

// Sort orders records in place by the spec's ordering, keeping input order
// among equal records
func Sort[T any](spec Spec[T], records []T) {
	sort.SliceStable(records, func(i, j int) bool {
		return spec.Less(records[i], records[j])
	})
}

// Rows converts records to warehouse column values
func Rows[T any](spec Spec[T], records []T) [][]any {
	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = spec.Values(rec)
	}

	return rows
}
